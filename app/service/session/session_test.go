package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"medvoice/app/service/flow"
	"medvoice/app/service/llm"
	"medvoice/app/service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []store.CallRecord
}

func (f *fakeRecorder) SaveCallRecord(_ context.Context, record store.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

type scriptedCompleter struct {
	turns []*llm.TurnResult
	calls int
}

func (f *scriptedCompleter) Turn(_ context.Context, _, _ []string, _ []llm.Message, _ []flow.FunctionSchema) (*llm.TurnResult, error) {
	if f.calls >= len(f.turns) {
		return &llm.TurnResult{Text: "Va bene."}, nil
	}
	turn := f.turns[f.calls]
	f.calls++
	return turn, nil
}

func farewellNode() *flow.Node {
	return &flow.Node{
		Name: "farewell",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: "Arrivederci!"},
		},
		PostActions: []flow.Action{
			{Type: flow.ActionEndConversation},
		},
	}
}

func newTestSession(t *testing.T, start *flow.Node, completer completer, recorder recorder) *Session {
	t.Helper()

	state := flow.NewState("call-1")

	sess := &Session{
		id:         "call-1",
		state:      state,
		llm:        completer,
		recorder:   recorder,
		lastActive: time.Now(),
	}

	engine := flow.NewEngine(state, sess, nil)
	sess.engine = flow.NewTrackedEngine(engine, flow.NewTracker(nil, nil), farewellNode, nil)

	require.NoError(t, sess.engine.SetNode(context.Background(), start))
	sess.outbox = nil

	return sess
}

func TestTeardownPersistsExactlyOnce(t *testing.T) {
	recorder := &fakeRecorder{}
	sess := newTestSession(t, &flow.Node{Name: "greeting"}, &scriptedCompleter{}, recorder)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Teardown(ctx)
		}()
	}
	wg.Wait()
	sess.Teardown(ctx)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, "call-1", recorder.records[0].CallID)
	assert.Equal(t, "greeting", recorder.records[0].FinalNode)
}

func TestProcessTurnToolCallThenText(t *testing.T) {
	confirmed := &flow.Node{
		Name: "confirmed",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: "Appuntamento confermato."},
		},
	}

	start := &flow.Node{
		Name: "confirm",
		Functions: []flow.FunctionSchema{{
			Name: "confirm_booking",
			Handler: func(_ context.Context, _ map[string]any, _ *flow.State) (flow.Result, *flow.Node, error) {
				return flow.Result{"success": true}, confirmed, nil
			},
		}},
	}

	completer := &scriptedCompleter{turns: []*llm.TurnResult{
		{ToolCall: &llm.ToolCall{Name: "confirm_booking", Args: map[string]any{}}},
		{Text: "Perfetto, è tutto pronto."},
	}}

	sess := newTestSession(t, start, completer, &fakeRecorder{})

	output, err := sess.ProcessTurn(context.Background(), "sì, confermo")
	require.NoError(t, err)

	assert.Equal(t, "Appuntamento confermato. Perfetto, è tutto pronto.", output.Reply)
	assert.Equal(t, "confirmed", output.Node)
	assert.False(t, output.Ended)
	assert.Equal(t, 2, completer.calls)
}

func TestProcessTurnEndsConversation(t *testing.T) {
	start := &flow.Node{
		Name: "success",
		Functions: []flow.FunctionSchema{{
			Name: "end_conversation",
			Handler: func(_ context.Context, _ map[string]any, _ *flow.State) (flow.Result, *flow.Node, error) {
				return flow.Result{"success": true}, farewellNode(), nil
			},
		}},
	}

	completer := &scriptedCompleter{turns: []*llm.TurnResult{
		{ToolCall: &llm.ToolCall{Name: "end_conversation", Args: map[string]any{}}},
	}}

	recorder := &fakeRecorder{}
	sess := newTestSession(t, start, completer, recorder)

	output, err := sess.ProcessTurn(context.Background(), "grazie, a presto")
	require.NoError(t, err)

	assert.True(t, output.Ended)
	assert.Equal(t, "Arrivederci!", output.Reply)
	require.Len(t, recorder.records, 1)

	// A turn after the end is a no-op and must not write a second record.
	again, err := sess.ProcessTurn(context.Background(), "ci sei?")
	require.NoError(t, err)
	assert.True(t, again.Ended)
	assert.Empty(t, again.Reply)
	require.Len(t, recorder.records, 1)
}

func TestProcessTurnSpokenFarewellBeforeEnd(t *testing.T) {
	terminal := &flow.Node{
		Name:         "booking_success",
		TaskMessages: []string{"Conferma la prenotazione e saluta."},
		PostActions: []flow.Action{
			{Type: flow.ActionEndConversation},
		},
	}

	start := &flow.Node{
		Name: "collect_contact",
		Functions: []flow.FunctionSchema{{
			Name: "submit_contact",
			Handler: func(_ context.Context, _ map[string]any, _ *flow.State) (flow.Result, *flow.Node, error) {
				return flow.Result{"success": true}, terminal, nil
			},
		}},
	}

	completer := &scriptedCompleter{turns: []*llm.TurnResult{
		{ToolCall: &llm.ToolCall{Name: "submit_contact", Args: map[string]any{"phone": "+390212345678"}}},
		{Text: "È tutto confermato, a presto!"},
	}}

	recorder := &fakeRecorder{}
	sess := newTestSession(t, start, completer, recorder)

	output, err := sess.ProcessTurn(context.Background(), "+39 02 1234 5678")
	require.NoError(t, err)

	assert.True(t, output.Ended)
	assert.Equal(t, "È tutto confermato, a presto!", output.Reply)
	assert.Equal(t, 2, completer.calls)
	require.Len(t, recorder.records, 1)
	assert.Equal(t, "booking_success", recorder.records[0].FinalNode)
}

func TestProcessTurnHandlerErrorFeedsBack(t *testing.T) {
	start := &flow.Node{
		Name: "collect_city",
		Functions: []flow.FunctionSchema{{
			Name: "set_city",
			Handler: func(_ context.Context, _ map[string]any, _ *flow.State) (flow.Result, *flow.Node, error) {
				return nil, nil, assert.AnError
			},
		}},
	}

	completer := &scriptedCompleter{turns: []*llm.TurnResult{
		{ToolCall: &llm.ToolCall{Name: "set_city", Args: map[string]any{"city": "Milano"}}},
		{Text: "Scusa, puoi ripetere la città?"},
	}}

	sess := newTestSession(t, start, completer, &fakeRecorder{})

	output, err := sess.ProcessTurn(context.Background(), "Milano")
	require.NoError(t, err)

	assert.Equal(t, "Scusa, puoi ripetere la città?", output.Reply)
	assert.Equal(t, "collect_city", output.Node)
	assert.Equal(t, 1, sess.state.Failure.FailureCount)
}
