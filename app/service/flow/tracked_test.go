package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRenderer struct {
	rendered []string
}

func (r *recordingRenderer) RenderNode(_ context.Context, node *Node) error {
	r.rendered = append(r.rendered, node.Name)
	return nil
}

func testTransferNode() *Node {
	return &Node{
		Name:        "transfer",
		PreActions:  []Action{{Type: ActionSay, Text: "Attendi, ti sto trasferendo a un operatore umano."}},
		PostActions: []Action{{Type: ActionEndConversation}},
	}
}

func newTrackedFixture(t *testing.T, fn FunctionSchema) (*TrackedEngine, *recordingRenderer) {
	t.Helper()

	renderer := &recordingRenderer{}
	st := NewState("call-1")
	engine := NewEngine(st, renderer, nil)

	tracked := NewTrackedEngine(engine, newTestTracker(), testTransferNode, nil)

	start := &Node{
		Name:      "collect_datetime",
		Functions: []FunctionSchema{fn},
	}
	require.NoError(t, tracked.SetNode(context.Background(), start))

	return tracked, renderer
}

func TestTrackedEngineEscalatesAfterThirdFailure(t *testing.T) {
	fn := FunctionSchema{
		Name: "search_slots",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return Result{"success": false, "error": "upstream timeout"}, nil, nil
		},
	}
	tracked, renderer := newTrackedFixture(t, fn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := tracked.CallHandler(ctx, "search_slots", nil)
		require.NoError(t, err)
		assert.False(t, result.Success())
		assert.Equal(t, "collect_datetime", tracked.State().CurrentNode)
	}

	result, err := tracked.CallHandler(ctx, "search_slots", nil)
	require.NoError(t, err)
	// The handler's own result survives, only the destination changes.
	assert.Equal(t, "upstream timeout", result.FailureReason())
	assert.Equal(t, "transfer", tracked.State().CurrentNode)
	assert.Equal(t, []string{"collect_datetime", "transfer"}, tracked.State().NodeHistory)
	assert.Equal(t, []string{"collect_datetime", "transfer"}, renderer.rendered)
}

func TestTrackedEngineHandlerErrorBelowThresholdPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	fn := FunctionSchema{
		Name: "search_slots",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return nil, nil, boom
		},
	}
	tracked, _ := newTrackedFixture(t, fn)
	ctx := context.Background()

	_, err := tracked.CallHandler(ctx, "search_slots", nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "collect_datetime", tracked.State().CurrentNode)
	assert.Equal(t, 1, tracked.State().Failure.FailureCount)
}

func TestTrackedEngineHandlerErrorAtThresholdTransfers(t *testing.T) {
	fn := FunctionSchema{
		Name: "search_slots",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return nil, nil, errors.New("connection reset")
		},
	}
	tracked, _ := newTrackedFixture(t, fn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tracked.CallHandler(ctx, "search_slots", nil)
		require.Error(t, err)
	}

	result, err := tracked.CallHandler(ctx, "search_slots", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{"success": false, "error": "connection reset"}, result)
	assert.Equal(t, "transfer", tracked.State().CurrentNode)
}

func TestTrackedEngineKnowledgeGapEscalatesImmediately(t *testing.T) {
	fn := FunctionSchema{
		Name: "query_knowledge_base",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return Result{"success": false, "message": "non ho trovato informazioni"}, nil, nil
		},
	}
	tracked, _ := newTrackedFixture(t, fn)

	_, err := tracked.CallHandler(context.Background(), "query_knowledge_base", nil)
	require.NoError(t, err)
	assert.Equal(t, "transfer", tracked.State().CurrentNode)
	assert.Equal(t, 1, tracked.State().Failure.FailureCount)
}

func TestTrackedEngineIgnorableErrorNeverCounts(t *testing.T) {
	askAgain := &Node{Name: "collect_contact"}
	fn := FunctionSchema{
		Name: "collect_contact",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return Result{"success": false, "error": "invalid phone number"}, askAgain, nil
		},
	}
	askAgain.Functions = []FunctionSchema{fn}
	tracked, _ := newTrackedFixture(t, fn)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := tracked.CallHandler(ctx, "collect_contact", nil)
		require.NoError(t, err)
		assert.False(t, result.Success())
	}

	// The handler's own next node wins, and nothing accumulates.
	assert.Equal(t, 0, tracked.State().Failure.FailureCount)
	assert.Equal(t, "collect_contact", tracked.State().CurrentNode)
}

func TestTrackedEngineSuccessResetsTracker(t *testing.T) {
	failing := true
	fn := FunctionSchema{
		Name: "search_slots",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			if failing {
				return Result{"success": false, "error": "upstream timeout"}, nil, nil
			}
			return Result{"success": true}, nil, nil
		},
	}
	tracked, _ := newTrackedFixture(t, fn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tracked.CallHandler(ctx, "search_slots", nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, tracked.State().Failure.FailureCount)

	failing = false
	_, err := tracked.CallHandler(ctx, "search_slots", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tracked.State().Failure.FailureCount)

	// The slate is clean, three more failures are needed again.
	failing = true
	for i := 0; i < 2; i++ {
		_, err = tracked.CallHandler(ctx, "search_slots", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, "collect_datetime", tracked.State().CurrentNode)
}

func TestTrackedEngineSuccessKeepsTrackerDuringPendingTransfer(t *testing.T) {
	fn := FunctionSchema{
		Name: "confirm_transfer",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			return Result{"success": true, "pending_transfer": true}, nil, nil
		},
	}
	tracked, _ := newTrackedFixture(t, fn)

	st := tracked.State()
	st.Failure.TransferRequested = true
	st.Failure.InTransferAttempt = true

	_, err := tracked.CallHandler(context.Background(), "confirm_transfer", nil)
	require.NoError(t, err)

	// Intermediate successes must not defuse the armed one-strike threshold.
	assert.True(t, st.Failure.TransferRequested)
	assert.True(t, st.Failure.InTransferAttempt)
}

func TestTrackedEngineEscalateCallbackFires(t *testing.T) {
	var gotReason string

	renderer := &recordingRenderer{}
	st := NewState("call-1")
	engine := NewEngine(st, renderer, nil)
	tracked := NewTrackedEngine(engine, newTestTracker(), testTransferNode,
		func(_ context.Context, _ *State, reason string) {
			gotReason = reason
		})

	node := &Node{
		Name: "start",
		Functions: []FunctionSchema{{
			Name: "query_knowledge_base",
			Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
				return Result{"success": false, "message": "non so rispondere"}, nil, nil
			},
		}},
	}
	require.NoError(t, tracked.SetNode(context.Background(), node))

	_, err := tracked.CallHandler(context.Background(), "query_knowledge_base", nil)
	require.NoError(t, err)
	assert.Equal(t, "non so rispondere", gotReason)
}

func TestEngineUnknownFunction(t *testing.T) {
	renderer := &recordingRenderer{}
	engine := NewEngine(NewState("call-1"), renderer, nil)
	require.NoError(t, engine.SetNode(context.Background(), &Node{Name: "start"}))

	_, err := engine.CallHandler(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestEngineGlobalFunctionsAvailableEverywhere(t *testing.T) {
	called := false
	globals := []FunctionSchema{{
		Name: "request_transfer",
		Handler: func(context.Context, map[string]any, *State) (Result, *Node, error) {
			called = true
			return Result{"success": true}, nil, nil
		},
	}}

	renderer := &recordingRenderer{}
	engine := NewEngine(NewState("call-1"), renderer, globals)
	require.NoError(t, engine.SetNode(context.Background(), &Node{Name: "start"}))

	_, err := engine.CallHandler(context.Background(), "request_transfer", nil)
	require.NoError(t, err)
	assert.True(t, called)
}
