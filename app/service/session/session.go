package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"medvoice/app/service/flow"
	"medvoice/app/service/llm"
	"medvoice/app/service/store"
)

// One LLM turn may chain a few tool calls (decision handler, processing
// handler, transition); this bounds runaway loops.
const maxToolIterations = 8

// A full booking takes a few dozen turns; older context is superseded by
// node task messages anyway.
const messageHistorySize = 40

type completer interface {
	Turn(ctx context.Context, roleMessages, taskMessages []string, history []llm.Message, functions []flow.FunctionSchema) (*llm.TurnResult, error)
}

type recorder interface {
	SaveCallRecord(ctx context.Context, record store.CallRecord) error
}

// TurnOutput is what one user utterance produced.
type TurnOutput struct {
	Reply string
	Node  string
	Ended bool
}

// Session owns one conversation end to end. Turns are strictly sequential:
// the mutex makes a second concurrent request on the same call wait.
type Session struct {
	id       string
	state    *flow.State
	engine   *flow.TrackedEngine
	llm      completer
	recorder recorder

	mu         sync.Mutex
	history    []llm.Message
	outbox     []string
	ending     bool
	ended      bool
	lastActive time.Time

	teardownOnce sync.Once
}

// RenderNode implements flow.Renderer: pre-action text is queued for the
// next reply. An end-conversation post-action closes the session, but only
// after the node's own turn has produced its farewell.
func (s *Session) RenderNode(_ context.Context, node *flow.Node) error {
	for _, action := range node.PreActions {
		if action.Type == flow.ActionSay && action.Text != "" {
			s.outbox = append(s.outbox, action.Text)
		}
	}

	if node.EndsConversation() {
		s.ending = true
	}

	return nil
}

// ProcessTurn feeds one user utterance through the flow: completion, tool
// dispatch, node transitions, repeated until the model answers with text or
// the conversation ends.
func (s *Session) ProcessTurn(ctx context.Context, userText string) (*TurnOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return &TurnOutput{Node: s.state.CurrentNode, Ended: true}, nil
	}

	s.lastActive = time.Now()
	s.appendHistory(llm.Message{Role: "user", Content: userText})

	var replyText string

	for i := 0; i < maxToolIterations; i++ {
		node := s.engine.CurrentNode()
		if node == nil {
			return nil, fmt.Errorf("session has no active node")
		}

		turn, err := s.llm.Turn(ctx, node.RoleMessages, node.TaskMessages, s.history, s.engine.Functions())
		if err != nil {
			return nil, fmt.Errorf("llm.Turn: %w", err)
		}

		if turn.ToolCall == nil {
			replyText = turn.Text
			break
		}

		result, err := s.engine.CallHandler(ctx, turn.ToolCall.Name, turn.ToolCall.Args)
		if err != nil {
			// Below-threshold handler error: tell the model so it can
			// apologize or retry instead of killing the call.
			slog.Warn("Tool call failed",
				"call_id", s.id,
				"tool", turn.ToolCall.Name,
				"error", err)

			s.appendHistory(llm.Message{
				Role:    "system",
				Content: fmt.Sprintf("Tool %s failed: %v. Apologize briefly and continue.", turn.ToolCall.Name, err),
			})
			continue
		}

		s.appendHistory(llm.Message{
			Role:    "system",
			Content: fmt.Sprintf("Tool %s returned: %s", turn.ToolCall.Name, encodeResult(result)),
		})

		// A terminal node with task messages still owes the caller a spoken
		// farewell, so the loop runs one more completion. A fixed-message
		// terminal (like the operator transfer) already said everything via
		// its pre-action.
		if current := s.engine.CurrentNode(); s.ending && len(current.TaskMessages) == 0 {
			break
		}
	}

	reply := strings.Join(append(s.outbox, replyText), " ")
	reply = strings.TrimSpace(reply)
	s.outbox = nil

	if reply != "" {
		s.appendHistory(llm.Message{Role: "assistant", Content: reply})
	}

	if s.ending {
		s.ended = true
	}

	output := &TurnOutput{
		Reply: reply,
		Node:  s.state.CurrentNode,
		Ended: s.ended,
	}

	if s.ended {
		s.Teardown(ctx)
	}

	return output, nil
}

// Teardown persists the call record exactly once, no matter how many paths
// reach it: normal end, idle sweep and explicit delete all funnel here.
// Persistence failures are logged and swallowed; nothing at this boundary
// may block shutdown.
func (s *Session) Teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		record := store.RecordFromState(s.state)

		if err := s.recorder.SaveCallRecord(ctx, record); err != nil {
			slog.Error("Failed to save call record",
				"call_id", s.id,
				"error", err)
		}

		slog.Info("Session ended",
			"call_id", s.id,
			"final_node", record.FinalNode,
			"booked_slots", len(record.BookedSlots),
			"duration", record.Duration)
	})
}

func (s *Session) appendHistory(msg llm.Message) {
	if len(s.history) >= messageHistorySize {
		s.history = append(s.history[1:], msg)
	} else {
		s.history = append(s.history, msg)
	}
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return now.Sub(s.lastActive)
}

func encodeResult(result flow.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
