package flow

import (
	"context"
	"fmt"
	"log/slog"
)

// EscalateFunc is told when the tracker decides to hand the call to a human,
// right before the transfer node renders. Implementations call the external
// handoff bridge; a failed handoff must not block the transfer node.
type EscalateFunc func(ctx context.Context, st *State, reason string)

// TrackedEngine wraps Engine so that every handler call passes through the
// failure tracker. Handlers stay oblivious: tracking, classification and the
// forced transition to the transfer node all happen here.
type TrackedEngine struct {
	*Engine
	tracker      *Tracker
	transferNode func() *Node
	onEscalate   EscalateFunc
}

func NewTrackedEngine(engine *Engine, tracker *Tracker, transferNode func() *Node, onEscalate EscalateFunc) *TrackedEngine {
	return &TrackedEngine{
		Engine:       engine,
		tracker:      tracker,
		transferNode: transferNode,
		onEscalate:   onEscalate,
	}
}

// CallHandler dispatches one tool call with automatic failure tracking.
//
// A handler error counts as a failure; below threshold it propagates, at
// threshold the call transfers instead. A result with success=false counts
// unless its text matches an ignorable phrase. Successful results reset the
// tracker, except while a handoff is already pending.
func (e *TrackedEngine) CallHandler(ctx context.Context, name string, args map[string]any) (Result, error) {
	schema, ok := e.findFunction(name)
	if !ok {
		return nil, fmt.Errorf("no handler registered for function %q on node %q", name, e.state.CurrentNode)
	}

	result, next, err := schema.Handler(ctx, args, e.state)
	if err != nil {
		if e.tracker.RecordFailure(e.state, name, fmt.Sprintf("Exception: %v", err)) {
			failed := Result{"success": false, "error": err.Error()}
			return failed, e.escalate(ctx, err.Error())
		}

		return nil, err
	}

	if result == nil {
		result = Result{}
	}

	if e.tracker.IsKnowledgeGap(result) {
		e.tracker.MarkKnowledgeGap(e.state)
	}

	if !result.Success() {
		if e.tracker.IsIgnorable(result) {
			slog.Debug("Ignorable handler error",
				"call_id", e.state.CallID,
				"handler", name)
		} else {
			reason := result.FailureReason()
			if e.tracker.RecordFailure(e.state, name, reason) {
				return result, e.escalate(ctx, reason)
			}
		}
	} else if !result.PendingTransfer() && !e.state.PendingTransfer() {
		// A success mid-handoff must not defuse the armed threshold.
		e.tracker.Reset(e.state)
	}

	if next != nil {
		if err = e.SetNode(ctx, next); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *TrackedEngine) escalate(ctx context.Context, reason string) error {
	slog.Warn("Failure threshold reached, transferring to operator",
		"call_id", e.state.CallID,
		"reason", reason,
		"telegram", true)

	if e.onEscalate != nil {
		e.onEscalate(ctx, e.state, reason)
	}

	return e.SetNode(ctx, e.transferNode())
}
