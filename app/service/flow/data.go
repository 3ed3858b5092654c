package flow

import "context"

// Handler implements one LLM-callable function. It returns the payload fed
// back to the model, the node to transition to (nil to stay), or an error
// when the handler could not run at all. An error and a Result with
// success=false are both failures, but an error aborts the turn unless the
// tracked engine decides to escalate instead.
type Handler func(ctx context.Context, args map[string]any, st *State) (Result, *Node, error)

// Result is the payload a handler hands back to the model.
type Result map[string]any

// Success reports the handler outcome. A missing success key counts as true.
func (r Result) Success() bool {
	if v, ok := r["success"].(bool); ok {
		return v
	}
	return true
}

// PendingTransfer reports whether this result continues a multi-turn
// handoff negotiation. Such successes must not reset the failure tracker.
func (r Result) PendingTransfer() bool {
	v, ok := r["pending_transfer"]
	if !ok || v == nil {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return true
}

// FailureReason extracts the human-readable reason from a failed result.
func (r Result) FailureReason() string {
	if msg, ok := r["message"].(string); ok && msg != "" {
		return msg
	}
	if errText, ok := r["error"].(string); ok && errText != "" {
		return errText
	}
	return "Unknown failure"
}

type ActionType string

const (
	// ActionSay speaks fixed text to the caller before or after the LLM turn.
	ActionSay ActionType = "tts_say"
	// ActionEndConversation terminates the session after the node renders.
	ActionEndConversation ActionType = "end_conversation"
)

type Action struct {
	Type ActionType
	Text string
}

// FunctionSchema describes one tool the LLM may call while a node is active.
// Properties and Required follow JSON schema, matching what the completion
// API expects for tool definitions.
type FunctionSchema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	Handler     Handler
}

// Node is one conversation state: what the agent says, which tools are
// available, and what happens around the LLM turn. Nodes are built fresh by
// constructor functions on every transition, so they carry no mutable state.
type Node struct {
	Name         string
	RoleMessages []string
	TaskMessages []string
	Functions    []FunctionSchema
	PreActions   []Action
	PostActions  []Action
}

// EndsConversation reports whether rendering this node terminates the call.
func (n *Node) EndsConversation() bool {
	for _, action := range n.PostActions {
		if action.Type == ActionEndConversation {
			return true
		}
	}
	return false
}
