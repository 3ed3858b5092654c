package flow

import (
	"context"
	"fmt"
	"log/slog"
)

// Renderer delivers a node to the caller: speaks pre-action text, prompts the
// LLM with the node's messages and tools, and runs post-actions.
type Renderer interface {
	RenderNode(ctx context.Context, node *Node) error
}

// Engine owns the conversation state and the current node, and dispatches
// LLM tool calls to handlers. It is not safe for concurrent use; the session
// serializes turns.
type Engine struct {
	state    *State
	renderer Renderer

	current *Node
	globals []FunctionSchema
}

func NewEngine(state *State, renderer Renderer, globals []FunctionSchema) *Engine {
	return &Engine{
		state:    state,
		renderer: renderer,
		globals:  globals,
	}
}

func (e *Engine) State() *State {
	return e.state
}

func (e *Engine) CurrentNode() *Node {
	return e.current
}

// Functions returns the tools active for the current node, node-local
// first, then the globals attached to every node.
func (e *Engine) Functions() []FunctionSchema {
	if e.current == nil {
		return e.globals
	}

	result := make([]FunctionSchema, 0, len(e.current.Functions)+len(e.globals))
	result = append(result, e.current.Functions...)
	result = append(result, e.globals...)

	return result
}

// SetNode transitions to node, recording the move in state before rendering.
func (e *Engine) SetNode(ctx context.Context, node *Node) error {
	if node == nil {
		return fmt.Errorf("cannot transition to nil node")
	}

	e.state.PreviousNode = e.state.CurrentNode
	e.state.CurrentNode = node.Name
	e.state.NodeHistory = append(e.state.NodeHistory, node.Name)
	e.current = node

	slog.Debug("Node transition",
		"call_id", e.state.CallID,
		"from", e.state.PreviousNode,
		"to", node.Name)

	if err := e.renderer.RenderNode(ctx, node); err != nil {
		return fmt.Errorf("render node %s: %w", node.Name, err)
	}

	return nil
}

// CallHandler dispatches one tool call by name. An unknown name is a
// configuration error: the LLM was offered a tool nothing implements.
func (e *Engine) CallHandler(ctx context.Context, name string, args map[string]any) (Result, error) {
	schema, ok := e.findFunction(name)
	if !ok {
		return nil, fmt.Errorf("no handler registered for function %q on node %q", name, e.state.CurrentNode)
	}

	result, next, err := schema.Handler(ctx, args, e.state)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result = Result{}
	}

	if next != nil {
		if err = e.SetNode(ctx, next); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) findFunction(name string) (FunctionSchema, bool) {
	if e.current != nil {
		for _, fn := range e.current.Functions {
			if fn.Name == name {
				return fn, true
			}
		}
	}

	for _, fn := range e.globals {
		if fn.Name == name {
			return fn, true
		}
	}

	return FunctionSchema{}, false
}
