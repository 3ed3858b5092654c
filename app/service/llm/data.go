package llm

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is the model's request to run one flow function.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// TurnResult is either assistant text for the caller or a tool call,
// never both.
type TurnResult struct {
	Text     string
	ToolCall *ToolCall
}
