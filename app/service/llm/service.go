package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medvoice/app/config"
	"medvoice/app/service/flow"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

const (
	maxReasonDuration  = 30 * time.Second
	defaultTemperature = 0.3
)

type Service struct {
	cfg *config.Config

	completionClient     *openai.Client
	interpretationClient *openai.Client
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return &Service{
		cfg:                  cfg,
		completionClient:     createClient(cfg.OpenAI.Completion),
		interpretationClient: createClient(cfg.OpenAI.Interpretation),
	}, nil
}

func createClient(cfg config.ModelConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.Token)

	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	return openai.NewClientWithConfig(clientConfig)
}

// Turn runs one completion for the active node: role and task messages plus
// the running history, with the node's functions offered as tools. The model
// either answers the caller or picks exactly one tool.
func (s *Service) Turn(ctx context.Context, roleMessages, taskMessages []string, history []Message, functions []flow.FunctionSchema) (*TurnResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(roleMessages)+len(taskMessages)+len(history))

	for _, msg := range roleMessages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: msg,
		})
	}
	for _, msg := range taskMessages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: msg,
		})
	}
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, maxReasonDuration)
	defer cancel()

	aiResponse, err := s.completionClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       s.cfg.OpenAI.Completion.Model,
			Messages:    messages,
			Tools:       buildTools(functions),
			Temperature: defaultTemperature,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return nil, fmt.Errorf("no chat completion found")
	}

	choice := aiResponse.Choices[0].Message

	if len(choice.ToolCalls) > 0 {
		call := choice.ToolCalls[0]

		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err = json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments for %s: %w", call.Function.Name, err)
			}
		}

		return &TurnResult{
			ToolCall: &ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: args,
			},
		}, nil
	}

	return &TurnResult{Text: strings.TrimSpace(choice.Content)}, nil
}

// InterpretJSON asks the interpretation model for a strict JSON answer and
// unmarshals it into out.
func (s *Service) InterpretJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, maxReasonDuration)
	defer cancel()

	aiResponse, err := s.interpretationClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.cfg.OpenAI.Interpretation.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userPrompt,
				},
			},
			Temperature: 0,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return fmt.Errorf("no chat completion found")
	}

	result := aiResponse.Choices[0].Message.Content
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	if err = json.Unmarshal([]byte(result), out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func buildTools(functions []flow.FunctionSchema) []openai.Tool {
	if len(functions) == 0 {
		return nil
	}

	tools := make([]openai.Tool, 0, len(functions))
	for _, fn := range functions {
		properties := fn.Properties
		if properties == nil {
			properties = map[string]any{}
		}

		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   fn.Required,
				},
			},
		})
	}

	return tools
}
