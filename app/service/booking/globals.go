package booking

import (
	"context"

	"medvoice/app/service/flow"
)

// GlobalFunctions are attached to every node: the caller can always ask a
// general question or demand a human, regardless of where the booking is.
func (s *Service) GlobalFunctions() []flow.FunctionSchema {
	return []flow.FunctionSchema{
		{
			Name:        "query_knowledge_base",
			Description: "Rispondi a una domanda generale del paziente usando la base di conoscenza.",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "La domanda del paziente, riformulata in modo completo",
				},
			},
			Required: []string{"query"},
			Handler:  s.handleKnowledgeQuery,
		},
		{
			Name:        "request_transfer",
			Description: "Il paziente chiede esplicitamente di parlare con un operatore umano.",
			Properties:  map[string]any{},
			Handler:     s.handleRequestTransfer,
		},
	}
}

// handleKnowledgeQuery answers general questions. An empty or zero-confidence
// answer is left in the result as-is: the dispatch layer recognizes it as a
// knowledge gap and tightens the escalation threshold.
func (s *Service) handleKnowledgeQuery(ctx context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return flow.Result{
			"success": false,
			"message": "Please provide a question to look up",
		}, nil, nil
	}

	answer, err := s.kb.Query(ctx, query)
	if err != nil {
		return flow.Result{
			"success": false,
			"query":   query,
			"answer":  nil,
			"error":   err.Error(),
		}, nil, nil
	}

	if answer.Answer == "" || answer.Confidence == 0 {
		return flow.Result{
			"success":    false,
			"query":      query,
			"answer":     nil,
			"confidence": answer.Confidence,
			"message":    "Non ho trovato informazioni su questo argomento",
		}, nil, nil
	}

	return flow.Result{
		"success":    true,
		"query":      query,
		"answer":     answer.Answer,
		"confidence": answer.Confidence,
	}, nil, nil
}

// handleRequestTransfer arms the one-strike threshold and asks what the
// caller needs before actually transferring: many requests resolve once the
// agent understands the question. The pending_transfer flag keeps follow-up
// successes from disarming the tracker.
func (s *Service) handleRequestTransfer(_ context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	s.tracker.MarkTransferRequested(st)
	st.Extra[flow.PendingTransferKey] = true

	return flow.Result{
		"success":          true,
		"pending_transfer": true,
		"message":          "Certo, posso trasferirti a un operatore. Prima dimmi di cosa hai bisogno, forse posso aiutarti subito.",
	}, nil, nil
}
