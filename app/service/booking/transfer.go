package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medvoice/app/client/talkdesk"
	"medvoice/app/service/flow"
)

const transferMessage = "Attendi, ti sto trasferendo a un operatore umano."

// TransferNode is the single way out of the conversation toward a human.
// It speaks one fixed message, offers no tools and ends the call. Every
// escalation path must produce this exact node.
func TransferNode() *flow.Node {
	return &flow.Node{
		Name: "transfer",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: transferMessage},
		},
		PostActions: []flow.Action{
			{Type: flow.ActionEndConversation},
		},
	}
}

// EscalationCallback notifies the handoff bridge when the tracked engine
// decides to transfer. Bridge failures are logged, never blocking: the
// transfer node renders regardless.
func (s *Service) EscalationCallback() flow.EscalateFunc {
	return func(ctx context.Context, st *flow.State, reason string) {
		esc := talkdesk.Escalation{
			Summary:   escalationSummary(st, reason),
			Sentiment: escalationSentiment(st),
			Action:    "transfer_to_operator",
			Duration:  time.Since(st.StartedAt).Seconds(),
			Service:   firstServiceCode(st),
			CallID:    st.CallID,
			StreamSID: st.StreamSID,
		}

		if err := s.handoff.Escalate(ctx, esc); err != nil {
			slog.Error("Handoff bridge call failed",
				"call_id", st.CallID,
				"error", err,
				"telegram", true)
		}
	}
}

func escalationSummary(st *flow.State, reason string) string {
	parts := []string{fmt.Sprintf("node=%s", st.CurrentNode)}

	if len(st.SelectedServices) > 0 {
		names := make([]string, 0, len(st.SelectedServices))
		for _, svc := range st.SelectedServices {
			names = append(names, svc.Name)
		}
		parts = append(parts, "services="+strings.Join(names, ","))
	}

	parts = append(parts, "reason="+reason)

	return strings.Join(parts, "; ")
}

func escalationSentiment(st *flow.State) string {
	if st.Failure.FailureCount >= 2 || st.Failure.KnowledgeGapDetected {
		return "negative"
	}
	return "neutral"
}

func firstServiceCode(st *flow.State) string {
	if len(st.SelectedServices) == 0 {
		return ""
	}
	return st.SelectedServices[0].Code
}
