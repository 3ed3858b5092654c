package flow

import (
	"log/slog"
	"strings"
)

const (
	// One failure is enough once the agent admitted it does not know,
	// or once the user already asked for a human.
	immediateThreshold = 1
	normalThreshold    = 3
)

// Tracker classifies handler failures and decides when to hand the caller
// to a human operator. Phrase lists are configurable so deployments can
// extend the Italian and English defaults.
type Tracker struct {
	knowledgeGapPhrases []string
	ignorablePhrases    []string
}

func NewTracker(knowledgeGapPhrases, ignorablePhrases []string) *Tracker {
	return &Tracker{
		knowledgeGapPhrases: knowledgeGapPhrases,
		ignorablePhrases:    ignorablePhrases,
	}
}

// IsKnowledgeGap detects results where the agent has nothing to offer:
// a zero-confidence knowledge base answer, a missing answer to a query,
// or a known "I don't know" phrase in the message or error text.
func (t *Tracker) IsKnowledgeGap(result Result) bool {
	if conf, ok := toFloat(result["confidence"]); ok && conf == 0 {
		return true
	}
	if _, hasQuery := result["query"]; hasQuery {
		if answer, hasAnswer := result["answer"]; !hasAnswer || answer == nil {
			return true
		}
	}

	return containsAny(combinedText(result), t.knowledgeGapPhrases)
}

// IsIgnorable reports failures the user can fix themselves, like a malformed
// phone number. These never count toward escalation.
func (t *Tracker) IsIgnorable(result Result) bool {
	return containsAny(combinedText(result), t.ignorablePhrases)
}

// RecordFailure increments the counter and reports whether the session
// should escalate. The threshold drops to one after a knowledge gap or an
// explicit transfer request.
func (t *Tracker) RecordFailure(st *State, handlerName, reason string) bool {
	tracker := &st.Failure

	tracker.FailureCount++
	tracker.FailureHistory = append(tracker.FailureHistory, FailureRecord{
		Handler: handlerName,
		Reason:  reason,
		Count:   tracker.FailureCount,
	})

	threshold := normalThreshold
	if tracker.KnowledgeGapDetected || tracker.TransferRequested || tracker.InTransferAttempt {
		threshold = immediateThreshold
	}

	shouldTransfer := tracker.FailureCount >= threshold

	slog.Warn("Handler failure recorded",
		"call_id", st.CallID,
		"handler", handlerName,
		"reason", reason,
		"count", tracker.FailureCount,
		"threshold", threshold,
		"escalate", shouldTransfer)

	return shouldTransfer
}

// MarkTransferRequested records an explicit user request for a human.
// The counter restarts so the next failure, not an old one, triggers it.
func (t *Tracker) MarkTransferRequested(st *State) {
	st.Failure.TransferRequested = true
	st.Failure.InTransferAttempt = true
	st.Failure.FailureCount = 0

	slog.Info("Transfer requested by user", "call_id", st.CallID)
}

func (t *Tracker) MarkKnowledgeGap(st *State) {
	st.Failure.KnowledgeGapDetected = true

	slog.Info("Knowledge gap marked", "call_id", st.CallID)
}

// Reset clears the counter and flags after a successful action.
// The failure history survives for analytics.
func (t *Tracker) Reset(st *State) {
	tracker := &st.Failure

	oldCount := tracker.FailureCount
	tracker.FailureCount = 0
	tracker.TransferRequested = false
	tracker.InTransferAttempt = false
	tracker.KnowledgeGapDetected = false

	if oldCount > 0 {
		slog.Info("Failure tracker reset", "call_id", st.CallID, "previous_count", oldCount)
	}
}

func combinedText(result Result) string {
	message, _ := result["message"].(string)
	errText, _ := result["error"].(string)

	return strings.ToLower(message + " " + errText)
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	}
	return 0, false
}
