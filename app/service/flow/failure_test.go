package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKnowledgeGapPhrases = []string{
	"non so",
	"non ho trovato",
	"i don't know",
	"cannot help",
}

var testIgnorablePhrases = []string{
	"invalid email",
	"invalid phone",
	"please provide",
}

func newTestTracker() *Tracker {
	return NewTracker(testKnowledgeGapPhrases, testIgnorablePhrases)
}

func TestRecordFailureNormalThreshold(t *testing.T) {
	tracker := newTestTracker()
	st := NewState("call-1")

	assert.False(t, tracker.RecordFailure(st, "search_slots", "timeout"))
	assert.False(t, tracker.RecordFailure(st, "search_slots", "timeout"))
	assert.True(t, tracker.RecordFailure(st, "search_slots", "timeout"))

	assert.Equal(t, 3, st.Failure.FailureCount)
	require.Len(t, st.Failure.FailureHistory, 3)
	assert.Equal(t, FailureRecord{Handler: "search_slots", Reason: "timeout", Count: 2}, st.Failure.FailureHistory[1])
}

func TestRecordFailureKnowledgeGapImmediate(t *testing.T) {
	tracker := newTestTracker()
	st := NewState("call-1")

	tracker.MarkKnowledgeGap(st)

	assert.True(t, tracker.RecordFailure(st, "query_knowledge_base", "no answer"))
	assert.Equal(t, 1, st.Failure.FailureCount)
}

func TestRecordFailureAfterTransferRequestImmediate(t *testing.T) {
	tracker := newTestTracker()
	st := NewState("call-1")

	// Two stale failures from before the request must not carry over.
	tracker.RecordFailure(st, "search_slots", "timeout")
	tracker.RecordFailure(st, "search_slots", "timeout")

	tracker.MarkTransferRequested(st)
	assert.Equal(t, 0, st.Failure.FailureCount)
	assert.True(t, st.Failure.TransferRequested)
	assert.True(t, st.Failure.InTransferAttempt)

	assert.True(t, tracker.RecordFailure(st, "escalate_call", "bridge unreachable"))
}

func TestResetClearsCountAndFlags(t *testing.T) {
	tracker := newTestTracker()
	st := NewState("call-1")

	tracker.RecordFailure(st, "search_slots", "timeout")
	tracker.MarkTransferRequested(st)
	tracker.MarkKnowledgeGap(st)

	tracker.Reset(st)

	assert.Equal(t, 0, st.Failure.FailureCount)
	assert.False(t, st.Failure.TransferRequested)
	assert.False(t, st.Failure.InTransferAttempt)
	assert.False(t, st.Failure.KnowledgeGapDetected)
	// History is analytics, it survives resets.
	assert.Len(t, st.Failure.FailureHistory, 1)
}

func TestIsKnowledgeGap(t *testing.T) {
	tracker := newTestTracker()

	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{
			name:   "zero confidence",
			result: Result{"confidence": 0.0, "answer": "maybe"},
			want:   true,
		},
		{
			name:   "nil answer for query",
			result: Result{"query": "orari di apertura", "answer": nil},
			want:   true,
		},
		{
			name:   "missing answer for query",
			result: Result{"query": "orari di apertura"},
			want:   true,
		},
		{
			name:   "italian phrase in message",
			result: Result{"success": false, "message": "Mi dispiace, non ho trovato nulla"},
			want:   true,
		},
		{
			name:   "english phrase in error",
			result: Result{"success": false, "error": "I don't know that"},
			want:   true,
		},
		{
			name:   "plain technical failure",
			result: Result{"success": false, "error": "connection refused"},
			want:   false,
		},
		{
			name:   "confident answer",
			result: Result{"query": "orari", "answer": "8-19", "confidence": 0.9},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tracker.IsKnowledgeGap(tt.result))
		})
	}
}

func TestIsIgnorable(t *testing.T) {
	tracker := newTestTracker()

	assert.True(t, tracker.IsIgnorable(Result{"success": false, "error": "Invalid phone number"}))
	assert.True(t, tracker.IsIgnorable(Result{"success": false, "message": "Please provide your date of birth"}))
	assert.False(t, tracker.IsIgnorable(Result{"success": false, "error": "upstream 500"}))
}

func TestResultHelpers(t *testing.T) {
	assert.True(t, Result{}.Success())
	assert.True(t, Result{"message": "ok"}.Success())
	assert.False(t, Result{"success": false}.Success())

	assert.Equal(t, "boom", Result{"success": false, "error": "boom"}.FailureReason())
	assert.Equal(t, "no centers", Result{"success": false, "message": "no centers", "error": "x"}.FailureReason())
	assert.Equal(t, "Unknown failure", Result{"success": false}.FailureReason())
}
