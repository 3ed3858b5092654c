package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medvoice/app/config"
	"medvoice/app/model"
	"medvoice/app/service/flow"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

const recordTTL = 30 * 24 * time.Hour

var _ do.Shutdownable = (*Service)(nil)

// CallRecord is the durable trace of one finished conversation.
type CallRecord struct {
	CallID      string             `json:"call_id"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
	Duration    float64            `json:"duration_seconds"`
	NodeHistory []string           `json:"node_history"`
	FinalNode   string             `json:"final_node"`
	BookedSlots []model.BookedSlot `json:"booked_slots"`
	Failures    flow.FailureState  `json:"failures"`
	Escalated   bool               `json:"escalated"`
}

type Service struct {
	client *redis.Client
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
	})

	return &Service{client: client}, nil
}

// RecordFromState snapshots the conversation into its durable form.
func RecordFromState(st *flow.State) CallRecord {
	now := time.Now()

	return CallRecord{
		CallID:      st.CallID,
		StartedAt:   st.StartedAt,
		EndedAt:     now,
		Duration:    now.Sub(st.StartedAt).Seconds(),
		NodeHistory: st.NodeHistory,
		FinalNode:   st.CurrentNode,
		BookedSlots: st.BookedSlots,
		Failures:    st.Failure,
		Escalated:   st.CurrentNode == "transfer",
	}
}

func (s *Service) SaveCallRecord(ctx context.Context, record CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}

	key := "call_record:" + record.CallID
	if err = s.client.Set(ctx, key, data, recordTTL).Err(); err != nil {
		return fmt.Errorf("save call record: %w", err)
	}

	return nil
}

func (s *Service) LoadCallRecord(ctx context.Context, callID string) (*CallRecord, error) {
	data, err := s.client.Get(ctx, "call_record:"+callID).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load call record: %w", err)
	}

	var record CallRecord
	if err = json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode call record: %w", err)
	}

	return &record, nil
}

func (s *Service) Shutdown() error {
	return s.client.Close()
}
