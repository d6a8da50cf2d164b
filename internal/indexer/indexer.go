// Package indexer consumes summary.completed events and maintains the search
// documents derived from them. It is a model downstream consumer: every side
// effect is an upsert, and an (event_id, consumer_group) ledger makes
// redeliveries no-ops.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/stream"
)

type ProcessedLedger interface {
	AlreadyProcessed(ctx context.Context, eventID uuid.UUID, group string) (bool, error)
	Mark(ctx context.Context, eventID uuid.UUID, group string) error
}

type DocStore interface {
	Upsert(ctx context.Context, doc SearchDoc) error
}

// SearchDoc is the flat projection the search side reads. One doc per
// summary aggregate, last write wins.
type SearchDoc struct {
	SummaryID    string `json:"summary_id"`
	SnapshotID   string `json:"snapshot_id"`
	BrandName    string `json:"brand_name"`
	PositionName string `json:"position_name"`
	CareerType   string `json:"career_type"`
	Summary      string `json:"summary"`
}

// RedisDocStore keeps search docs in one Redis hash, one field per summary.
type RedisDocStore struct {
	rdb *redis.Client
	key string
}

func NewRedisDocStore(rdb *redis.Client, key string) *RedisDocStore {
	if key == "" {
		key = "jd:search:docs"
	}
	return &RedisDocStore{rdb: rdb, key: key}
}

func (s *RedisDocStore) Upsert(ctx context.Context, doc SearchDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key, doc.SummaryID, raw).Err()
}

// Indexer is the consumer-group handler for the events stream.
type Indexer struct {
	ledger ProcessedLedger
	docs   DocStore
	group  string
}

func NewIndexer(ledger ProcessedLedger, docs DocStore, group string) *Indexer {
	return &Indexer{ledger: ledger, docs: docs, group: group}
}

// Handle satisfies stream.Handler. Check, act, mark: the check-then-mark
// bracket around an idempotent upsert means a crash between act and mark only
// repeats the upsert on redelivery.
func (ix *Indexer) Handle(ctx context.Context, msg stream.Message) error {
	ev, err := stream.ParseEvent(msg.Values)
	if err != nil {
		return err
	}
	if ev.EventType != entity.EventSummaryCompleted {
		// other event types on this stream are not ours; ack and move on
		log.Printf("[indexer] event_id=%s skipping event_type=%s", ev.EventID, ev.EventType)
		return nil
	}

	done, err := ix.ledger.AlreadyProcessed(ctx, ev.EventID, ix.group)
	if err != nil {
		return err
	}
	if done {
		log.Printf("[indexer] event_id=%s already processed, skipping", ev.EventID)
		return nil
	}

	doc, err := docFromPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrUnprocessable, err)
	}
	if err := ix.docs.Upsert(ctx, doc); err != nil {
		return err
	}
	if err := ix.ledger.Mark(ctx, ev.EventID, ix.group); err != nil {
		return err
	}

	log.Printf("[indexer] event_id=%s indexed summary_id=%s", ev.EventID, doc.SummaryID)
	return nil
}

func docFromPayload(payload string) (SearchDoc, error) {
	var p struct {
		SummaryID    string `json:"summary_id"`
		SnapshotID   string `json:"snapshot_id"`
		BrandName    string `json:"brand_name"`
		PositionName string `json:"position_name"`
		CareerType   string `json:"career_type"`
		Summary      string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return SearchDoc{}, fmt.Errorf("bad payload: %v", err)
	}
	if p.SummaryID == "" {
		return SearchDoc{}, fmt.Errorf("payload missing summary_id")
	}
	return SearchDoc(p), nil
}
