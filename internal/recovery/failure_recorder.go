package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/metrics"
	"jd-summary-service/internal/stream"
)

type FailedEventStore interface {
	Create(ctx context.Context, ev *entity.FailedEvent) error
}

type RecordFailer interface {
	MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error
}

// FailureRecorder is the dead-letter sink for both consumer groups. It writes
// the poisoned message to failed_events and, when the message names a
// processing record, parks that record in FAILED so its submitter is not left
// staring at SUMMARIZING forever.
type FailureRecorder struct {
	failed  FailedEventStore
	records RecordFailer
	stream  string
	group   string
}

func NewFailureRecorder(failed FailedEventStore, records RecordFailer, streamName, group string) *FailureRecorder {
	return &FailureRecorder{failed: failed, records: records, stream: streamName, group: group}
}

// Record satisfies stream.DeadLetterFunc. It must never fail the consumer, so
// persistence errors are logged and swallowed; losing a diagnostic row is
// better than wedging the live loop.
func (f *FailureRecorder) Record(ctx context.Context, msg stream.Message, cause error) {
	value, err := json.Marshal(msg.Values)
	if err != nil {
		value = []byte(`{"encode_error":"` + err.Error() + `"}`)
	}

	ev := &entity.FailedEvent{
		ID:            uuid.New(),
		Stream:        f.stream,
		MessageID:     msg.ID,
		Key:           messageKey(msg.Values),
		Value:         string(value),
		ConsumerGroup: f.group,
		ErrorType:     classify(cause),
		ErrorMessage:  cause.Error(),
		RetryCount:    int(msg.Deliveries),
		Status:        entity.FailedEventFailed,
	}
	if err := f.failed.Create(ctx, ev); err != nil {
		log.Printf("[recovery] stream=%s message_id=%s failed to record dead letter: %v", f.stream, msg.ID, err)
		return
	}
	metrics.FailedEvents.Inc()
	log.Printf("[recovery] stream=%s message_id=%s dead-lettered failed_event_id=%s error_type=%s",
		f.stream, msg.ID, ev.ID, ev.ErrorType)

	if f.records == nil {
		return
	}
	if id, ok := recordID(msg.Values); ok {
		if err := f.records.MarkFailed(ctx, id, entity.ErrCodeRecoveryExhausted, cause.Error()); err != nil {
			log.Printf("[recovery] processing_id=%s could not park record: %v", id, err)
		} else {
			metrics.RecordsTerminal.WithLabelValues(string(entity.StatusFailed)).Inc()
		}
	}
}

func classify(cause error) string {
	if errors.Is(cause, stream.ErrUnprocessable) {
		return "UNPROCESSABLE"
	}
	return "HANDLER_ERROR"
}

// messageKey picks the most useful identifier the raw values carry.
func messageKey(values map[string]interface{}) string {
	for _, k := range []string{"payload.record_id", "meta.correlation_id", "event_id", "aggregate_id"} {
		if s, ok := values[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func recordID(values map[string]interface{}) (uuid.UUID, bool) {
	s, ok := values["payload.record_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
