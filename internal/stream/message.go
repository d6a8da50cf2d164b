package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
)

// ErrUnprocessable marks a message that can never succeed (malformed wire
// format, unknown type). The consumer dead-letters it immediately instead of
// burning redeliveries.
var ErrUnprocessable = errors.New("unprocessable message")

const (
	SubmissionType    = "jd.submission"
	SubmissionVersion = "1"
)

// Submission is the typed form of one inbound stream message. Field names on
// the wire are flat strings namespaced as meta.* / payload.*.
type Submission struct {
	CorrelationID uuid.UUID
	Timestamp     time.Time
	BrandHint     string
	PositionHint  string

	RecordID    uuid.UUID
	SnapshotID  uuid.UUID
	SourceType  entity.SourceType
	SourceURL   string
	ContentHash string
	Simhash     uint64
	Canonical   string
	Skills      []string
	PeriodFrom  string
	PeriodTo    string
}

// Values flattens the submission into the wire map for XADD.
func (s Submission) Values() map[string]interface{} {
	v := map[string]interface{}{
		"meta.type":            SubmissionType,
		"meta.version":         SubmissionVersion,
		"meta.timestamp":       s.Timestamp.UTC().Format(time.RFC3339Nano),
		"meta.correlation_id":  s.CorrelationID.String(),
		"payload.record_id":    s.RecordID.String(),
		"payload.snapshot_id":  s.SnapshotID.String(),
		"payload.source_type":  string(s.SourceType),
		"payload.content_hash": s.ContentHash,
		"payload.simhash":      strconv.FormatUint(s.Simhash, 10),
		"payload.canonical":    s.Canonical,
	}
	if s.BrandHint != "" {
		v["meta.brand"] = s.BrandHint
	}
	if s.PositionHint != "" {
		v["meta.position"] = s.PositionHint
	}
	if s.SourceURL != "" {
		v["payload.source_url"] = s.SourceURL
	}
	if len(s.Skills) > 0 {
		v["payload.skills"] = strings.Join(s.Skills, ",")
	}
	if s.PeriodFrom != "" {
		v["payload.period_from"] = s.PeriodFrom
	}
	if s.PeriodTo != "" {
		v["payload.period_to"] = s.PeriodTo
	}
	return v
}

// ParseSubmission converts raw stream values back into a Submission.
// A missing required key is a hard parse failure: we fail fast rather than
// guess at upstream intent.
func ParseSubmission(values map[string]interface{}) (Submission, error) {
	get := func(key string) (string, error) {
		raw, ok := values[key]
		if !ok {
			return "", fmt.Errorf("%w: missing key %s", ErrUnprocessable, key)
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%w: empty key %s", ErrUnprocessable, key)
		}
		return s, nil
	}
	opt := func(key string) string {
		if s, ok := values[key].(string); ok {
			return s
		}
		return ""
	}

	typ, err := get("meta.type")
	if err != nil {
		return Submission{}, err
	}
	if typ != SubmissionType {
		return Submission{}, fmt.Errorf("%w: unexpected meta.type %q", ErrUnprocessable, typ)
	}
	if _, err := get("meta.version"); err != nil {
		return Submission{}, err
	}

	var sub Submission
	for _, f := range []struct {
		key string
		dst *uuid.UUID
	}{
		{"meta.correlation_id", &sub.CorrelationID},
		{"payload.record_id", &sub.RecordID},
		{"payload.snapshot_id", &sub.SnapshotID},
	} {
		s, err := get(f.key)
		if err != nil {
			return Submission{}, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return Submission{}, fmt.Errorf("%w: bad uuid in %s: %v", ErrUnprocessable, f.key, err)
		}
		*f.dst = id
	}

	ts, err := get("meta.timestamp")
	if err != nil {
		return Submission{}, err
	}
	sub.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: bad meta.timestamp: %v", ErrUnprocessable, err)
	}

	st, err := get("payload.source_type")
	if err != nil {
		return Submission{}, err
	}
	switch entity.SourceType(st) {
	case entity.SourceText, entity.SourceOCR, entity.SourceURL:
		sub.SourceType = entity.SourceType(st)
	default:
		return Submission{}, fmt.Errorf("%w: unknown payload.source_type %q", ErrUnprocessable, st)
	}

	if sub.ContentHash, err = get("payload.content_hash"); err != nil {
		return Submission{}, err
	}
	simStr, err := get("payload.simhash")
	if err != nil {
		return Submission{}, err
	}
	if sub.Simhash, err = strconv.ParseUint(simStr, 10, 64); err != nil {
		return Submission{}, fmt.Errorf("%w: bad payload.simhash: %v", ErrUnprocessable, err)
	}
	if sub.Canonical, err = get("payload.canonical"); err != nil {
		return Submission{}, err
	}

	sub.BrandHint = opt("meta.brand")
	sub.PositionHint = opt("meta.position")
	sub.SourceURL = opt("payload.source_url")
	if raw := opt("payload.skills"); raw != "" {
		sub.Skills = strings.Split(raw, ",")
	}
	sub.PeriodFrom = opt("payload.period_from")
	sub.PeriodTo = opt("payload.period_to")

	return sub, nil
}

// Event is the downstream topic message relayed from an outbox row. The key
// is the aggregate id; the payload travels verbatim.
type Event struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       string
}

func (e Event) Values() map[string]interface{} {
	return map[string]interface{}{
		"event_id":       e.EventID.String(),
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"event_type":     e.EventType,
		"payload":        e.Payload,
	}
}

func ParseEvent(values map[string]interface{}) (Event, error) {
	get := func(key string) (string, error) {
		s, ok := values[key].(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%w: missing key %s", ErrUnprocessable, key)
		}
		return s, nil
	}

	var (
		e   Event
		err error
	)
	idStr, err := get("event_id")
	if err != nil {
		return Event{}, err
	}
	if e.EventID, err = uuid.Parse(idStr); err != nil {
		return Event{}, fmt.Errorf("%w: bad event_id: %v", ErrUnprocessable, err)
	}
	if e.AggregateType, err = get("aggregate_type"); err != nil {
		return Event{}, err
	}
	if e.AggregateID, err = get("aggregate_id"); err != nil {
		return Event{}, err
	}
	if e.EventType, err = get("event_type"); err != nil {
		return Event{}, err
	}
	if e.Payload, err = get("payload"); err != nil {
		return Event{}, err
	}
	return e, nil
}
