package stream

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher appends messages to one stream with an approximate length cap so
// an idle consumer can never grow Redis without bound.
type Publisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewPublisher(rdb *redis.Client, stream string, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (p *Publisher) Publish(ctx context.Context, values map[string]interface{}) (string, error) {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
}

func (p *Publisher) PublishSubmission(ctx context.Context, sub Submission) (string, error) {
	return p.Publish(ctx, sub.Values())
}

func (p *Publisher) PublishEvent(ctx context.Context, ev Event) (string, error) {
	return p.Publish(ctx, ev.Values())
}
