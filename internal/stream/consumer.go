package stream

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"jd-summary-service/internal/metrics"
)

// Message is one claimed stream entry plus how many times the group has
// delivered it.
type Message struct {
	ID         string
	Values     map[string]interface{}
	Deliveries int64
}

// Handler processes one message. A nil return acknowledges the message; an
// error leaves it pending for redelivery, except ErrUnprocessable which
// dead-letters it immediately.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterFunc receives messages that exhausted their delivery budget (or
// can never be processed) before they are acknowledged away.
type DeadLetterFunc func(ctx context.Context, msg Message, cause error)

// StreamClient is the slice of the Redis API the consumer uses. *redis.Client
// satisfies it; tests stand in for a real server.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type ConsumerConfig struct {
	Stream        string
	Group         string
	Name          string        // consumer identity within the group
	Block         time.Duration // XREADGROUP poll timeout
	BatchSize     int64
	MinIdle       time.Duration // pending entries idle longer than this get re-claimed
	SweepEvery    time.Duration
	MaxDeliveries int64
}

// Consumer reads a consumer-group-partitioned stream, acknowledging only
// handled messages. On start (and periodically) it sweeps the group's pending
// entries and re-claims anything a dead consumer abandoned, so a crash never
// strands work.
type Consumer struct {
	rdb        StreamClient
	cfg        ConsumerConfig
	handler    Handler
	deadLetter DeadLetterFunc
}

func NewConsumer(rdb StreamClient, cfg ConsumerConfig, handler Handler, deadLetter DeadLetterFunc) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = time.Minute
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	return &Consumer{rdb: rdb, cfg: cfg, handler: handler, deadLetter: deadLetter}
}

// Run consumes until ctx is cancelled. It returns ctx.Err() on shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	// recover abandoned work before touching live traffic
	if n, err := c.sweep(ctx); err != nil {
		log.Printf("[stream] group=%s consumer=%s sweep error=%v", c.cfg.Group, c.cfg.Name, err)
	} else if n > 0 {
		log.Printf("[stream] group=%s consumer=%s reclaimed=%d", c.cfg.Group, c.cfg.Name, n)
	}
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastSweep) >= c.cfg.SweepEvery {
			if n, err := c.sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[stream] group=%s consumer=%s sweep error=%v", c.cfg.Group, c.cfg.Name, err)
			} else if n > 0 {
				log.Printf("[stream] group=%s consumer=%s reclaimed=%d", c.cfg.Group, c.cfg.Name, n)
			}
			lastSweep = time.Now()
		}

		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // poll timeout, nothing new
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[stream] group=%s consumer=%s read error=%v", c.cfg.Group, c.cfg.Name, err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range res {
			for _, m := range s.Messages {
				c.dispatch(ctx, Message{ID: m.ID, Values: m.Values, Deliveries: 1})
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// sweep re-claims pending entries idle past MinIdle and replays them through
// the live handler. Entries past the delivery budget are dead-lettered and
// acknowledged so a poison message cannot wedge the group.
func (c *Consumer) sweep(ctx context.Context) (int, error) {
	var claimed int
	cursor := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			MinIdle:  c.cfg.MinIdle,
			Start:    cursor,
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil {
			return claimed, err
		}

		for _, m := range msgs {
			claimed++
			metrics.SweepClaims.WithLabelValues(c.cfg.Group).Inc()
			c.dispatch(ctx, Message{ID: m.ID, Values: m.Values, Deliveries: c.deliveries(ctx, m.ID)})
		}

		if next == "0-0" || len(msgs) == 0 {
			return claimed, nil
		}
		cursor = next
	}
}

// deliveries looks up the PEL delivery count for one entry; 1 if unknown.
func (c *Consumer) deliveries(ctx context.Context, id string) int64 {
	pend, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pend) == 0 {
		return 1
	}
	return pend[0].RetryCount
}

func (c *Consumer) dispatch(ctx context.Context, msg Message) {
	if msg.Deliveries > c.cfg.MaxDeliveries {
		log.Printf("[stream] group=%s msg_id=%s deliveries=%d budget exhausted, dead-lettering",
			c.cfg.Group, msg.ID, msg.Deliveries)
		if c.deadLetter != nil {
			c.deadLetter(ctx, msg, errors.New("delivery budget exhausted"))
		}
		c.ack(ctx, msg.ID)
		return
	}

	err := c.handler(ctx, msg)
	if err == nil {
		c.ack(ctx, msg.ID)
		return
	}

	if errors.Is(err, ErrUnprocessable) {
		log.Printf("[stream] group=%s msg_id=%s unprocessable error=%v", c.cfg.Group, msg.ID, err)
		if c.deadLetter != nil {
			c.deadLetter(ctx, msg, err)
		}
		c.ack(ctx, msg.ID)
		return
	}

	// transient: stay pending, the next sweep or consumer retries it
	log.Printf("[stream] group=%s msg_id=%s deliveries=%d handler error=%v",
		c.cfg.Group, msg.ID, msg.Deliveries, err)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		log.Printf("[stream] group=%s msg_id=%s ack error=%v", c.cfg.Group, id, err)
	}
}
