package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
	"github.com/rhizomelab/rhizome-backend/internal/recovery"
)

// Event is the wire form of a recovery lifecycle notification. Clients
// subscribe to learn when a batch run starts, which items need review, and
// the final tallies, instead of polling the queue.
type Event struct {
	Kind       string               `json:"kind"` // started | item_flagged | completed
	UserID     uuid.UUID            `json:"user_id"`
	DocumentID uuid.UUID            `json:"document_id,omitempty"`
	EntityID   uuid.UUID            `json:"entity_id,omitempty"`
	ItemCount  int                  `json:"item_count,omitempty"`
	Method     types.RecoveryMethod `json:"method,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
	Summary    *recovery.Summary    `json:"summary,omitempty"`
}

// Bus publishes recovery events over Redis pub/sub and implements
// recovery.Notifier. Publish failures are logged, never surfaced: a broken
// bus must not affect recovery itself.
type Bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewBus(log *logger.Logger) (*Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "recovery"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Bus{
		log:     log.With("service", "RedisRecoveryBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *Bus) RecoveryStarted(ctx context.Context, userID, documentID uuid.UUID, itemCount int) {
	b.publish(ctx, Event{Kind: "started", UserID: userID, DocumentID: documentID, ItemCount: itemCount})
}

func (b *Bus) ItemFlagged(ctx context.Context, userID, entityID uuid.UUID, method types.RecoveryMethod, confidence float64) {
	b.publish(ctx, Event{Kind: "item_flagged", UserID: userID, EntityID: entityID, Method: method, Confidence: confidence})
}

func (b *Bus) RecoveryCompleted(ctx context.Context, userID, documentID uuid.UUID, summary recovery.Summary) {
	b.publish(ctx, Event{Kind: "completed", UserID: userID, DocumentID: documentID, Summary: &summary})
}

func (b *Bus) publish(ctx context.Context, ev Event) {
	if b == nil || b.rdb == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal recovery event", "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("publish recovery event", "kind", ev.Kind, "error", err)
	}
}

// StartForwarder subscribes to the channel and invokes onEvent for every
// event until ctx is cancelled. Used by the SSE layer to fan events out to
// connected clients.
func (b *Bus) StartForwarder(ctx context.Context, onEvent func(ev Event)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("recovery bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad recovery event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
