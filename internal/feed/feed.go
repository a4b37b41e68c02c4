// Package feed carries live note-change events between clients in cloud
// mode, over one Redis pub/sub channel per owner.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taskmark/api/internal/note"
)

type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Event is one change pushed through the feed. Delete events carry only the
// note id.
type Event struct {
	Kind   EventKind `json:"kind"`
	NoteID string    `json:"noteId"`
	Note   note.Note `json:"note,omitempty"`
}

// Feed publishes and subscribes to per-owner note change channels.
type Feed struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection before returning.
func New(redisURL string) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Feed{client: client, prefix: "notes:"}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Feed {
	return &Feed{client: client, prefix: "notes:"}
}

func (f *Feed) channel(owner string) string {
	return f.prefix + owner
}

// Publish pushes one event onto the owner's channel.
func (f *Feed) Publish(ctx context.Context, owner string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(owner), payload).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Subscribe opens a live event stream for the owner and invokes onChange for
// every event until the returned cancel function runs. Cancel is safe to
// call more than once and must be called on every teardown path, including
// mode switches.
func (f *Feed) Subscribe(ctx context.Context, owner string, onChange func(Event)) (func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel(owner))

	// Force the SUBSCRIBE round trip so a dead Redis fails here, not
	// silently in the reader goroutine.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel(owner), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("feed: drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			onChange(ev)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
			<-done
		})
	}
	return cancel, nil
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *Feed) Close() error {
	return f.client.Close()
}
