// Package queue moves run requests between the API and the pipeline
// workers over Redis Streams.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream and event names.
const (
	RunStream        = "shorts.runs"
	EventRunEnqueued = "run.enqueued"
)

// RunRequest is the payload of a run.enqueued event. RerunFrom names the
// stage to recompute; empty means run the whole pipeline.
type RunRequest struct {
	RunID     string `json:"run_id"`
	RerunFrom string `json:"rerun_from,omitempty"`
}

// Envelope is the message wrapper persisted to the stream.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Attempt    int             `json:"attempt"`
	Data       json.RawMessage `json:"data"`
}

// Validate checks the mandatory envelope fields.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Publisher appends envelopes to a stream.
type Publisher struct {
	client *redis.Client
	maxLen int64
}

// NewPublisher creates a Publisher. maxLen bounds the stream approximately;
// zero means unbounded.
func NewPublisher(client *redis.Client, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

// PublishRun enqueues a run request and returns the stream entry id.
func (p *Publisher) PublishRun(ctx context.Context, req RunRequest) (string, error) {
	if req.RunID == "" {
		return "", fmt.Errorf("run_id is required")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventRunEnqueued,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: RunStream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Message is a consumed stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Consumer reads envelopes through a consumer group.
type Consumer struct {
	client *redis.Client
	group  string
	name   string
}

// NewConsumer builds a consumer for the given group and name.
func NewConsumer(client *redis.Client, group, name string) *Consumer {
	return &Consumer{client: client, group: group, name: name}
}

// EnsureGroup creates the consumer group if it does not exist.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read pulls up to count messages, blocking for at most block. Malformed
// entries are acknowledged and dropped so they cannot wedge the group.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{RunStream, ">"},
		Count:    count,
		Block:    block,
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range streams {
		for _, msg := range st.Messages {
			raw, ok := msg.Values["envelope"].(string)
			if !ok {
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Validate() != nil {
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			out = append(out, Message{ID: msg.ID, Envelope: env})
		}
	}
	return out, nil
}

// Ack acknowledges processed message ids.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, RunStream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}
