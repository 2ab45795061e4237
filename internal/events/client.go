package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one run lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	conn, err := nats.Connect(bus.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// RunEvent publishes a run lifecycle event. Best effort: a failed publish
// is logged, never surfaced, so event delivery can never fail a consensus run.
func (c *Client) RunEvent(runID, event string, data map[string]any) {
	e := Event{
		Type:      event,
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	if err := c.PublishJSON(TopicRun(runID), e); err != nil {
		slog.Warn("publish run event failed", "run", runID, "event", event, "error", err)
	}
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
