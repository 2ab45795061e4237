package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"quorum/internal/config"
)

func newTestBus(t *testing.T) (*Bus, *Client) {
	t.Helper()
	bus, err := NewBus(config.NATSConfig{Port: 0}) // random port
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return bus, client
}

func TestBusStart(t *testing.T) {
	bus, _ := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestRunEventRoundTrip(t *testing.T) {
	_, client := newTestBus(t)

	received := make(chan []byte, 1)
	_, err := client.Subscribe(TopicRunsAll, func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	client.RunEvent("run-1", "run_started", map[string]any{"participants": 3})
	client.Flush()

	select {
	case data := <-received:
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if e.Type != "run_started" {
			t.Errorf("expected run_started, got %s", e.Type)
		}
		if e.RunID != "run-1" {
			t.Errorf("expected run-1, got %s", e.RunID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicRun("abc"); got != "runs.abc.events" {
		t.Errorf("expected runs.abc.events, got %s", got)
	}
}
