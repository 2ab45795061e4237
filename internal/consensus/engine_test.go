package consensus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"quorum/internal/provider"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls int
	fn    func(d provider.Descriptor, prompt string) (string, error)
}

func (f *fakeCaller) Invoke(ctx context.Context, d provider.Descriptor, prompt string, budget int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(d, prompt)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testParticipants() []provider.Descriptor {
	var out []provider.Descriptor
	for _, model := range []string{"model-0", "model-1", "model-2"} {
		out = append(out, provider.Resolve(provider.Config{
			Endpoint: "https://api.example.com/v1/chat/completions",
			Model:    model,
		}))
	}
	return out
}

func chairmanDescriptor() provider.Descriptor {
	return provider.Resolve(provider.Config{
		Endpoint: "https://api.example.com/v1/chat/completions",
		Model:    "chairman",
	})
}

func isRanking(prompt string) bool {
	return strings.Contains(prompt, "Rank these responses")
}

func isChairman(prompt string) bool {
	return strings.Contains(prompt, "You are the chairman")
}

func noSleep(e *Engine) {
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
}

func TestRunOrderingStableUnderCompletionOrder(t *testing.T) {
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		// Finish in reverse input order to prove slots are positional.
		switch d.Model {
		case "model-0":
			time.Sleep(30 * time.Millisecond)
		case "model-1":
			time.Sleep(15 * time.Millisecond)
		}
		switch {
		case isChairman(prompt):
			return "the final answer", nil
		case isRanking(prompt):
			return "rank by " + d.Model, nil
		default:
			return "answer from " + d.Model, nil
		}
	}}

	eng := New(caller, nil, 3, 5)
	noSleep(eng)

	res, err := eng.Run(context.Background(), "the question", testParticipants(), chairmanDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantResponses := []ParticipantResult{
		{Participant: 0, Response: "answer from model-0"},
		{Participant: 1, Response: "answer from model-1"},
		{Participant: 2, Response: "answer from model-2"},
	}
	if diff := cmp.Diff(wantResponses, res.Responses); diff != "" {
		t.Errorf("responses mismatch (-want +got):\n%s", diff)
	}

	wantRankings := []RankingResult{
		{Participant: 0, Ranking: "rank by model-0"},
		{Participant: 1, Ranking: "rank by model-1"},
		{Participant: 2, Ranking: "rank by model-2"},
	}
	if diff := cmp.Diff(wantRankings, res.Rankings); diff != "" {
		t.Errorf("rankings mismatch (-want +got):\n%s", diff)
	}

	if res.FinalOutput != "the final answer" {
		t.Errorf("expected final answer, got %q", res.FinalOutput)
	}
	if res.Prompt != "the question" {
		t.Errorf("expected prompt passthrough, got %q", res.Prompt)
	}
	if res.ID == "" {
		t.Error("expected a run ID")
	}
}

func TestRunRejectsWrongParticipantCount(t *testing.T) {
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		return "unreachable", nil
	}}
	eng := New(caller, nil, 3, 5)
	noSleep(eng)

	for _, n := range []int{0, 2, 4} {
		participants := make([]provider.Descriptor, n)
		_, err := eng.Run(context.Background(), "q", participants, chairmanDescriptor())
		if !errors.Is(err, ErrParticipantCount) {
			t.Errorf("n=%d: expected ErrParticipantCount, got %v", n, err)
		}
	}
	if caller.callCount() != 0 {
		t.Errorf("expected zero backend calls, got %d", caller.callCount())
	}
}

func TestParticipantFaultIsolation(t *testing.T) {
	var rankingPrompts []string
	var mu sync.Mutex

	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		switch {
		case isChairman(prompt):
			return "final", nil
		case isRanking(prompt):
			mu.Lock()
			rankingPrompts = append(rankingPrompts, prompt)
			mu.Unlock()
			return "rank", nil
		default:
			if d.Model == "model-1" {
				return "", errors.New("connection refused")
			}
			return "answer from " + d.Model, nil
		}
	}}

	eng := New(caller, nil, 3, 5)
	noSleep(eng)

	res, err := eng.Run(context.Background(), "q", testParticipants(), chairmanDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := res.Responses[1]
	if failed.Error == "" {
		t.Error("expected error recorded on failed slot")
	}
	if !strings.HasPrefix(failed.Response, "[Error:") {
		t.Errorf("expected bracketed error marker, got %q", failed.Response)
	}
	if res.Responses[0].Error != "" || res.Responses[2].Error != "" {
		t.Error("sibling slots must not be affected by one branch failing")
	}

	// Phase 2 and 3 still ran: 3 + 3 + 1 calls.
	if caller.callCount() != 7 {
		t.Errorf("expected 7 calls, got %d", caller.callCount())
	}
	// The failed slot is referenced positionally as Response B.
	for _, p := range rankingPrompts {
		if !strings.Contains(p, "Response B: [Error:") {
			t.Errorf("ranking prompt missing failed slot marker:\n%s", p)
		}
	}
}

func TestRankingFaultIsolation(t *testing.T) {
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		switch {
		case isChairman(prompt):
			return "final", nil
		case isRanking(prompt):
			if d.Model == "model-2" {
				return "", errors.New("boom")
			}
			return "rank", nil
		default:
			return "answer", nil
		}
	}}

	eng := New(caller, nil, 3, 5)
	noSleep(eng)

	res, err := eng.Run(context.Background(), "q", testParticipants(), chairmanDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rankings[2].Error == "" || !strings.HasPrefix(res.Rankings[2].Ranking, "[Error:") {
		t.Errorf("expected error-annotated ranking slot, got %+v", res.Rankings[2])
	}
	if res.FinalOutput != "final" {
		t.Errorf("chairman must still run, got %q", res.FinalOutput)
	}
}

func TestChairmanRetryBackoff(t *testing.T) {
	var chairmanCalls int
	var mu sync.Mutex
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		if isChairman(prompt) {
			mu.Lock()
			chairmanCalls++
			n := chairmanCalls
			mu.Unlock()
			if n < 3 {
				return "", errors.New("overloaded")
			}
			return "final", nil
		}
		if isRanking(prompt) {
			return "rank", nil
		}
		return "answer", nil
	}}

	eng := New(caller, nil, 3, 5)
	var slept []time.Duration
	eng.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := eng.Run(context.Background(), "q", testParticipants(), chairmanDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalOutput != "final" {
		t.Errorf("expected final, got %q", res.FinalOutput)
	}
	// Outer loop backoff: 2^attempt * 3s.
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if diff := cmp.Diff(want, slept); diff != "" {
		t.Errorf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestChairmanExhaustionDegrades(t *testing.T) {
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		if isChairman(prompt) {
			return "", errors.New("overloaded")
		}
		if isRanking(prompt) {
			return "rank", nil
		}
		return "answer", nil
	}}

	eng := New(caller, nil, 3, 5)
	var slept []time.Duration
	eng.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := eng.Run(context.Background(), "q", testParticipants(), chairmanDescriptor())
	if err != nil {
		t.Fatalf("run must not fail on chairman exhaustion: %v", err)
	}
	if !strings.HasPrefix(res.FinalOutput, "[Error generating consensus:") {
		t.Errorf("expected degraded final output, got %q", res.FinalOutput)
	}
	// 5 attempts, 4 backoffs: 3, 6, 12, 24 seconds.
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second}
	if diff := cmp.Diff(want, slept); diff != "" {
		t.Errorf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestRunPublishesEvents(t *testing.T) {
	caller := &fakeCaller{fn: func(d provider.Descriptor, prompt string) (string, error) {
		return "ok", nil
	}}

	sink := &recordingSink{}
	eng := New(caller, sink, 3, 5)
	noSleep(eng)

	if _, err := eng.Run(context.Background(), "q", testParticipants(), chairmanDescriptor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := sink.types()
	for _, want := range []string{"run_started", "participant_completed", "ranking_completed", "chairman_completed", "run_finished"} {
		if got[want] == 0 {
			t.Errorf("expected at least one %s event, got %v", want, got)
		}
	}
	if got["participant_completed"] != 3 {
		t.Errorf("expected 3 participant_completed events, got %d", got["participant_completed"])
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) RunEvent(runID, event string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) types() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.events {
		out[e]++
	}
	return out
}
