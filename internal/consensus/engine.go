package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/internal/invoker"
	"quorum/internal/provider"
)

// ErrParticipantCount rejects a run before any network activity when the
// participant count is wrong. The ranking prompt labels responses A/B/C, so
// the protocol is fixed at three participants.
var ErrParticipantCount = errors.New("exactly 3 participants required")

const participantCount = 3

// chairmanBackoffBase is the unit for the chairman's outer retry loop:
// 2^attempt * base. Longer than the invoker's because a chairman failure
// discards the whole run's value.
const chairmanBackoffBase = 3 * time.Second

// Caller performs one resilient backend call. *invoker.Invoker satisfies it.
type Caller interface {
	Invoke(ctx context.Context, d provider.Descriptor, prompt string, budget int) (string, error)
}

// EventSink receives run lifecycle events. *events.Client satisfies it; a
// nil sink disables publishing.
type EventSink interface {
	RunEvent(runID, event string, data map[string]any)
}

// ParticipantResult is one phase-1 slot. On failure Response carries a
// bracketed error marker and Error is set; the slot is never empty so later
// phases can reference it positionally.
type ParticipantResult struct {
	Participant int    `json:"participant"`
	Response    string `json:"response"`
	Error       string `json:"error,omitempty"`
}

// RankingResult is one phase-2 slot. Ranking is opaque text; backends are
// asked for JSON but the engine never validates it.
type RankingResult struct {
	Participant int    `json:"participant"`
	Ranking     string `json:"ranking"`
	Error       string `json:"error,omitempty"`
}

// Result is the assembled outcome of one consensus run. Responses and
// Rankings are index-aligned with the input participant order.
type Result struct {
	ID          string              `json:"id"`
	Prompt      string              `json:"prompt"`
	Responses   []ParticipantResult `json:"responses"`
	Rankings    []RankingResult     `json:"rankings"`
	FinalOutput string              `json:"final_output"`
}

// Engine drives the three-phase consensus protocol: parallel response
// collection, parallel peer ranking, chairman synthesis.
type Engine struct {
	caller Caller
	sink   EventSink
	sleep  invoker.Sleeper

	retryBudget     int
	chairmanRetries int
}

func New(caller Caller, sink EventSink, retryBudget, chairmanRetries int) *Engine {
	if retryBudget < 1 {
		retryBudget = 3
	}
	if chairmanRetries < 1 {
		chairmanRetries = 5
	}
	return &Engine{
		caller:          caller,
		sink:            sink,
		sleep:           invoker.SleepContext,
		retryBudget:     retryBudget,
		chairmanRetries: chairmanRetries,
	}
}

// Run executes one consensus round. It fails only on the participant-count
// precondition; every later failure is folded into the result.
func (e *Engine) Run(ctx context.Context, prompt string, participants []provider.Descriptor, chairman provider.Descriptor) (*Result, error) {
	if len(participants) != participantCount {
		return nil, fmt.Errorf("%w, got %d", ErrParticipantCount, len(participants))
	}

	runID := uuid.New().String()
	started := time.Now()
	slog.Info("consensus run started", "run", runID)
	e.event(runID, "run_started", map[string]any{"participants": len(participants)})

	responses := e.collectResponses(ctx, runID, prompt, participants)
	rankings := e.collectRankings(ctx, runID, prompt, participants, responses)
	final := e.synthesize(ctx, runID, prompt, chairman, responses, rankings)

	slog.Info("consensus run finished", "run", runID, "elapsed", time.Since(started))
	e.event(runID, "run_finished", map[string]any{"elapsed": time.Since(started).String()})

	return &Result{
		ID:          runID,
		Prompt:      prompt,
		Responses:   responses,
		Rankings:    rankings,
		FinalOutput: final,
	}, nil
}

// collectResponses fans out one call per participant and joins on all of
// them. Each slot is written exactly once, by index, so the output order is
// the input order regardless of completion order.
func (e *Engine) collectResponses(ctx context.Context, runID, prompt string, participants []provider.Descriptor) []ParticipantResult {
	results := make([]ParticipantResult, len(participants))

	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p provider.Descriptor) {
			defer wg.Done()

			r := ParticipantResult{Participant: i}
			text, err := e.caller.Invoke(ctx, p, prompt, e.retryBudget)
			if err != nil {
				slog.Error("participant failed", "run", runID, "participant", i, "error", err)
				r.Response = fmt.Sprintf("[Error: %s]", err)
				r.Error = err.Error()
			} else {
				r.Response = text
			}
			results[i] = r

			e.event(runID, "participant_completed", map[string]any{
				"participant": i,
				"failed":      err != nil,
			})
		}(i, p)
	}
	wg.Wait()

	return results
}

// collectRankings asks every participant to rank all phase-1 responses.
// Same fan-out/join and fault isolation as collectResponses.
func (e *Engine) collectRankings(ctx context.Context, runID, prompt string, participants []provider.Descriptor, responses []ParticipantResult) []RankingResult {
	rankingReq := rankingPrompt(prompt, responses)
	results := make([]RankingResult, len(participants))

	var wg sync.WaitGroup
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p provider.Descriptor) {
			defer wg.Done()

			r := RankingResult{Participant: i}
			text, err := e.caller.Invoke(ctx, p, rankingReq, e.retryBudget)
			if err != nil {
				slog.Error("ranking failed", "run", runID, "participant", i, "error", err)
				r.Ranking = fmt.Sprintf("[Error: %s]", err)
				r.Error = err.Error()
			} else {
				r.Ranking = text
			}
			results[i] = r

			e.event(runID, "ranking_completed", map[string]any{
				"participant": i,
				"failed":      err != nil,
			})
		}(i, p)
	}
	wg.Wait()

	return results
}

// synthesize runs the chairman call under its outer retry loop. On total
// exhaustion the final text degrades to an error marker; a consensus run
// always returns a result from here on.
func (e *Engine) synthesize(ctx context.Context, runID, prompt string, chairman provider.Descriptor, responses []ParticipantResult, rankings []RankingResult) string {
	cp := chairmanPrompt(prompt, responses, rankings)

	var lastErr error
	for attempt := 0; attempt < e.chairmanRetries; attempt++ {
		text, err := e.caller.Invoke(ctx, chairman, cp, e.retryBudget)
		if err == nil {
			e.event(runID, "chairman_completed", nil)
			return text
		}
		lastErr = err

		if attempt < e.chairmanRetries-1 {
			delay := chairmanBackoffBase * (1 << attempt)
			slog.Warn("chairman failed, retrying",
				"run", runID, "attempt", attempt+1, "retries", e.chairmanRetries,
				"delay", delay, "error", err)
			e.event(runID, "chairman_retry", map[string]any{"attempt": attempt + 1})
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	slog.Error("chairman exhausted", "run", runID, "error", lastErr)
	return fmt.Sprintf("[Error generating consensus: %s]", lastErr)
}

func (e *Engine) event(runID, event string, data map[string]any) {
	if e.sink == nil {
		return
	}
	e.sink.RunEvent(runID, event, data)
}
