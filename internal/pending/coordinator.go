// Package pending tracks the one in-flight question a user may have and
// lets retried webhook deliveries wait for or fetch its answer instead of
// firing the LLM call again.
package pending

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PollToken is the literal text users send to ask for their last answer.
// WeChat re-delivers unanswered callbacks with the same body, so both retries
// and explicit polls funnel through the same duplicate path.
const PollToken = "1"

// Decision tells the caller what to do with an incoming question.
type Decision int

const (
	// Start means the question is new: the caller owns the LLM call and
	// must Resolve exactly once, on success and failure alike.
	Start Decision = iota
	// Duplicate means the same question (or a poll) is already in flight;
	// the caller should wait briefly via AwaitResult.
	Duplicate
	// DifferentWhileBusy means the user asked something else while a
	// question is still processing; the caller should answer with a busy
	// hint without blocking.
	DifferentWhileBusy
	// ServeCached means the previous answer is ready and should be served
	// from cache instead of recomputed.
	ServeCached
)

func (d Decision) String() string {
	switch d {
	case Start:
		return "start"
	case Duplicate:
		return "duplicate"
	case DifferentWhileBusy:
		return "different_while_busy"
	case ServeCached:
		return "serve_cached"
	default:
		return "unknown"
	}
}

type state int

const (
	processing state = iota
	resolved
)

type record struct {
	id        string
	question  string
	state     state
	answer    string
	createdAt time.Time
}

// Coordinator serializes question handling per user: at most one PROCESSING
// record exists per user at any instant, and the PROCESSING→RESOLVED
// transition happens atomically under the registry lock.
type Coordinator struct {
	mu      sync.Mutex
	records map[string]*record
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{records: make(map[string]*record)}
}

// StartOrJoin classifies an incoming question for the user and, when it is
// genuinely new, transitions the user to PROCESSING, replacing any previous
// resolved record.
func (c *Coordinator) StartOrJoin(user, question string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[user]
	switch {
	case rec == nil:
		c.startLocked(user, question)
		return Start

	case rec.state == processing:
		if question == rec.question || question == PollToken {
			return Duplicate
		}
		return DifferentWhileBusy

	default: // resolved
		if question == PollToken || question == rec.question {
			return ServeCached
		}
		c.startLocked(user, question)
		return Start
	}
}

func (c *Coordinator) startLocked(user, question string) {
	rec := &record{
		id:        uuid.NewString(),
		question:  question,
		state:     processing,
		createdAt: time.Now(),
	}
	c.records[user] = rec
	slog.Info("question processing started", "user_id", user, "question_id", rec.id)
}

// Resolve stores the answer and transitions the user to RESOLVED. Callers
// must invoke it exactly once per Start decision; an error-shaped answer on
// failure paths keeps the user from being wedged in PROCESSING forever.
func (c *Coordinator) Resolve(user, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[user]
	if rec == nil {
		slog.Warn("resolve without pending record", "user_id", user)
		return
	}
	if rec.state == resolved {
		slog.Warn("resolve on already resolved record", "user_id", user, "question_id", rec.id)
		return
	}
	rec.state = resolved
	rec.answer = answer
	slog.Info("question resolved", "user_id", user, "question_id", rec.id,
		"elapsed", time.Since(rec.createdAt))
}

// FetchCached returns the user's last resolved answer, if any.
func (c *Coordinator) FetchCached(user string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.records[user]
	if rec == nil || rec.state != resolved {
		return "", false
	}
	return rec.answer, true
}

// AwaitResult waits up to maxWait for the user's in-flight question to
// resolve, checking at pollInterval granularity. It holds no lock while
// waiting so a concurrent Resolve can proceed. The second return is false
// when the wait timed out (or the context was canceled) with the question
// still processing.
func (c *Coordinator) AwaitResult(ctx context.Context, user string, maxWait, pollInterval time.Duration) (string, bool) {
	if answer, ok := c.FetchCached(user); ok {
		return answer, true
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(maxWait)

	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
			if answer, ok := c.FetchCached(user); ok {
				return answer, true
			}
			if !time.Now().Before(deadline) {
				slog.Info("wait for answer timed out", "user_id", user, "max_wait", maxWait)
				return "", false
			}
		}
	}
}
