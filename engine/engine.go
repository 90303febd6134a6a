// Package engine implements the Matchmaker Engine (spec §4.4): for each
// WAITING ticket, repeatedly attempts to bind it to the best
// currently-eligible opponent, at a fixed poll interval, until the ticket
// reaches a terminal state or times out.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ranked1v1/matchcore/compat"
	"github.com/ranked1v1/matchcore/metrics"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/schedule"
	"github.com/ranked1v1/matchcore/store"
)

// maxConsecutiveErrors is the number of consecutive transient store errors
// a poll loop tolerates before giving up and expiring the ticket with a
// store-error reason.
const maxConsecutiveErrors = 3

// Tick is emitted once per poll iteration that reaches the candidate scan,
// before any bind attempt, so the Session Facade can surface a "searching" SSE event without the
// engine knowing anything about HTTP.
type Tick struct {
	Threshold  float64
	Candidates int
	Waited     time.Duration
}

// Outcome is the terminal result of a poll loop.
type Outcome struct {
	Status  models.TicketStatus
	MatchID *int
}

// Engine runs poll loops against a TicketStore.
type Engine struct {
	store        store.TicketStore
	compatCfg    compat.Config
	thresholdCfg schedule.Config
	timeout      time.Duration
	pollInterval time.Duration
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(s store.TicketStore, compatCfg compat.Config, thresholdCfg schedule.Config, timeout, pollInterval time.Duration) *Engine {
	return &Engine{
		store:        s,
		compatCfg:    compatCfg,
		thresholdCfg: thresholdCfg,
		timeout:      timeout,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// WithMetrics attaches Prometheus instrumentation. Safe to leave unset, in
// which case poll loops simply don't record anything (tests do this).
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithLogger attaches a logger for transient-error reporting. Safe to
// leave unset.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// candidate is an eligible opponent ticket with its computed score, kept
// alongside the fields the tie-break in step 6 of §4.4 orders on.
type candidate struct {
	ticket    *models.Ticket
	score     float64
	minWait   time.Duration
	ratingGap int
}

// Run executes the poll loop for one ticket until it reaches a terminal
// state, the context is cancelled, or the timeout elapses. onTick, if
// non-nil, is called once per iteration that lists candidates, with the
// count of eligible ones — the Session Facade uses it to emit "searching"
// events.
func (e *Engine) Run(ctx context.Context, ticket *models.Ticket, onTick func(Tick)) (Outcome, error) {
	consecutiveErrors := 0

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		current, err := e.store.ReadTicket(ctx, ticket.ID)
		if err != nil {
			if outcome, handled := e.handleTransientError(ctx, ticket.ID, &consecutiveErrors, err); handled {
				return outcome, nil
			}
			if err := sleep(ctx, e.pollInterval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		if current.Status != models.TicketWaiting {
			e.observeWait(current.Wait(e.now()))
			return outcomeFor(current), nil
		}

		wait := current.Wait(e.now())
		if wait >= e.timeout {
			_ = e.store.Expire(ctx, current.ID, "timeout")
			e.observeWait(wait)
			return Outcome{Status: models.TicketExpired}, nil
		}

		e.incPollTick()
		threshold := schedule.Threshold(e.thresholdCfg, wait.Seconds())

		candidates, err := e.store.ListWaiting(ctx, current.Area, current.PlayerID, current.ID)
		if err != nil {
			if outcome, handled := e.handleTransientError(ctx, current.ID, &consecutiveErrors, err); handled {
				return outcome, nil
			}
			if err := sleep(ctx, e.pollInterval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		eligible := e.eligibleCandidates(current, candidates, wait, threshold)

		if onTick != nil {
			onTick(Tick{Threshold: threshold, Candidates: len(eligible), Waited: wait})
		}

		if len(eligible) == 0 {
			consecutiveErrors = 0
			if err := sleep(ctx, e.pollInterval); err != nil {
				return Outcome{}, err
			}
			continue
		}

		match, bound, err := e.tryBindBest(ctx, current.ID, eligible)
		if err != nil {
			if outcome, handled := e.handleTransientError(ctx, current.ID, &consecutiveErrors, err); handled {
				return outcome, nil
			}
			if err := sleep(ctx, e.pollInterval); err != nil {
				return Outcome{}, err
			}
			continue
		}
		consecutiveErrors = 0
		if bound {
			e.observeWait(wait)
			return Outcome{Status: models.TicketMatched, MatchID: &match.ID}, nil
		}

		if err := sleep(ctx, e.pollInterval); err != nil {
			return Outcome{}, err
		}
	}
}

// eligibleCandidates scores every candidate against the focal ticket,
// discards those below threshold or in a different area, and returns the
// survivors ordered per the §4.4 step 6 tie-break.
func (e *Engine) eligibleCandidates(self *models.Ticket, raw []*models.Ticket, selfWait time.Duration, threshold float64) []candidate {
	var out []candidate
	for _, c := range raw {
		cWait := c.Wait(e.now())
		score, err := compat.Score(e.compatCfg, self, c, selfWait.Seconds(), cWait.Seconds())
		if err != nil {
			continue // different area; never offered to the engine
		}
		if score < threshold {
			continue
		}
		minWait := selfWait
		if cWait < minWait {
			minWait = cWait
		}
		gap := self.RatingAtQueue - c.RatingAtQueue
		if gap < 0 {
			gap = -gap
		}
		out = append(out, candidate{ticket: c, score: score, minWait: minWait, ratingGap: gap})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.minWait != b.minWait {
			return a.minWait > b.minWait
		}
		if a.ratingGap != b.ratingGap {
			return a.ratingGap < b.ratingGap
		}
		return a.ticket.ID < b.ticket.ID
	})
	return out
}

// tryBindBest attempts to bind selfID to each candidate in tie-break
// order, dropping any that lose the race (store.ErrConflict) and moving to
// the next, per §4.4 step 7.
func (e *Engine) tryBindBest(ctx context.Context, selfID int, candidates []candidate) (*models.Match, bool, error) {
	for _, c := range candidates {
		match, err := e.store.TryBind(ctx, selfID, c.ticket.ID)
		if err == nil {
			return match, true, nil
		}
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			if e.metrics != nil {
				e.metrics.BindConflicts.Inc()
			}
			continue
		}
		return nil, false, err
	}
	return nil, false, nil
}

// handleTransientError counts the error. After three consecutive failures
// it expires the ticket with a store-error reason and returns a terminal
// outcome (handled=true); otherwise it reports handled=false so the caller
// backs off and retries the tick.
func (e *Engine) handleTransientError(ctx context.Context, ticketID int, consecutive *int, err error) (Outcome, bool) {
	*consecutive++
	if *consecutive < maxConsecutiveErrors {
		return Outcome{}, false
	}
	_ = e.store.Expire(ctx, ticketID, "store-error")
	if e.logger != nil {
		e.logger.Warn("expiring ticket after repeated store errors", slog.Int("ticket_id", ticketID), slog.Any("error", err))
	}
	return Outcome{Status: models.TicketExpired}, true
}

func (e *Engine) incPollTick() {
	if e.metrics != nil {
		e.metrics.PollTicks.Inc()
	}
}

func (e *Engine) observeWait(d time.Duration) {
	if e.metrics != nil {
		e.metrics.WaitSeconds.Observe(d.Seconds())
	}
}

func outcomeFor(t *models.Ticket) Outcome {
	return Outcome{Status: t.Status, MatchID: t.BoundMatchID}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
