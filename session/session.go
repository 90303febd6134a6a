// Package session implements the Session Facade (spec §4.6): the
// entrypoint every external request goes through. It owns nothing the
// store or engine don't already own; it only sequences calls to them for
// the lifetime of one request.
package session

import (
	"context"
	"errors"

	"github.com/ranked1v1/matchcore/engine"
	"github.com/ranked1v1/matchcore/errs"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/store"
)

// EventType enumerates the SSE-shaped events a streaming match request
// emits (spec §6's SSE schema), kept transport-agnostic here.
type EventType string

const (
	EventSearching EventType = "searching"
	EventQueued    EventType = "queued"
	EventMatched   EventType = "matched"
	EventExpired   EventType = "expired"
	EventCancelled EventType = "cancelled"
)

// Event is one line of a streaming match request.
type Event struct {
	Type       EventType
	Threshold  float64
	Candidates int
	Waited     float64
	QueueSize  int
	MatchID    *int
}

// Result is the terminal outcome of a blocking or streaming match request.
type Result struct {
	Status  models.TicketStatus
	MatchID *int
}

// Facade wraps a TicketStore and Engine for one external request's
// lifetime. It holds no per-request state between calls.
type Facade struct {
	store   store.TicketStore
	engine  *engine.Engine
	kFactor float64
}

func New(s store.TicketStore, e *engine.Engine, kFactor float64) *Facade {
	return &Facade{store: s, engine: e, kFactor: kFactor}
}

// RequestMatch implements the blocking match request: create a ticket,
// run the engine poll loop to completion, and return the terminal status.
func (f *Facade) RequestMatch(ctx context.Context, playerID int) (Result, error) {
	ticket, err := f.enqueue(ctx, playerID)
	if err != nil {
		return Result{}, err
	}

	outcome, err := f.engine.Run(ctx, ticket, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_, _ = f.store.Cancel(context.Background(), ticket.ID)
			return Result{Status: models.TicketCancelled}, nil
		}
		return Result{}, errs.New(errs.Operational, err)
	}
	return Result{Status: outcome.Status, MatchID: outcome.MatchID}, nil
}

// cancel best-effort cancels a ticket; used when this side of a request
// is going away (timeout, disconnect) and the terminal event no longer
// matters to the store's own bookkeeping.
func (f *Facade) cancel(ctx context.Context, ticketID int) {
	_, _ = f.store.Cancel(ctx, ticketID)
}

// StreamMatch implements the streaming match request: same lifecycle as
// RequestMatch, but emit emits one Event per poll tick and one final
// terminal Event. The stream ends when emit returns an error (client
// disconnect), which this treats as cancellation, or when the engine
// reaches a terminal state.
func (f *Facade) StreamMatch(ctx context.Context, playerID int, emit func(Event) error) error {
	ticket, err := f.enqueue(ctx, playerID)
	if err != nil {
		return err
	}

	queueSize := f.queueSize(ctx, ticket)
	if err := emit(Event{Type: EventQueued, QueueSize: queueSize}); err != nil {
		f.cancel(context.Background(), ticket.ID)
		return nil
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	disconnected := false
	onTick := func(t engine.Tick) {
		if disconnected {
			return
		}
		err := emit(Event{
			Type:       EventSearching,
			Threshold:  t.Threshold,
			Candidates: t.Candidates,
			Waited:     t.Waited.Seconds(),
		})
		if err != nil {
			disconnected = true
			cancelStream()
		}
	}

	outcome, err := f.engine.Run(streamCtx, ticket, onTick)
	if err != nil {
		if disconnected || errors.Is(err, context.Canceled) {
			f.cancel(context.Background(), ticket.ID)
			_ = emit(Event{Type: EventCancelled})
			return nil
		}
		return errs.New(errs.Operational, err)
	}

	return emit(terminalEvent(outcome))
}

func terminalEvent(outcome engine.Outcome) Event {
	switch outcome.Status {
	case models.TicketMatched:
		return Event{Type: EventMatched, MatchID: outcome.MatchID}
	case models.TicketCancelled:
		return Event{Type: EventCancelled}
	default:
		return Event{Type: EventExpired}
	}
}

func (f *Facade) enqueue(ctx context.Context, playerID int) (*models.Ticket, error) {
	player, err := f.store.ReadPlayer(ctx, playerID)
	if err != nil {
		return nil, errs.FromStore(err)
	}

	ticket, err := f.store.CreateTicket(ctx, *player, player.Area)
	if err != nil {
		return nil, errs.FromStore(err)
	}
	return ticket, nil
}

func (f *Facade) queueSize(ctx context.Context, ticket *models.Ticket) int {
	candidates, err := f.store.ListWaiting(ctx, ticket.Area, ticket.PlayerID, ticket.ID)
	if err != nil {
		return 0
	}
	return len(candidates)
}

// StartMatch implements the §4.6 direct-invite path.
func (f *Facade) StartMatch(ctx context.Context, playerAID, playerBID int) (*models.Match, error) {
	match, err := f.store.StartMatch(ctx, playerAID, playerBID)
	if err != nil {
		return nil, errs.FromStore(err)
	}
	return match, nil
}

// CancelMatch delegates to the store, translating the error kind.
func (f *Facade) CancelMatch(ctx context.Context, matchID int) error {
	if err := f.store.CancelMatch(ctx, matchID); err != nil {
		return errs.FromStore(err)
	}
	return nil
}

// FinishMatch delegates to the store with the facade's configured
// K-factor and returns the rating deltas.
func (f *Facade) FinishMatch(ctx context.Context, matchID int, scoreA, scoreB int) (*store.FinishResult, error) {
	result, err := f.store.FinishMatch(ctx, matchID, scoreA, scoreB, f.kFactor)
	if err != nil {
		return nil, errs.FromStore(err)
	}
	return result, nil
}

// CancelTicket cancels a WAITING ticket directly — used when a streaming
// client disconnects and the caller already knows the ticket id, bypassing
// StreamMatch's own cancellation path.
func (f *Facade) CancelTicket(ctx context.Context, ticketID int) (store.CancelResult, error) {
	result, err := f.store.Cancel(ctx, ticketID)
	if err != nil {
		return 0, errs.FromStore(err)
	}
	return result, nil
}
