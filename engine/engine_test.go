package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ranked1v1/matchcore/compat"
	"github.com/ranked1v1/matchcore/engine"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/schedule"
	"github.com/ranked1v1/matchcore/store"
)

func newTestEngine(s store.TicketStore) *engine.Engine {
	return engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), 60*time.Second, 10*time.Millisecond)
}

func TestEngine_BindsTwoCompatibleTickets(t *testing.T) {
	s := store.NewMemoryStore(nil)
	e := newTestEngine(s)

	a, err := s.CreateTicket(context.Background(), models.Player{ID: 1, Rating: 1000}, "na")
	require.NoError(t, err)
	b, err := s.CreateTicket(context.Background(), models.Player{ID: 2, Rating: 1010}, "na")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results := make(chan engine.Outcome, 2)
	go func() {
		out, err := e.Run(ctx, a, nil)
		require.NoError(t, err)
		results <- out
	}()
	go func() {
		out, err := e.Run(ctx, b, nil)
		require.NoError(t, err)
		results <- out
	}()

	first := <-results
	second := <-results

	require.Equal(t, models.TicketMatched, first.Status)
	require.Equal(t, models.TicketMatched, second.Status)
	require.NotNil(t, first.MatchID)
	require.Equal(t, *first.MatchID, *second.MatchID)
}

func TestEngine_ExpiresAfterTimeout(t *testing.T) {
	s := store.NewMemoryStore(nil)
	e := engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), 30*time.Millisecond, 5*time.Millisecond)

	ticket, err := s.CreateTicket(context.Background(), models.Player{ID: 1, Rating: 1000}, "na")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := e.Run(ctx, ticket, nil)
	require.NoError(t, err)
	require.Equal(t, models.TicketExpired, out.Status)
}

func TestEngine_DifferentAreaNeverMatches(t *testing.T) {
	s := store.NewMemoryStore(nil)
	e := engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), 30*time.Millisecond, 5*time.Millisecond)

	a, err := s.CreateTicket(context.Background(), models.Player{ID: 1, Rating: 1000}, "na")
	require.NoError(t, err)
	_, err = s.CreateTicket(context.Background(), models.Player{ID: 2, Rating: 1000}, "eu")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := e.Run(ctx, a, nil)
	require.NoError(t, err)
	require.Equal(t, models.TicketExpired, out.Status)
}

func TestEngine_ReturnsImmediatelyIfAlreadyTerminal(t *testing.T) {
	s := store.NewMemoryStore(nil)
	e := newTestEngine(s)

	ticket, err := s.CreateTicket(context.Background(), models.Player{ID: 1, Rating: 1000}, "na")
	require.NoError(t, err)
	_, err = s.Cancel(context.Background(), ticket.ID)
	require.NoError(t, err)

	out, err := e.Run(context.Background(), ticket, nil)
	require.NoError(t, err)
	require.Equal(t, models.TicketCancelled, out.Status)
}

func TestEngine_EmitsSearchingTicks(t *testing.T) {
	s := store.NewMemoryStore(nil)
	e := engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), 40*time.Millisecond, 5*time.Millisecond)

	ticket, err := s.CreateTicket(context.Background(), models.Player{ID: 1, Rating: 1000}, "na")
	require.NoError(t, err)

	var ticks int
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := e.Run(ctx, ticket, func(tick engine.Tick) { ticks++ })
	require.NoError(t, err)
	require.Equal(t, models.TicketExpired, out.Status)
	require.Greater(t, ticks, 0)
}
