package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ranked1v1/matchcore/compat"
	"github.com/ranked1v1/matchcore/engine"
	"github.com/ranked1v1/matchcore/errs"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/rating"
	"github.com/ranked1v1/matchcore/schedule"
	"github.com/ranked1v1/matchcore/session"
	"github.com/ranked1v1/matchcore/store"
)

func newFacade(t *testing.T, timeout, poll time.Duration) (*session.Facade, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	e := engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), timeout, poll)
	return session.New(s, e, rating.DefaultKFactor), s
}

func TestRequestMatch_TwoCompatiblePlayersMatch(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})
	s.SetPlayer(models.Player{ID: 2, Rating: 1010, Area: "na"})

	results := make(chan session.Result, 2)
	errsCh := make(chan error, 2)
	for _, pid := range []int{1, 2} {
		go func(playerID int) {
			r, err := f.RequestMatch(context.Background(), playerID)
			results <- r
			errsCh <- err
		}(pid)
	}

	r1, r2 := <-results, <-results
	require.NoError(t, <-errsCh)
	require.NoError(t, <-errsCh)
	require.Equal(t, models.TicketMatched, r1.Status)
	require.Equal(t, models.TicketMatched, r2.Status)
}

func TestRequestMatch_UnknownPlayerIsNotFound(t *testing.T) {
	f, _ := newFacade(t, time.Second, 5*time.Millisecond)
	_, err := f.RequestMatch(context.Background(), 404)
	require.Error(t, err)
	require.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestRequestMatch_AlreadyQueuedIsConflict(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = f.RequestMatch(ctx, 1)
	}()
	time.Sleep(10 * time.Millisecond) // let the first ticket land in WAITING

	_, err := f.RequestMatch(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
	cancel()
}

func TestRequestMatch_ExpiresAlone(t *testing.T) {
	f, s := newFacade(t, 30*time.Millisecond, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})

	r, err := f.RequestMatch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.TicketExpired, r.Status)
}

func TestStreamMatch_EmitsQueuedThenTerminal(t *testing.T) {
	f, s := newFacade(t, 30*time.Millisecond, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})

	var events []session.Event
	err := f.StreamMatch(context.Background(), 1, func(e session.Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, session.EventQueued, events[0].Type)
	require.Equal(t, session.EventExpired, events[len(events)-1].Type)
}

func TestStreamMatch_ClientDisconnectCancelsTicket(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})

	disconnect := errors.New("client gone")
	count := 0
	err := f.StreamMatch(context.Background(), 1, func(e session.Event) error {
		count++
		if count >= 2 {
			return disconnect
		}
		return nil
	})
	require.NoError(t, err)

	ticket, err := s.ReadTicket(context.Background(), 1) // the only ticket created
	require.NoError(t, err)
	require.Equal(t, models.TicketCancelled, ticket.Status)
}

func TestStartFinish_RepeatedFinishReturnsSameRatings(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})
	s.SetPlayer(models.Player{ID: 2, Rating: 1000, Area: "na"})

	match, err := f.StartMatch(context.Background(), 1, 2)
	require.NoError(t, err)

	result, err := f.FinishMatch(context.Background(), match.ID, 3, 1)
	require.NoError(t, err)
	require.Equal(t, 1000, result.RatingBeforeA)
	require.Greater(t, result.RatingAfterA, result.RatingBeforeA)

	again, err := f.FinishMatch(context.Background(), match.ID, 3, 1)
	require.NoError(t, err)
	require.Equal(t, result.RatingAfterA, again.RatingAfterA)
}

func TestFinishMatch_ReleasesTicketsForReenqueue(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})
	s.SetPlayer(models.Player{ID: 2, Rating: 1000, Area: "na"})

	match, err := f.StartMatch(context.Background(), 1, 2)
	require.NoError(t, err)
	_, err = f.FinishMatch(context.Background(), match.ID, 3, 1)
	require.NoError(t, err)

	again, err := f.StartMatch(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotEqual(t, match.ID, again.ID)
}

func TestFinishMatch_NotActiveIsConflict(t *testing.T) {
	f, s := newFacade(t, time.Second, 5*time.Millisecond)
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})
	s.SetPlayer(models.Player{ID: 2, Rating: 1000, Area: "na"})

	match, err := f.StartMatch(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NoError(t, f.CancelMatch(context.Background(), match.ID))

	_, err = f.FinishMatch(context.Background(), match.ID, 1, 0)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}
