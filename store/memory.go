package store

import (
	"context"
	"sync"
	"time"

	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/rating"
)

// MemoryStore is a process-local TicketStore used by the engine, session,
// and handler tests in this repository. It implements the same mutual
// exclusion and transactional-idempotence contract as PostgresStore (spec
// §4.5) using a single mutex instead of row locks — adequate for a single
// process, which is all a unit test needs.
type MemoryStore struct {
	mu          sync.Mutex
	players     map[int]*models.Player
	tickets     map[int]*models.Ticket
	matches     map[int]*models.Match
	ratings     map[int]int
	finishBasis map[int][2]int // matchID -> [ratingBeforeA, ratingBeforeB], recorded once at FinishMatch
	nextID      int
	events      *eventBus
	now         func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		players:     make(map[int]*models.Player),
		tickets:     make(map[int]*models.Ticket),
		matches:     make(map[int]*models.Match),
		ratings:     make(map[int]int),
		finishBasis: make(map[int][2]int),
		events:      newEventBus(),
		now:         now,
	}
}

func (s *MemoryStore) id() int {
	s.nextID++
	return s.nextID
}

// isActiveTicket mirrors the mm_ticket_one_active_per_user partial index:
// a player is busy while they have a WAITING or MATCHED ticket, the same
// pair PostgresStore's unique index enforces at the database level.
func isActiveTicket(t *models.Ticket) bool {
	return t.Status == models.TicketWaiting || t.Status == models.TicketMatched
}

// SetPlayer seeds a player record, simulating a row in the external users
// table that this process-local store does not otherwise own.
func (s *MemoryStore) SetPlayer(p models.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.players[p.ID] = &cp
	s.ratings[p.ID] = p.Rating
}

func (s *MemoryStore) ReadPlayer(ctx context.Context, playerID int) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	out.Rating = s.currentRating(playerID)
	return &out, nil
}

// currentRating returns a player's live rating, falling through to the
// seeded snapshot or the default if FinishMatch has never touched them.
// Callers must already hold s.mu.
func (s *MemoryStore) currentRating(playerID int) int {
	if r, ok := s.ratings[playerID]; ok {
		return r
	}
	return models.DefaultRating
}

func (s *MemoryStore) Rating(playerID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRating(playerID)
}

func (s *MemoryStore) CreateTicket(ctx context.Context, player models.Player, area string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.PlayerID == player.ID && isActiveTicket(t) {
			return nil, ErrAlreadyQueued
		}
	}

	t := &models.Ticket{
		ID:            s.id(),
		PlayerID:      player.ID,
		RatingAtQueue: player.Rating,
		Preferences:   player.Preferences,
		Area:          area,
		Status:        models.TicketWaiting,
		CreatedAt:     s.now(),
	}
	s.tickets[t.ID] = t
	snapshot := *t
	s.events.Publish(snapshot)
	return &snapshot, nil
}

func (s *MemoryStore) ReadTicket(ctx context.Context, ticketID int) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *t
	return &snapshot, nil
}

func (s *MemoryStore) ListWaiting(ctx context.Context, area string, excludePlayer, excludeTicket int) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.Status != models.TicketWaiting || t.Area != area {
			continue
		}
		if t.PlayerID == excludePlayer || t.ID == excludeTicket {
			continue
		}
		snapshot := *t
		out = append(out, &snapshot)
	}
	return out, nil
}

func (s *MemoryStore) TryBind(ctx context.Context, ticketAID, ticketBID int) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.tickets[ticketAID]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := s.tickets[ticketBID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != models.TicketWaiting || b.Status != models.TicketWaiting {
		return nil, ErrConflict
	}

	playerA, playerB := a.PlayerID, b.PlayerID
	ticketA, ticketB := a.ID, b.ID
	if playerA > playerB {
		playerA, playerB = playerB, playerA
		ticketA, ticketB = ticketB, ticketA
	}

	match := &models.Match{
		ID:      s.id(),
		PlayerA: playerA, PlayerB: playerB,
		TicketA: ticketA, TicketB: ticketB,
		Status:    models.MatchActive,
		CreatedAt: s.now(),
	}
	s.matches[match.ID] = match

	a.Status, b.Status = models.TicketMatched, models.TicketMatched
	a.BoundMatchID, b.BoundMatchID = &match.ID, &match.ID

	sa, sb := *a, *b
	s.events.Publish(sa)
	s.events.Publish(sb)

	out := *match
	return &out, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, ticketID int) (CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return 0, ErrNotFound
	}
	switch t.Status {
	case models.TicketMatched:
		return AlreadyMatched, nil
	case models.TicketCancelled, models.TicketExpired:
		return AlreadyTerminal, nil
	}
	t.Status = models.TicketCancelled
	snapshot := *t
	s.events.Publish(snapshot)
	return Cancelled, nil
}

func (s *MemoryStore) Expire(ctx context.Context, ticketID int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != models.TicketWaiting {
		return nil
	}
	t.Status = models.TicketExpired
	snapshot := *t
	s.events.Publish(snapshot)
	return nil
}

func (s *MemoryStore) StartMatch(ctx context.Context, playerAID, playerBID int) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if playerAID == playerBID {
		return nil, ErrInvalidScore
	}
	for _, t := range s.tickets {
		if (t.PlayerID == playerAID || t.PlayerID == playerBID) && isActiveTicket(t) {
			return nil, ErrConflict
		}
	}

	lo, hi := playerAID, playerBID
	if lo > hi {
		lo, hi = hi, lo
	}

	ticketA := &models.Ticket{ID: s.id(), PlayerID: lo, Status: models.TicketMatched, CreatedAt: s.now()}
	ticketB := &models.Ticket{ID: s.id(), PlayerID: hi, Status: models.TicketMatched, CreatedAt: s.now()}
	s.tickets[ticketA.ID] = ticketA
	s.tickets[ticketB.ID] = ticketB

	match := &models.Match{
		ID: s.id(), PlayerA: lo, PlayerB: hi,
		TicketA: ticketA.ID, TicketB: ticketB.ID,
		Status: models.MatchActive, CreatedAt: s.now(),
	}
	ticketA.BoundMatchID, ticketB.BoundMatchID = &match.ID, &match.ID
	s.matches[match.ID] = match

	out := *match
	return &out, nil
}

func (s *MemoryStore) CancelMatch(ctx context.Context, matchID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if m.Status != models.MatchActive {
		return ErrNotActive
	}
	m.Status = models.MatchCancelled

	for _, tid := range []int{m.TicketA, m.TicketB} {
		if t, ok := s.tickets[tid]; ok {
			t.Status = models.TicketCancelled
			snapshot := *t
			s.events.Publish(snapshot)
		}
	}
	return nil
}

func (s *MemoryStore) FinishMatch(ctx context.Context, matchID int, scoreA, scoreB int, kFactor float64) (*FinishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}

	if m.Status == models.MatchFinished {
		basis := s.finishBasis[m.ID]
		return &FinishResult{
			RatingBeforeA: basis[0], RatingBeforeB: basis[1],
			RatingAfterA: s.currentRating(m.PlayerA), RatingAfterB: s.currentRating(m.PlayerB),
		}, nil
	}
	if m.Status != models.MatchActive {
		return nil, ErrNotActive
	}
	if scoreA < 0 || scoreB < 0 {
		return nil, ErrInvalidScore
	}

	outcome, err := rating.FromScore(scoreA, scoreB)
	if err != nil {
		return nil, ErrInvalidScore
	}

	ratingBeforeA := s.currentRating(m.PlayerA)
	ratingBeforeB := s.currentRating(m.PlayerB)

	newA, newB := rating.Update(ratingBeforeA, ratingBeforeB, outcome, kFactor)
	s.ratings[m.PlayerA] = newA
	s.ratings[m.PlayerB] = newB

	m.Status = models.MatchFinished
	m.ScoreA, m.ScoreB = &scoreA, &scoreB
	finishedAt := s.now()
	m.FinishedAt = &finishedAt
	s.finishBasis[m.ID] = [2]int{ratingBeforeA, ratingBeforeB}

	// Release both tickets now that their match has concluded, mirroring
	// CancelMatch, so the players can queue again.
	for _, tid := range []int{m.TicketA, m.TicketB} {
		if t, ok := s.tickets[tid]; ok {
			t.Status = models.TicketCancelled
			snapshot := *t
			s.events.Publish(snapshot)
		}
	}

	return &FinishResult{
		RatingBeforeA: ratingBeforeA, RatingBeforeB: ratingBeforeB,
		RatingAfterA: newA, RatingAfterB: newB,
	}, nil
}

func (s *MemoryStore) WatchTicket(ctx context.Context, ticketID int) (<-chan models.Ticket, func(), error) {
	ch, unsubscribe := s.events.Subscribe(ticketID)
	return ch, unsubscribe, nil
}
