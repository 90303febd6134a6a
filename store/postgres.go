package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/rating"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx, mirroring the
// teacher repository pattern's SQLExecutor interface: the row-lock helpers
// take one so they can run either standalone or inside a caller's
// transaction.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore is the production TicketStore, backed by a bounded
// *sql.DB connection pool (spec §4.5 "Connection discipline").
type PostgresStore struct {
	db     *sql.DB
	events *eventBus
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, events: newEventBus()}
}

func (s *PostgresStore) ReadPlayer(ctx context.Context, playerID int) (*models.Player, error) {
	var p models.Player
	var prefsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rating, area, preferences FROM users WHERE id = $1
	`, playerID).Scan(&p.ID, &p.Rating, &p.Area, &prefsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read player: %w", err)
	}
	_ = json.Unmarshal(prefsJSON, &p.Preferences)
	return &p, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, player models.Player, area string) (*models.Ticket, error) {
	prefsJSON, err := json.Marshal(player.Preferences)
	if err != nil {
		return nil, fmt.Errorf("marshal preferences: %w", err)
	}

	t := &models.Ticket{
		PlayerID:      player.ID,
		RatingAtQueue: player.Rating,
		Preferences:   player.Preferences,
		Area:          area,
		Status:        models.TicketWaiting,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mm_ticket (user_id, area, rating_at_queue, prefs, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, t.PlayerID, t.Area, t.RatingAtQueue, prefsJSON, t.Status).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.events.Publish(*t)
	return t, nil
}

func (s *PostgresStore) ReadTicket(ctx context.Context, ticketID int) (*models.Ticket, error) {
	return scanTicket(s.db.QueryRowContext(ctx, ticketSelect+" WHERE id = $1", ticketID))
}

func (s *PostgresStore) ListWaiting(ctx context.Context, area string, excludePlayer, excludeTicket int) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, ticketSelect+`
		WHERE status = 'WAITING' AND area = $1 AND user_id <> $2 AND id <> $3
	`, area, excludePlayer, excludeTicket)
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TryBind implements the binding protocol of spec §4.4: begin, lock both
// ticket rows in ascending id order, re-verify WAITING, insert the match,
// flip both tickets to MATCHED, commit.
func (s *PostgresStore) TryBind(ctx context.Context, ticketAID, ticketBID int) (*models.Match, error) {
	lo, hi := ticketAID, ticketBID
	if lo > hi {
		lo, hi = hi, lo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	first, err := lockTicketForUpdate(ctx, tx, lo)
	if err != nil {
		return nil, err
	}
	second, err := lockTicketForUpdate(ctx, tx, hi)
	if err != nil {
		return nil, err
	}
	if first.Status != models.TicketWaiting || second.Status != models.TicketWaiting {
		return nil, ErrConflict
	}

	a, b := first, second
	if a.ID != ticketAID {
		a, b = second, first
	}

	playerA, playerB := a.PlayerID, b.PlayerID
	ticketA, ticketB := a.ID, b.ID
	if playerA > playerB {
		playerA, playerB = playerB, playerA
		ticketA, ticketB = ticketB, ticketA
	}

	match := &models.Match{
		PlayerA: playerA, PlayerB: playerB,
		TicketA: ticketA, TicketB: ticketB,
		Status: models.MatchActive,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO match_tx (user_a, user_b, ticket_a, ticket_b, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, match.PlayerA, match.PlayerB, match.TicketA, match.TicketB, match.Status).Scan(&match.ID, &match.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}

	for _, id := range []int{a.ID, b.ID} {
		res, err := tx.ExecContext(ctx, `
			UPDATE mm_ticket SET status = 'MATCHED', bound_match_id = $1 WHERE id = $2
		`, match.ID, id)
		if err != nil {
			return nil, fmt.Errorf("bind ticket %d: %w", id, err)
		}
		if err := checkAffectedRows(res); err != nil {
			return nil, fmt.Errorf("bind ticket %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bind: %w", err)
	}

	a.Status, b.Status = models.TicketMatched, models.TicketMatched
	a.BoundMatchID, b.BoundMatchID = &match.ID, &match.ID
	s.events.Publish(*a)
	s.events.Publish(*b)

	return match, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, ticketID int) (CancelResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := lockTicketForUpdate(ctx, tx, ticketID)
	if err != nil {
		return 0, err
	}

	switch t.Status {
	case models.TicketMatched:
		return AlreadyMatched, nil
	case models.TicketCancelled, models.TicketExpired:
		return AlreadyTerminal, nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE mm_ticket SET status = 'CANCELLED' WHERE id = $1`, ticketID)
	if err != nil {
		return 0, fmt.Errorf("cancel ticket: %w", err)
	}
	if err := checkAffectedRows(res); err != nil {
		return 0, fmt.Errorf("cancel ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cancel: %w", err)
	}

	t.Status = models.TicketCancelled
	s.events.Publish(*t)
	return Cancelled, nil
}

func (s *PostgresStore) Expire(ctx context.Context, ticketID int, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := lockTicketForUpdate(ctx, tx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != models.TicketWaiting {
		return nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE mm_ticket SET status = 'EXPIRED', expire_reason = $2 WHERE id = $1`, ticketID, reason)
	if err != nil {
		return fmt.Errorf("expire ticket: %w", err)
	}
	if err := checkAffectedRows(res); err != nil {
		return fmt.Errorf("expire ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expire: %w", err)
	}

	t.Status = models.TicketExpired
	s.events.Publish(*t)
	return nil
}

// StartMatch implements the §4.6 "Start match" direct-invite path: both
// players must be free of a non-terminal ticket, or the call conflicts.
func (s *PostgresStore) StartMatch(ctx context.Context, playerAID, playerBID int) (*models.Match, error) {
	if playerAID == playerBID {
		return nil, ErrInvalidScore
	}
	lo, hi := playerAID, playerBID
	if lo > hi {
		lo, hi = hi, lo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Busyness is enforced by mm_ticket_one_active_per_user rather than a
	// separate locking SELECT: `SELECT COUNT(*) ... FOR UPDATE` is invalid
	// Postgres (FOR UPDATE cannot accompany an aggregate), and the unique
	// partial index already rejects a second WAITING/MATCHED row for the
	// same player atomically.
	var ticketA, ticketB int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO mm_ticket (user_id, area, rating_at_queue, prefs, status, created_at)
		VALUES ($1, '', 0, '[]', 'MATCHED', NOW()) RETURNING id
	`, lo).Scan(&ticketA); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create ticket a: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO mm_ticket (user_id, area, rating_at_queue, prefs, status, created_at)
		VALUES ($1, '', 0, '[]', 'MATCHED', NOW()) RETURNING id
	`, hi).Scan(&ticketB); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create ticket b: %w", err)
	}

	match := &models.Match{
		PlayerA: lo, PlayerB: hi,
		TicketA: ticketA, TicketB: ticketB,
		Status: models.MatchActive,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO match_tx (user_a, user_b, ticket_a, ticket_b, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id, created_at
	`, match.PlayerA, match.PlayerB, match.TicketA, match.TicketB, match.Status).Scan(&match.ID, &match.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}

	for _, id := range []int{ticketA, ticketB} {
		res, err := tx.ExecContext(ctx, `UPDATE mm_ticket SET bound_match_id = $1 WHERE id = $2`, match.ID, id)
		if err != nil {
			return nil, fmt.Errorf("bind ticket %d: %w", id, err)
		}
		if err := checkAffectedRows(res); err != nil {
			return nil, fmt.Errorf("bind ticket %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start match: %w", err)
	}
	return match, nil
}

func (s *PostgresStore) CancelMatch(ctx context.Context, matchID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := lockMatchForUpdate(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if m.Status != models.MatchActive {
		return ErrNotActive
	}

	res, err := tx.ExecContext(ctx, `UPDATE match_tx SET status = 'CANCELLED' WHERE id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("cancel match: %w", err)
	}
	if err := checkAffectedRows(res); err != nil {
		return fmt.Errorf("cancel match: %w", err)
	}

	ticketIDs := []int{m.TicketA, m.TicketB}
	sortInts(ticketIDs)
	for _, id := range ticketIDs {
		res, err := tx.ExecContext(ctx, `UPDATE mm_ticket SET status = 'CANCELLED' WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("cancel ticket %d: %w", id, err)
		}
		if err := checkAffectedRows(res); err != nil {
			return fmt.Errorf("cancel ticket %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel match: %w", err)
	}

	s.events.Publish(models.Ticket{ID: m.TicketA, Status: models.TicketCancelled})
	s.events.Publish(models.Ticket{ID: m.TicketB, Status: models.TicketCancelled})
	return nil
}

// FinishMatch implements spec §4.5: reads both players' current ratings,
// applies the Rating Calculator, writes new ratings, records score and
// finished_at, all within one transaction with player rows locked in
// ascending id order. Calling finish on an already-FINISHED match returns
// the previously recorded values rather than recomputing them (spec §7
// idempotence, §C.4 of SPEC_FULL.md).
func (s *PostgresStore) FinishMatch(ctx context.Context, matchID int, scoreA, scoreB int, kFactor float64) (*FinishResult, error) {
	if scoreA < 0 || scoreB < 0 {
		return nil, ErrInvalidScore
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := lockMatchForUpdate(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}

	if m.Status == models.MatchFinished {
		return readRecordedFinish(ctx, tx, m)
	}
	if m.Status != models.MatchActive {
		return nil, ErrNotActive
	}

	lo, hi := m.PlayerA, m.PlayerB
	var ratingLo, ratingHi int
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM users WHERE id = $1 FOR UPDATE`, lo).Scan(&ratingLo); err != nil {
		return nil, fmt.Errorf("lock player %d: %w", lo, err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM users WHERE id = $1 FOR UPDATE`, hi).Scan(&ratingHi); err != nil {
		return nil, fmt.Errorf("lock player %d: %w", hi, err)
	}

	outcome, err := rating.FromScore(scoreA, scoreB)
	if err != nil {
		return nil, ErrInvalidScore
	}
	newLo, newHi := rating.Update(ratingLo, ratingHi, outcome, kFactor)

	if res, err := tx.ExecContext(ctx, `UPDATE users SET rating = $1 WHERE id = $2`, newLo, lo); err != nil {
		return nil, fmt.Errorf("update player %d rating: %w", lo, err)
	} else if err := checkAffectedRows(res); err != nil {
		return nil, fmt.Errorf("update player %d rating: %w", lo, err)
	}
	if res, err := tx.ExecContext(ctx, `UPDATE users SET rating = $1 WHERE id = $2`, newHi, hi); err != nil {
		return nil, fmt.Errorf("update player %d rating: %w", hi, err)
	} else if err := checkAffectedRows(res); err != nil {
		return nil, fmt.Errorf("update player %d rating: %w", hi, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE match_tx SET status = 'FINISHED', score_a = $1, score_b = $2,
			rating_before_a = $3, rating_before_b = $4, finished_at = NOW()
		WHERE id = $5
	`, scoreA, scoreB, ratingLo, ratingHi, matchID)
	if err != nil {
		return nil, fmt.Errorf("record finish: %w", err)
	}
	if err := checkAffectedRows(res); err != nil {
		return nil, fmt.Errorf("record finish: %w", err)
	}

	// Release both tickets from mm_ticket_one_active_per_user now that their
	// match has concluded, the same way cancel_match already does for a
	// cancelled match; otherwise a player who finishes one match could
	// never queue again.
	ticketIDs := []int{m.TicketA, m.TicketB}
	sortInts(ticketIDs)
	for _, id := range ticketIDs {
		res, err := tx.ExecContext(ctx, `UPDATE mm_ticket SET status = 'CANCELLED' WHERE id = $1`, id)
		if err != nil {
			return nil, fmt.Errorf("release ticket %d: %w", id, err)
		}
		if err := checkAffectedRows(res); err != nil {
			return nil, fmt.Errorf("release ticket %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finish: %w", err)
	}

	s.events.Publish(models.Ticket{ID: m.TicketA, Status: models.TicketCancelled})
	s.events.Publish(models.Ticket{ID: m.TicketB, Status: models.TicketCancelled})

	return &FinishResult{
		RatingBeforeA: ratingLo, RatingBeforeB: ratingHi,
		RatingAfterA: newLo, RatingAfterB: newHi,
	}, nil
}

func (s *PostgresStore) WatchTicket(ctx context.Context, ticketID int) (<-chan models.Ticket, func(), error) {
	ch, unsubscribe := s.events.Subscribe(ticketID)
	return ch, unsubscribe, nil
}

// --- helpers ---

const ticketSelect = `
	SELECT id, user_id, rating_at_queue, prefs, area, status, bound_match_id, created_at
	FROM mm_ticket
`

func scanTicket(row *sql.Row) (*models.Ticket, error) {
	var t models.Ticket
	var prefsJSON []byte
	err := row.Scan(&t.ID, &t.PlayerID, &t.RatingAtQueue, &prefsJSON, &t.Area, &t.Status, &t.BoundMatchID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	_ = json.Unmarshal(prefsJSON, &t.Preferences)
	return &t, nil
}

func scanTicketRow(rows *sql.Rows) (*models.Ticket, error) {
	var t models.Ticket
	var prefsJSON []byte
	if err := rows.Scan(&t.ID, &t.PlayerID, &t.RatingAtQueue, &prefsJSON, &t.Area, &t.Status, &t.BoundMatchID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan ticket row: %w", err)
	}
	_ = json.Unmarshal(prefsJSON, &t.Preferences)
	return &t, nil
}

// lockTicketForUpdate acquires an exclusive row lock on one ticket. Callers
// are responsible for acquiring locks on multiple tickets in ascending id
// order (spec §4.4 step 2).
func lockTicketForUpdate(ctx context.Context, exec sqlExecutor, ticketID int) (*models.Ticket, error) {
	return scanTicket(exec.QueryRowContext(ctx, ticketSelect+" WHERE id = $1 FOR UPDATE", ticketID))
}

func lockMatchForUpdate(ctx context.Context, exec sqlExecutor, matchID int) (*models.Match, error) {
	var m models.Match
	err := exec.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, ticket_a, ticket_b, status, score_a, score_b, created_at, finished_at
		FROM match_tx WHERE id = $1 FOR UPDATE
	`, matchID).Scan(&m.ID, &m.PlayerA, &m.PlayerB, &m.TicketA, &m.TicketB, &m.Status, &m.ScoreA, &m.ScoreB, &m.CreatedAt, &m.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock match: %w", err)
	}
	return &m, nil
}

// readRecordedFinish returns the ratings already recorded for an
// already-FINISHED match, satisfying finish_match's idempotence contract
// without recomputing (and potentially double-applying) a rating delta.
func readRecordedFinish(ctx context.Context, tx *sql.Tx, m *models.Match) (*FinishResult, error) {
	var before struct{ A, B int }
	var afterA, afterB int
	err := tx.QueryRowContext(ctx, `SELECT rating_before_a, rating_before_b FROM match_tx WHERE id = $1`, m.ID).
		Scan(&before.A, &before.B)
	if err != nil {
		return nil, fmt.Errorf("read recorded finish: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM users WHERE id = $1`, m.PlayerA).Scan(&afterA); err != nil {
		return nil, fmt.Errorf("read player %d rating: %w", m.PlayerA, err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT rating FROM users WHERE id = $1`, m.PlayerB).Scan(&afterB); err != nil {
		return nil, fmt.Errorf("read player %d rating: %w", m.PlayerB, err)
	}
	return &FinishResult{RatingBeforeA: before.A, RatingBeforeB: before.B, RatingAfterA: afterA, RatingAfterB: afterB}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func sortInts(s []int) {
	if len(s) == 2 && s[0] > s[1] {
		s[0], s[1] = s[1], s[0]
	}
}
