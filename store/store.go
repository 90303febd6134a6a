// Package store implements the Ticket Store Adapter (spec §4.5): the only
// component permitted to touch persistent state. It exposes transactional
// CRUD over tickets, matches, and players, plus the atomic binding
// primitive the Matchmaker Engine relies on for mutual exclusion.
package store

import (
	"context"
	"errors"

	"github.com/ranked1v1/matchcore/models"
)

// Error kinds, per spec §7. Callers distinguish them with errors.Is.
var (
	ErrNotFound        = errors.New("store: not found")
	ErrAlreadyQueued   = errors.New("store: player already has a non-terminal ticket")
	ErrConflict        = errors.New("store: conflict")
	ErrNotActive       = errors.New("store: match is not ACTIVE")
	ErrAlreadyTerminal = errors.New("store: ticket is already terminal")
	ErrAlreadyMatched  = errors.New("store: ticket is already MATCHED")
	ErrInvalidScore    = errors.New("store: invalid score")
)

// CancelResult is the three-way outcome of Cancel, per spec §4.5.
type CancelResult int

const (
	Cancelled CancelResult = iota
	AlreadyTerminal
	AlreadyMatched
)

// FinishResult carries the rating deltas applied by FinishMatch.
type FinishResult struct {
	RatingBeforeA int
	RatingBeforeB int
	RatingAfterA  int
	RatingAfterB  int
}

// TicketStore is the contract spec §4.5 describes. Implementations must
// make TryBind, Cancel, Expire, CancelMatch, and FinishMatch serializable
// with respect to any other call touching the same ticket or match rows,
// using row locks acquired in ascending id order (spec §4.4, §5).
type TicketStore interface {
	ReadPlayer(ctx context.Context, playerID int) (*models.Player, error)

	CreateTicket(ctx context.Context, player models.Player, area string) (*models.Ticket, error)
	ReadTicket(ctx context.Context, ticketID int) (*models.Ticket, error)
	ListWaiting(ctx context.Context, area string, excludePlayer, excludeTicket int) ([]*models.Ticket, error)

	TryBind(ctx context.Context, ticketAID, ticketBID int) (*models.Match, error)
	Cancel(ctx context.Context, ticketID int) (CancelResult, error)
	Expire(ctx context.Context, ticketID int, reason string) error

	StartMatch(ctx context.Context, playerAID, playerBID int) (*models.Match, error)
	CancelMatch(ctx context.Context, matchID int) error
	FinishMatch(ctx context.Context, matchID int, scoreA, scoreB int, kFactor float64) (*FinishResult, error)

	WatchTicket(ctx context.Context, ticketID int) (<-chan models.Ticket, func(), error)
}
