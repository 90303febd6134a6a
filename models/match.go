package models

import "time"

type MatchStatus string

const (
	MatchActive    MatchStatus = "ACTIVE"
	MatchFinished  MatchStatus = "FINISHED"
	MatchCancelled MatchStatus = "CANCELLED"
)

// Match is a committed pairing of two tickets. PlayerA is conventionally the
// lower player id of the pair, giving a deterministic A/B assignment.
type Match struct {
	ID         int         `json:"id"`
	PlayerA    int         `json:"player_a"`
	PlayerB    int         `json:"player_b"`
	TicketA    int         `json:"ticket_a"`
	TicketB    int         `json:"ticket_b"`
	Status     MatchStatus `json:"status"`
	ScoreA     *int        `json:"score_a,omitempty"`
	ScoreB     *int        `json:"score_b,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
