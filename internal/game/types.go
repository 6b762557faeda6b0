// internal/game/types.go
//
// Core type definitions for the memory game engine.
// Defines:
//   - State: lifecycle of a round (idle/in_progress/won).
//   - Card: one face of the grid.
//   - Level: board size consumed by the engine (only PairCount matters here).
//   - Round: the live state of a single round.
//   - PromptKind / ConfirmFunc: the destructive-action confirmation hook.

package game

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLevelConfig is returned when a round is started with a pair count
// the deck cannot satisfy (missing, zero, negative or larger than the catalog).
var ErrInvalidLevelConfig = errors.New("invalid level config")

// State represents where a round is in its lifecycle.
type State int

const (
	StateIdle       State = iota // no level chosen
	StateInProgress              // cards dealt, not all pairs found
	StateWon                     // every pair matched; terminal until restart/level change
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateWon:
		return "won"
	default:
		return "idle"
	}
}

// MarshalText renders the state as its string name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "in_progress":
		*s = StateInProgress
	case "won":
		*s = StateWon
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Card is a single card on the board.
type Card struct {
	ID           int    `json:"id"`           // Unique within a round.
	Illustration string `json:"illustration"` // Shared by exactly two cards.
	Flipped      bool   `json:"flipped"`      // Face currently showing.
	Matched      bool   `json:"matched"`      // Permanently resolved.
	FlippedCount int    `json:"flippedCount"` // Times turned face-up by the player.
}

// Level describes a playable board. The engine reads only PairCount; the rest
// is display metadata passed through to clients.
type Level struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	Grid      string `json:"grid"`
	Icon      string `json:"icon,omitempty"`
	PairCount int    `json:"pairCount"`
}

// Round holds the state of a single round.
// Values are treated as immutable by the transition functions in round.go.
type Round struct {
	State        State
	Level        *Level
	Cards        []Card
	Selection    []int // ids of face-up, unresolved cards, in flip order
	Moves        int   // resolution attempts (match or mismatch)
	Misses       int   // resolution attempts that did not match
	MatchedPairs int
	StartedAt    time.Time
	EndedAt      time.Time // zero until won

	// PendingReversal is set while two mismatched cards are on display
	// waiting to be turned back face-down.
	PendingReversal bool
}

// PromptKind identifies which destructive action needs confirmation.
type PromptKind int

const (
	PromptRestart PromptKind = iota
	PromptLeave
)

// Message is the question shown to the player for this prompt.
func (k PromptKind) Message() string {
	if k == PromptLeave {
		return "Game in progress, are you sure you want to leave?"
	}
	return "Are you sure you want to restart the game?"
}

// ConfirmFunc answers a confirmation prompt synchronously.
// A nil ConfirmFunc declines every prompt.
type ConfirmFunc func(PromptKind) bool

func (f ConfirmFunc) confirm(k PromptKind) bool {
	if f == nil {
		return false
	}
	return f(k)
}
