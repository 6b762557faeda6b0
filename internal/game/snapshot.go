package game

import (
	"fmt"
	"math"
	"time"
)

// Snapshot is what the presentation layer receives after every transition.
type Snapshot struct {
	Version   uint64 `json:"version"` // increases with every transition of one engine
	State     State  `json:"state"`
	Level     *Level `json:"level,omitempty"`
	Cards     []Card `json:"cards"`
	Selection []int  `json:"selection"`
	Stats     Stats  `json:"stats"`
}

// Stats is the counters tuple plus values derived from it.
type Stats struct {
	Moves        int        `json:"moves"`
	Misses       int        `json:"misses"`
	MatchedPairs int        `json:"matchedPairs"`
	TotalPairs   int        `json:"totalPairs"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Accuracy     int        `json:"accuracy"` // percent of moves that matched
	Duration     string     `json:"duration"` // mm:ss, frozen once won
}

// snapshot copies r so the result never aliases engine state.
func (r Round) snapshot(version uint64, now time.Time) Snapshot {
	c := r.clone()
	st := Stats{
		Moves:        r.Moves,
		Misses:       r.Misses,
		MatchedPairs: r.MatchedPairs,
		TotalPairs:   r.TotalPairs(),
		Accuracy:     Accuracy(r.MatchedPairs, r.Moves),
		Duration:     FormatDuration(r.StartedAt, r.EndedAt, now),
	}
	if !r.StartedAt.IsZero() {
		t := r.StartedAt
		st.StartedAt = &t
	}
	if !r.EndedAt.IsZero() {
		t := r.EndedAt
		st.EndedAt = &t
	}
	if c.Cards == nil {
		c.Cards = []Card{}
	}
	if c.Selection == nil {
		c.Selection = []int{}
	}
	return Snapshot{
		Version:   version,
		State:     r.State,
		Level:     r.Level,
		Cards:     c.Cards,
		Selection: c.Selection,
		Stats:     st,
	}
}

// Accuracy returns matches/moves as a rounded percentage, 0 when no moves.
func Accuracy(matches, moves int) int {
	if moves <= 0 {
		return 0
	}
	return max(0, int(math.Round(float64(matches)/float64(moves)*100)))
}

// FormatDuration renders the time between start and end (or now when end is
// zero) as mm:ss. Minutes wrap at the hour. A zero start yields "00:00".
func FormatDuration(start, end, now time.Time) string {
	if start.IsZero() {
		return "00:00"
	}
	if end.IsZero() {
		end = now
	}
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	secs := int(d/time.Second) % 60
	mins := int(d/time.Minute) % 60
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// CardView is a card as sent to a client. The illustration of a face-down
// card is withheld.
type CardView struct {
	ID           int    `json:"id"`
	Illustration string `json:"illustration,omitempty"`
	Flipped      bool   `json:"flipped"`
	Matched      bool   `json:"matched"`
	FlippedCount int    `json:"flippedCount"`
}

// Views builds the client-facing card list.
func (s Snapshot) Views() []CardView {
	out := make([]CardView, len(s.Cards))
	for i, c := range s.Cards {
		out[i] = CardView{ID: c.ID, Flipped: c.Flipped, Matched: c.Matched, FlippedCount: c.FlippedCount}
		if c.Flipped || c.Matched {
			out[i].Illustration = c.Illustration
		}
	}
	return out
}
