// internal/game/round.go
//
// Pure transitions for a single round. Every function takes a Round value and
// returns a new one; the receiver's slices are never written to, so a Round
// handed to observers stays valid after the engine moves on.
//
// Resolution rules:
//   - A flip is ignored unless the round is in progress and the card exists,
//     is face-down and is not matched.
//   - When the selection reaches two cards, moves increments. Equal
//     illustrations match immediately; different ones count a miss and leave
//     both cards showing with PendingReversal set.
//   - A flip arriving while a reversal is pending turns the previous pair
//     face-down first, then opens the new card.
//   - The round is won the moment the last pair matches.

package game

import "time"

type flipOutcome int

const (
	flipIgnored flipOutcome = iota
	flipOpened
	flipMatched
	flipMismatched
)

// newRound deals a fresh round for level with the given cards.
func newRound(level *Level, cards []Card, now time.Time) Round {
	return Round{
		State:     StateInProgress,
		Level:     level,
		Cards:     cards,
		StartedAt: now,
	}
}

// clone returns a copy whose slices can be mutated freely.
func (r Round) clone() Round {
	r.Cards = append([]Card(nil), r.Cards...)
	r.Selection = append([]int(nil), r.Selection...)
	return r
}

func (r Round) indexOf(id int) int {
	for i := range r.Cards {
		if r.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

// TotalPairs is the number of pairs on the board.
func (r Round) TotalPairs() int { return len(r.Cards) / 2 }

// flip applies a player's flip of card id. superseded reports that a pending
// reversal was collapsed to make room for this card.
func (r Round) flip(id int, now time.Time) (next Round, out flipOutcome, superseded bool) {
	if r.State != StateInProgress {
		return r, flipIgnored, false
	}
	i := r.indexOf(id)
	if i < 0 || r.Cards[i].Flipped || r.Cards[i].Matched {
		return r, flipIgnored, false
	}

	next = r.clone()
	if next.PendingReversal {
		next.turnBack()
		superseded = true
	}

	next.Cards[i].Flipped = true
	next.Cards[i].FlippedCount++
	next.Selection = append(next.Selection, id)
	if len(next.Selection) < 2 {
		return next, flipOpened, superseded
	}
	out = next.resolve(now)
	return next, out, superseded
}

// reverse is the delayed flip-back of a mismatched pair.
// It is a no-op unless a reversal is pending.
func (r Round) reverse() (Round, bool) {
	if !r.PendingReversal {
		return r, false
	}
	next := r.clone()
	next.turnBack()
	return next, true
}

// turnBack hides every selected, unmatched card and clears the selection.
func (r *Round) turnBack() {
	for _, id := range r.Selection {
		if i := r.indexOf(id); i >= 0 && !r.Cards[i].Matched {
			r.Cards[i].Flipped = false
		}
	}
	r.Selection = nil
	r.PendingReversal = false
}

// resolve evaluates exactly two selected cards.
func (r *Round) resolve(now time.Time) flipOutcome {
	a, b := r.indexOf(r.Selection[0]), r.indexOf(r.Selection[1])
	r.Moves++

	if r.Cards[a].Illustration == r.Cards[b].Illustration {
		r.Cards[a].Matched = true
		r.Cards[b].Matched = true
		r.MatchedPairs++
		r.Selection = nil
		r.checkWin(now)
		return flipMatched
	}

	r.Misses++
	r.PendingReversal = true
	return flipMismatched
}

func (r *Round) checkWin(now time.Time) {
	if len(r.Cards) == 0 || r.MatchedPairs != r.TotalPairs() || !r.EndedAt.IsZero() {
		return
	}
	r.EndedAt = now
	r.State = StateWon
}
