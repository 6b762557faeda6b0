// internal/game/engine.go
//
// Engine owns one live round and serializes every event against it:
// player flips, the delayed flip-back timer, restarts and level changes.
//
// Notes:
//   - All mutations happen under mu, so the round behaves like a single
//     event loop even though timer callbacks arrive on their own goroutine.
//   - At most one reversal timer is outstanding. Every schedule or cancel bumps
//     timerGen; a callback carrying an older generation does nothing.
//   - Observers run after mu is released, one transition at a time and in
//     version order. They may read the engine but must not mutate it
//     synchronously.
//   - Confirmation prompts are answered without holding the lock.
package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultReversalDelay is how long a mismatched pair stays face-up.
const DefaultReversalDelay = 1000 * time.Millisecond

// Observer receives a snapshot after every transition.
type Observer func(Snapshot)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps and the reversal timer.
func WithClock(c quartz.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithReversalDelay overrides DefaultReversalDelay.
func WithReversalDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// Engine is the round state machine for a single player.
type Engine struct {
	mu     sync.Mutex
	clock  quartz.Clock
	dealer Dealer
	delay  time.Duration
	log    zerolog.Logger

	round    Round
	version  uint64
	timer    *quartz.Timer
	timerGen uint64

	notifyMu  sync.Mutex // held while observers run
	observers map[int]Observer
	nextObsID int
}

// NewEngine returns an idle engine dealing cards from dealer.
func NewEngine(dealer Dealer, opts ...Option) *Engine {
	e := &Engine{
		clock:     quartz.NewReal(),
		dealer:    dealer,
		delay:     DefaultReversalDelay,
		log:       log.Logger.With().Str("component", "engine").Logger(),
		observers: make(map[int]Observer),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe registers o for every future transition and returns a function
// that removes it.
func (e *Engine) Subscribe(o Observer) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextObsID
	e.nextObsID++
	e.observers[id] = o
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// Snapshot returns the current round as presented to clients.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.snapshot(e.version, e.clock.Now())
}

// State reports the round's lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.State
}

// StartRound deals a fresh round for level, discarding any previous one.
// A nil level is ignored. An unusable pair count returns
// ErrInvalidLevelConfig and leaves the current round untouched.
func (e *Engine) StartRound(level *Level) error {
	_, err := e.deal(level, nil)
	return err
}

// Flip turns card cardID face-up. It reports whether anything changed;
// flips outside an in-progress round, on unknown ids and on cards already
// showing are ignored.
func (e *Engine) Flip(cardID int) bool {
	return e.apply(func(now time.Time) (Round, bool) {
		next, out, superseded := e.round.flip(cardID, now)
		if out == flipIgnored {
			return e.round, false
		}
		if superseded {
			e.cancelReversal()
		}
		switch out {
		case flipMismatched:
			e.scheduleReversal()
		case flipMatched:
			if next.State == StateWon {
				e.log.Info().
					Int("moves", next.Moves).
					Int("misses", next.Misses).
					Dur("elapsed", next.EndedAt.Sub(next.StartedAt)).
					Msg("round won")
			}
		}
		e.log.Debug().Int("card", cardID).Bool("superseded", superseded).Int("moves", next.Moves).Msg("flip")
		return next, true
	})
}

// Restart deals a new round of the same level. While a round is in progress
// with at least one move, confirm is asked first and a decline changes
// nothing. It reports whether a new round was dealt; it also reports false
// when, while the deck was being dealt, the level changed or progress appeared
// that confirm was never asked about.
func (e *Engine) Restart(confirm ConfirmFunc) (bool, error) {
	cur := e.current()
	if cur.State == StateIdle || cur.Level == nil {
		return false, nil
	}
	asked := needsConfirm(cur)
	if asked && !confirm.confirm(PromptRestart) {
		return false, nil
	}
	return e.deal(cur.Level, stillCovers(cur, asked))
}

// SwitchLevel starts level in place of the current round, asking confirm
// (PromptLeave) first when that would throw away progress. It reports whether
// the new round was dealt.
func (e *Engine) SwitchLevel(level *Level, confirm ConfirmFunc) (bool, error) {
	if level == nil {
		return false, nil
	}
	cur := e.current()
	asked := needsConfirm(cur)
	if asked && !confirm.confirm(PromptLeave) {
		return false, nil
	}
	return e.deal(level, stillCovers(cur, asked))
}

// ChangeLevel clears the level and the round, returning to idle. The same
// confirmation guard as Restart applies. It reports whether the engine moved
// to idle.
func (e *Engine) ChangeLevel(confirm ConfirmFunc) bool {
	cur := e.current()
	asked := needsConfirm(cur)
	if asked && !confirm.confirm(PromptLeave) {
		return false
	}
	return e.apply(func(time.Time) (Round, bool) {
		if !asked && needsConfirm(e.round) {
			return e.round, false
		}
		if e.round.State == StateIdle && e.round.Level == nil {
			return e.round, false
		}
		e.cancelReversal()
		return Round{}, true
	})
}

// Close cancels any pending reversal. Call it when discarding the engine.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelReversal()
}

// needsConfirm reports whether leaving r would throw away progress.
func needsConfirm(r Round) bool {
	return r.State == StateInProgress && r.Moves > 0
}

// stillCovers reports whether a decision taken on seen (with or without asking
// for confirmation) still holds for the round r found under the lock later.
func stillCovers(seen Round, asked bool) func(r Round) bool {
	return func(r Round) bool {
		return r.Level == seen.Level && (asked || !needsConfirm(r))
	}
}

func (e *Engine) current() Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// deal builds a round for level without holding the lock, then installs it if
// valid (nil: always) accepts the round current at that point. It reports
// whether the new round was installed.
func (e *Engine) deal(level *Level, valid func(Round) bool) (bool, error) {
	if level == nil {
		return false, nil
	}
	if level.PairCount < 1 {
		return false, fmt.Errorf("%w: pair count %d", ErrInvalidLevelConfig, level.PairCount)
	}
	cards, err := e.dealer.Deal(level.PairCount)
	if err != nil {
		return false, err
	}
	lvl := *level

	ok := e.apply(func(now time.Time) (Round, bool) {
		if valid != nil && !valid(e.round) {
			return e.round, false
		}
		e.cancelReversal()
		return newRound(&lvl, cards, now), true
	})
	if ok {
		e.log.Debug().Str("level", lvl.Name).Int("pairs", lvl.PairCount).Msg("round started")
	} else {
		e.log.Debug().Str("level", lvl.Name).Msg("deal discarded, round moved on")
	}
	return ok, nil
}

// apply runs fn under the lock and, when it reports a change, stores the new
// round, bumps the version and notifies observers.
func (e *Engine) apply(fn func(now time.Time) (Round, bool)) bool {
	e.mu.Lock()
	now := e.clock.Now()
	next, changed := fn(now)
	if !changed {
		e.mu.Unlock()
		return false
	}
	e.round = next
	e.version++
	snap := next.snapshot(e.version, now)
	obs := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		obs = append(obs, o)
	}

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()
	for _, o := range obs {
		o(snap)
	}
	return true
}

// scheduleReversal arms the flip-back timer. Caller holds mu.
func (e *Engine) scheduleReversal() {
	e.cancelReversal()
	gen := e.timerGen
	e.timer = e.clock.AfterFunc(e.delay, func() { e.onReversal(gen) }, "engine", "reversal")
}

// cancelReversal stops the pending timer and invalidates any callback that
// already fired but has not acquired the lock yet. Caller holds mu.
func (e *Engine) cancelReversal() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *Engine) onReversal(gen uint64) {
	e.apply(func(time.Time) (Round, bool) {
		if gen != e.timerGen {
			return e.round, false
		}
		e.timer = nil
		return e.round.reverse()
	})
}
