package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedDeck deals the same 4-pair layout every time:
// id:  0 1 2 3 4 5 6 7
// ill: D A B C D A B C
func fixedDeck() Dealer {
	ills := []string{"D", "A", "B", "C", "D", "A", "B", "C"}
	return DealerFunc(func(pairCount int) ([]Card, error) {
		if pairCount != 4 {
			return nil, ErrInvalidLevelConfig
		}
		cards := make([]Card, len(ills))
		for i, ill := range ills {
			cards[i] = Card{ID: i, Illustration: ill}
		}
		return cards, nil
	})
}

var testLevel = &Level{Name: "test", Grid: "4x2", PairCount: 4}

func newTestEngine(t *testing.T) (*Engine, *quartz.Mock) {
	t.Helper()
	mClock := quartz.NewMock(t)
	e := NewEngine(fixedDeck(), WithClock(mClock), WithLogger(zerolog.Nop()))
	require.NoError(t, e.StartRound(testLevel))
	return e, mClock
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func cardByID(t *testing.T, s Snapshot, id int) Card {
	t.Helper()
	for _, c := range s.Cards {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("card %d not found", id)
	return Card{}
}

func TestEngineScenario(t *testing.T) {
	e, mClock := newTestEngine(t)
	ctx := testCtx(t)

	s := e.Snapshot()
	require.Len(t, s.Cards, 8)
	assert.Equal(t, StateInProgress, s.State)

	// Matching pair.
	require.True(t, e.Flip(1))
	require.True(t, e.Flip(5))
	s = e.Snapshot()
	assert.Equal(t, 1, s.Stats.Moves)
	assert.Equal(t, 1, s.Stats.MatchedPairs)
	assert.Zero(t, s.Stats.Misses)
	assert.True(t, cardByID(t, s, 1).Matched)
	assert.True(t, cardByID(t, s, 5).Matched)
	assert.Empty(t, s.Selection)
	_, pending := mClock.Peek()
	assert.False(t, pending, "no reversal after a match")

	// Mismatched pair stays visible until the delay elapses.
	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	s = e.Snapshot()
	assert.Equal(t, 2, s.Stats.Moves)
	assert.Equal(t, 1, s.Stats.Misses)
	assert.True(t, cardByID(t, s, 2).Flipped)
	assert.True(t, cardByID(t, s, 3).Flipped)

	mClock.Advance(DefaultReversalDelay).MustWait(ctx)

	s = e.Snapshot()
	assert.False(t, cardByID(t, s, 2).Flipped)
	assert.False(t, cardByID(t, s, 3).Flipped)
	assert.Empty(t, s.Selection)
	assert.True(t, cardByID(t, s, 1).Flipped, "matched cards stay face-up")
}

func TestEngineFlipIgnoresShowingCards(t *testing.T) {
	e, _ := newTestEngine(t)

	require.True(t, e.Flip(2))
	before := e.Snapshot()

	assert.False(t, e.Flip(2), "already flipped")
	assert.False(t, e.Flip(99), "unknown id")
	after := e.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, 1, cardByID(t, after, 2).FlippedCount)

	require.True(t, e.Flip(6))
	matched := e.Snapshot()
	assert.False(t, e.Flip(6), "matched")
	assert.Equal(t, matched, e.Snapshot())
}

func TestEngineFlipCountIncrementsOnEachReveal(t *testing.T) {
	e, mClock := newTestEngine(t)
	ctx := testCtx(t)

	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	mClock.Advance(DefaultReversalDelay).MustWait(ctx)
	require.True(t, e.Flip(2))

	assert.Equal(t, 2, cardByID(t, e.Snapshot(), 2).FlippedCount)
}

func TestEngineThirdFlipSupersedesReversal(t *testing.T) {
	e, mClock := newTestEngine(t)
	ctx := testCtx(t)

	require.True(t, e.Flip(1))
	require.True(t, e.Flip(5)) // A/A matched
	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3)) // B/C pending reversal

	require.True(t, e.Flip(0))

	s := e.Snapshot()
	assert.Equal(t, []int{0}, s.Selection)
	assert.False(t, cardByID(t, s, 2).Flipped)
	assert.False(t, cardByID(t, s, 3).Flipped)
	assert.True(t, cardByID(t, s, 0).Flipped)
	assert.True(t, cardByID(t, s, 1).Flipped, "matched card untouched")
	assert.Equal(t, 2, s.Stats.Moves, "collapse is not a move")
	assert.Equal(t, 1, s.Stats.Misses)

	_, pending := mClock.Peek()
	assert.False(t, pending, "reversal timer cancelled")

	// Time passing no longer affects the open card.
	mClock.Advance(5 * time.Second).MustWait(ctx)
	assert.True(t, cardByID(t, e.Snapshot(), 0).Flipped)
}

func TestEngineFlippingPendingCardIsIgnored(t *testing.T) {
	e, _ := newTestEngine(t)

	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	before := e.Snapshot()

	assert.False(t, e.Flip(3))
	assert.Equal(t, before, e.Snapshot())
}

func TestEngineStaleReversalIgnored(t *testing.T) {
	e, _ := newTestEngine(t)

	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	e.mu.Lock()
	gen := e.timerGen
	e.mu.Unlock()

	require.True(t, e.Flip(0)) // supersedes
	require.True(t, e.Flip(7)) // D/C mismatch, new timer

	e.onReversal(gen)

	s := e.Snapshot()
	assert.True(t, cardByID(t, s, 0).Flipped)
	assert.True(t, cardByID(t, s, 7).Flipped)
	assert.Len(t, s.Selection, 2)
}

func TestEngineWin(t *testing.T) {
	e, mClock := newTestEngine(t)
	ctx := testCtx(t)
	start := e.Snapshot().Stats.StartedAt
	require.NotNil(t, start)

	mClock.Advance(90 * time.Second).MustWait(ctx)
	for _, pair := range [][2]int{{0, 4}, {1, 5}, {2, 6}} {
		require.True(t, e.Flip(pair[0]))
		require.True(t, e.Flip(pair[1]))
		assert.Equal(t, StateInProgress, e.State())
	}
	require.True(t, e.Flip(3))
	require.True(t, e.Flip(7))

	won := e.Snapshot()
	assert.Equal(t, StateWon, won.State)
	assert.Equal(t, 4, won.Stats.MatchedPairs)
	assert.Equal(t, 4, won.Stats.Moves)
	assert.Equal(t, 100, won.Stats.Accuracy)
	require.NotNil(t, won.Stats.EndedAt)
	assert.Equal(t, 90*time.Second, won.Stats.EndedAt.Sub(*start))
	assert.Equal(t, "01:30", won.Stats.Duration)

	mClock.Advance(time.Minute).MustWait(ctx)
	for id := 0; id < 8; id++ {
		assert.False(t, e.Flip(id))
	}
	after := e.Snapshot()
	assert.Equal(t, won.Cards, after.Cards)
	assert.Equal(t, won.Stats, after.Stats, "endedAt and duration are frozen")
}

func TestEngineIdleIgnoresFlips(t *testing.T) {
	e := NewEngine(fixedDeck(), WithClock(quartz.NewMock(t)), WithLogger(zerolog.Nop()))

	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Flip(0))
	require.NoError(t, e.StartRound(nil))
	assert.Equal(t, StateIdle, e.State())

	restarted, err := e.Restart(nil)
	require.NoError(t, err)
	assert.False(t, restarted)
}

func TestEngineStartRoundInvalidLevelKeepsRound(t *testing.T) {
	e, _ := newTestEngine(t)
	require.True(t, e.Flip(2))
	before := e.Snapshot()

	err := e.StartRound(&Level{Name: "broken", PairCount: 0})
	assert.ErrorIs(t, err, ErrInvalidLevelConfig)
	err = e.StartRound(&Level{Name: "negative", PairCount: -3})
	assert.ErrorIs(t, err, ErrInvalidLevelConfig)

	builder := NewDeckBuilder(testCatalog(3), rand.NewPCG(1, 1))
	e2 := NewEngine(builder, WithClock(quartz.NewMock(t)), WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, e2.StartRound(&Level{Name: "too big", PairCount: 4}), ErrInvalidLevelConfig)
	assert.Equal(t, StateIdle, e2.State())

	assert.Equal(t, before, e.Snapshot())
}

func TestEngineRestart(t *testing.T) {
	t.Run("no moves needs no confirmation", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.True(t, e.Flip(0))

		restarted, err := e.Restart(func(PromptKind) bool {
			t.Fatal("confirmation should not be requested")
			return false
		})
		require.NoError(t, err)
		assert.True(t, restarted)
		assert.Empty(t, e.Snapshot().Selection)
	})

	t.Run("declined leaves everything unchanged", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.True(t, e.Flip(2))
		require.True(t, e.Flip(3))
		before := e.Snapshot()

		var asked []PromptKind
		restarted, err := e.Restart(func(k PromptKind) bool {
			asked = append(asked, k)
			return false
		})
		require.NoError(t, err)
		assert.False(t, restarted)
		assert.Equal(t, []PromptKind{PromptRestart}, asked)
		assert.Equal(t, before, e.Snapshot())
	})

	t.Run("accepted deals a new round", func(t *testing.T) {
		e, mClock := newTestEngine(t)
		ctx := testCtx(t)
		require.True(t, e.Flip(1))
		require.True(t, e.Flip(5))
		require.True(t, e.Flip(2))
		require.True(t, e.Flip(3))

		restarted, err := e.Restart(func(PromptKind) bool { return true })
		require.NoError(t, err)
		assert.True(t, restarted)

		s := e.Snapshot()
		assert.Equal(t, StateInProgress, s.State)
		assert.Len(t, s.Cards, 8)
		assert.Zero(t, s.Stats.Moves)
		assert.Zero(t, s.Stats.Misses)
		assert.Zero(t, s.Stats.MatchedPairs)
		assert.Nil(t, s.Stats.EndedAt)
		assert.Equal(t, "test", s.Level.Name)
		for _, c := range s.Cards {
			assert.False(t, c.Flipped)
			assert.False(t, c.Matched)
			assert.Zero(t, c.FlippedCount)
		}

		_, pending := mClock.Peek()
		assert.False(t, pending, "old reversal cancelled")
		mClock.Advance(5 * time.Second).MustWait(ctx)
	})

	t.Run("nil confirm declines", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.True(t, e.Flip(1))
		require.True(t, e.Flip(5))

		restarted, err := e.Restart(nil)
		require.NoError(t, err)
		assert.False(t, restarted)
		assert.Equal(t, 1, e.Snapshot().Stats.Moves)
	})

	t.Run("after a win needs no confirmation", func(t *testing.T) {
		e, _ := newTestEngine(t)
		for _, id := range []int{0, 4, 1, 5, 2, 6, 3, 7} {
			require.True(t, e.Flip(id))
		}
		require.Equal(t, StateWon, e.State())

		restarted, err := e.Restart(nil)
		require.NoError(t, err)
		assert.True(t, restarted)
		assert.Equal(t, StateInProgress, e.State())
	})

	t.Run("dealer failure propagates", func(t *testing.T) {
		fail := errors.New("dealer down")
		calls := 0
		dealer := DealerFunc(func(n int) ([]Card, error) {
			calls++
			if calls > 1 {
				return nil, fail
			}
			return fixedDeck().Deal(n)
		})
		e := NewEngine(dealer, WithClock(quartz.NewMock(t)), WithLogger(zerolog.Nop()))
		require.NoError(t, e.StartRound(testLevel))

		_, err := e.Restart(nil)
		assert.ErrorIs(t, err, fail)
		assert.Equal(t, StateInProgress, e.State())
	})
}

func TestEngineChangeLevel(t *testing.T) {
	t.Run("declined mid-round", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.True(t, e.Flip(2))
		require.True(t, e.Flip(3))
		before := e.Snapshot()

		var asked PromptKind = -1
		assert.False(t, e.ChangeLevel(func(k PromptKind) bool { asked = k; return false }))
		assert.Equal(t, PromptLeave, asked)
		assert.Equal(t, before, e.Snapshot())
	})

	t.Run("accepted returns to idle", func(t *testing.T) {
		e, mClock := newTestEngine(t)
		require.True(t, e.Flip(2))
		require.True(t, e.Flip(3))

		assert.True(t, e.ChangeLevel(func(PromptKind) bool { return true }))
		s := e.Snapshot()
		assert.Equal(t, StateIdle, s.State)
		assert.Nil(t, s.Level)
		assert.Empty(t, s.Cards)
		assert.Zero(t, s.Stats.Moves)
		assert.Nil(t, s.Stats.StartedAt)

		_, pending := mClock.Peek()
		assert.False(t, pending)
		assert.False(t, e.Flip(0))
	})

	t.Run("no confirmation before the first move", func(t *testing.T) {
		e, _ := newTestEngine(t)
		assert.True(t, e.ChangeLevel(nil))
		assert.Equal(t, StateIdle, e.State())
		assert.False(t, e.ChangeLevel(nil), "already idle")
	})
}

// hookedEngine runs hook inside the second Deal call, after the engine has
// decided on a restart or switch but before the new round is installed.
func hookedEngine(t *testing.T, hook func(e *Engine)) *Engine {
	t.Helper()
	var e *Engine
	calls := 0
	dealer := DealerFunc(func(n int) ([]Card, error) {
		calls++
		if calls == 2 {
			hook(e)
		}
		return fixedDeck().Deal(n)
	})
	e = NewEngine(dealer, WithClock(quartz.NewMock(t)), WithLogger(zerolog.Nop()))
	require.NoError(t, e.StartRound(testLevel))
	return e
}

func TestEngineRestartKeepsProgressMadeWhileDealing(t *testing.T) {
	e := hookedEngine(t, func(e *Engine) {
		require.True(t, e.Flip(1))
		require.True(t, e.Flip(5))
	})

	asked := false
	restarted, err := e.Restart(func(PromptKind) bool { asked = true; return true })
	require.NoError(t, err)
	assert.False(t, restarted, "the round gained a move nobody confirmed losing")
	assert.False(t, asked)

	s := e.Snapshot()
	assert.Equal(t, 1, s.Stats.Moves)
	assert.Equal(t, 1, s.Stats.MatchedPairs)
	assert.True(t, cardByID(t, s, 1).Matched)
}

func TestEngineRestartDoesNotUndoLevelChange(t *testing.T) {
	e := hookedEngine(t, func(e *Engine) {
		require.True(t, e.ChangeLevel(nil))
	})

	restarted, err := e.Restart(nil)
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, StateIdle, e.State())
	assert.Nil(t, e.Snapshot().Level)
}

func TestEngineSwitchLevel(t *testing.T) {
	other := &Level{Name: "other", PairCount: 4}

	t.Run("no moves switches without asking", func(t *testing.T) {
		e, _ := newTestEngine(t)
		switched, err := e.SwitchLevel(other, func(PromptKind) bool {
			t.Fatal("confirmation should not be requested")
			return false
		})
		require.NoError(t, err)
		assert.True(t, switched)
		assert.Equal(t, "other", e.Snapshot().Level.Name)
	})

	t.Run("progress needs confirmation", func(t *testing.T) {
		e, _ := newTestEngine(t)
		require.True(t, e.Flip(1))
		require.True(t, e.Flip(5))

		var asked []PromptKind
		switched, err := e.SwitchLevel(other, func(k PromptKind) bool { asked = append(asked, k); return false })
		require.NoError(t, err)
		assert.False(t, switched)
		assert.Equal(t, []PromptKind{PromptLeave}, asked)
		assert.Equal(t, "test", e.Snapshot().Level.Name)

		switched, err = e.SwitchLevel(other, func(PromptKind) bool { return true })
		require.NoError(t, err)
		assert.True(t, switched)
		assert.Equal(t, "other", e.Snapshot().Level.Name)
		assert.Zero(t, e.Snapshot().Stats.Moves)
	})

	t.Run("progress made while dealing is kept", func(t *testing.T) {
		e := hookedEngine(t, func(e *Engine) {
			require.True(t, e.Flip(1))
			require.True(t, e.Flip(5))
		})
		switched, err := e.SwitchLevel(other, nil)
		require.NoError(t, err)
		assert.False(t, switched)
		assert.Equal(t, "test", e.Snapshot().Level.Name)
		assert.Equal(t, 1, e.Snapshot().Stats.Moves)
	})

	t.Run("invalid level", func(t *testing.T) {
		e, _ := newTestEngine(t)
		_, err := e.SwitchLevel(&Level{Name: "none", PairCount: 0}, nil)
		assert.ErrorIs(t, err, ErrInvalidLevelConfig)

		switched, err := e.SwitchLevel(nil, nil)
		require.NoError(t, err)
		assert.False(t, switched)
	})
}

func TestEngineObservers(t *testing.T) {
	e, mClock := newTestEngine(t)
	ctx := testCtx(t)

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := e.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	assert.False(t, e.Flip(3))
	mClock.Advance(DefaultReversalDelay).MustWait(ctx)

	mu.Lock()
	require.Len(t, got, 3, "two flips plus the reversal")
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Version, got[i-1].Version)
	}
	last := got[2]
	mu.Unlock()
	assert.False(t, cardByID(t, last, 2).Flipped)

	unsubscribe()
	require.True(t, e.Flip(0))
	mu.Lock()
	assert.Len(t, got, 3)
	mu.Unlock()
}

func TestEngineCustomReversalDelay(t *testing.T) {
	mClock := quartz.NewMock(t)
	ctx := testCtx(t)
	e := NewEngine(fixedDeck(), WithClock(mClock), WithReversalDelay(250*time.Millisecond), WithLogger(zerolog.Nop()))
	require.NoError(t, e.StartRound(testLevel))

	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))
	d, ok := mClock.Peek()
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)

	mClock.Advance(d).MustWait(ctx)
	assert.Empty(t, e.Snapshot().Selection)
}

func TestEngineClose(t *testing.T) {
	e, mClock := newTestEngine(t)
	require.True(t, e.Flip(2))
	require.True(t, e.Flip(3))

	e.Close()
	_, pending := mClock.Peek()
	assert.False(t, pending)
}
