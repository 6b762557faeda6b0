package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccuracy(t *testing.T) {
	cases := []struct {
		matches, moves, want int
	}{
		{0, 0, 0},
		{5, 10, 50},
		{0, 10, 0},
		{10, 10, 100},
		{1, 3, 33},
		{2, 3, 67},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Accuracy(tc.matches, tc.moves), "%d/%d", tc.matches, tc.moves)
	}
}

func TestFormatDuration(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "00:30", FormatDuration(start, time.Time{}, start.Add(30*time.Second)))
	assert.Equal(t, "02:15", FormatDuration(start, time.Time{}, start.Add(2*time.Minute+15*time.Second)))
	assert.Equal(t, "05:30", FormatDuration(start, start.Add(5*time.Minute+30*time.Second), start.Add(time.Hour)))
	assert.Equal(t, "00:00", FormatDuration(start, start, start))
	assert.Equal(t, "00:00", FormatDuration(time.Time{}, time.Time{}, start))
}

func TestRoundTransitionsDoNotAliasInput(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cards, err := fixedDeck().Deal(4)
	require.NoError(t, err)
	r := newRound(testLevel, cards, now)

	r1, out, _ := r.flip(2, now)
	require.Equal(t, flipOpened, out)
	r2, out, _ := r1.flip(3, now)
	require.Equal(t, flipMismatched, out)
	assert.True(t, r2.PendingReversal)

	r3, ok := r2.reverse()
	require.True(t, ok)

	assert.False(t, r.Cards[2].Flipped, "original round untouched")
	assert.Len(t, r1.Selection, 1)
	assert.True(t, r2.Cards[3].Flipped)
	assert.False(t, r3.Cards[3].Flipped)
	assert.Empty(t, r3.Selection)

	_, ok = r3.reverse()
	assert.False(t, ok, "nothing pending")
}

func TestSnapshotViewsHideFaceDownCards(t *testing.T) {
	s := Snapshot{Cards: []Card{
		{ID: 0, Illustration: "ill-1.svg"},
		{ID: 1, Illustration: "ill-2.svg", Flipped: true, FlippedCount: 1},
		{ID: 2, Illustration: "ill-3.svg", Flipped: true, Matched: true, FlippedCount: 2},
	}}

	views := s.Views()
	require.Len(t, views, 3)
	assert.Empty(t, views[0].Illustration)
	assert.Equal(t, "ill-2.svg", views[1].Illustration)
	assert.Equal(t, "ill-3.svg", views[2].Illustration)

	data, err := json.Marshal(views[0])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	_, has := m["illustration"]
	assert.False(t, has, "face-down card must not leak its illustration")
}

func TestSnapshotJSONState(t *testing.T) {
	data, err := json.Marshal(Snapshot{State: StateInProgress})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"in_progress"`)
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "won", StateWon.String())
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, s := range []State{StateIdle, StateInProgress, StateWon} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
