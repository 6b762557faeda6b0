package game

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Dealer produces the starting cards for a round.
type Dealer interface {
	Deal(pairCount int) ([]Card, error)
}

// DealerFunc adapts a plain function to the Dealer interface.
type DealerFunc func(pairCount int) ([]Card, error)

// Deal calls f(pairCount).
func (f DealerFunc) Deal(pairCount int) ([]Card, error) { return f(pairCount) }

// DeckBuilder deals shuffled decks from a fixed illustration catalog.
// It is safe for concurrent use.
type DeckBuilder struct {
	mu      sync.Mutex
	catalog []string
	rng     *rand.Rand
}

// NewDeckBuilder returns a builder drawing from catalog with randomness from src.
func NewDeckBuilder(catalog []string, src rand.Source) *DeckBuilder {
	return &DeckBuilder{
		catalog: append([]string(nil), catalog...),
		rng:     rand.New(src),
	}
}

// Deal implements Dealer.
func (b *DeckBuilder) Deal(pairCount int) ([]Card, error) { return b.Build(pairCount) }

// CatalogSize reports how many distinct illustrations are available.
func (b *DeckBuilder) CatalogSize() int { return len(b.catalog) }

// Build returns 2*pairCount face-down cards holding pairCount distinct
// illustrations, each on exactly two cards, in uniformly random order.
//
// Before shuffling, card i and card i+pairCount share an illustration and ids
// run 0..2*pairCount-1.
func (b *DeckBuilder) Build(pairCount int) ([]Card, error) {
	if pairCount < 1 || pairCount > len(b.catalog) {
		return nil, fmt.Errorf("%w: pair count %d (catalog has %d)", ErrInvalidLevelConfig, pairCount, len(b.catalog))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Partial Fisher–Yates over a copy of the catalog: the first pairCount
	// entries end up a uniform sample without replacement.
	pool := append([]string(nil), b.catalog...)
	for i := 0; i < pairCount; i++ {
		j := i + b.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	picked := pool[:pairCount]

	cards := make([]Card, 0, 2*pairCount)
	for round := 0; round < 2; round++ {
		for _, ill := range picked {
			cards = append(cards, Card{ID: len(cards), Illustration: ill})
		}
	}
	Shuffle(cards, b.rng)
	return cards, nil
}

// Shuffle permutes cards in place (Fisher–Yates, last index down to 1).
func Shuffle(cards []Card, rng *rand.Rand) {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}
