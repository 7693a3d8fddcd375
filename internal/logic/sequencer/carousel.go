package sequencer

import (
	"math/rand/v2"

	"github.com/cjeanneret/AnimalFace/internal/labels"
)

// Carousel modes.
const (
	CarouselRandom = "random" // uniform draw over the label set
	CarouselCycle  = "cycle"  // fixed rotation in label order
)

// carousel picks the cosmetic image shown at each loading tick.
// It is only touched under the Sequencer lock.
type carousel struct {
	mode   string
	keys   []string
	assets *labels.Assets
	rng    *rand.Rand
	next   int
}

func newCarousel(mode string, assets *labels.Assets, rng *rand.Rand) *carousel {
	c := &carousel{mode: mode, assets: assets, rng: rng}
	if assets != nil {
		c.keys = assets.Keys()
	}
	return c
}

func (c *carousel) rewind() { c.next = 0 }

// pick returns the asset for the next tick, false when there is nothing
// to show.
func (c *carousel) pick() (labels.Asset, bool) {
	n := len(c.keys)
	if n == 0 {
		return labels.Asset{}, false
	}
	var i int
	switch {
	case c.mode == CarouselCycle:
		i = c.next % n
		c.next++
	case c.rng != nil:
		i = c.rng.IntN(n)
	default:
		i = rand.IntN(n)
	}
	return c.assets.Lookup(c.keys[i]), true
}
