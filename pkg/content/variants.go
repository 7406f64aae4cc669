package content

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Picker draws one A/B variant weighted by traffic weight.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPicker seeds a picker from the wall clock.
func NewPicker() *Picker {
	return &Picker{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Pick selects one active variant, or nil when no variant can win the
// draw (empty set or all weights zero).
func (p *Picker) Pick(variants []models.StepVariant) *models.StepVariant {
	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()
	return SelectVariant(variants, roll)
}

// SelectVariant is the deterministic core of the draw: roll is a
// uniform value in [0,1) scaled over the total weight. Variants are
// walked in id order so equal-weight ties break the same way on every
// node.
func SelectVariant(variants []models.StepVariant, roll float64) *models.StepVariant {
	if len(variants) == 0 {
		return nil
	}
	ordered := make([]models.StepVariant, len(variants))
	copy(ordered, variants)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var total float64
	for _, v := range ordered {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return nil
	}

	target := roll * total
	var cum float64
	for i := range ordered {
		if ordered[i].Weight <= 0 {
			continue
		}
		cum += ordered[i].Weight
		if target < cum {
			return &ordered[i]
		}
	}
	// Floating-point edge at roll→1.0 lands on the last weighted variant.
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Weight > 0 {
			return &ordered[i]
		}
	}
	return nil
}
