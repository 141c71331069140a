package detection

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// SyntheticConfig describes a generated test series.
type SyntheticConfig struct {
	N           int
	OutlierFrac float64
	Seed        uint64
	Start       time.Time
}

// Synthetic is a generated daily series with the indices that were distorted.
type Synthetic struct {
	Timestamps []time.Time
	Values     []float64
	Injected   []int
}

var outlierFactors = [...]float64{0.5, 1.3}

// GenerateSeries builds 2 + 0.5·sin(2πt/7) + 0.1t + U(-0.35, 0.35) over N days and
// multiplies int(N·OutlierFrac) distinct points by 0.5 or 1.3.
func GenerateSeries(cfg SyntheticConfig) Synthetic {
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	s := Synthetic{
		Timestamps: make([]time.Time, cfg.N),
		Values:     make([]float64, cfg.N),
	}
	for i := 0; i < cfg.N; i++ {
		t := float64(i)
		s.Timestamps[i] = cfg.Start.AddDate(0, 0, i)
		s.Values[i] = 2 + 0.5*math.Sin(2*math.Pi*t/7) + 0.1*t + (rng.Float64()*0.7 - 0.35)
	}

	k := int(float64(cfg.N) * cfg.OutlierFrac)
	if k > cfg.N {
		k = cfg.N
	}
	if k > 0 {
		s.Injected = rng.Perm(cfg.N)[:k]
		sort.Ints(s.Injected)
		for _, i := range s.Injected {
			s.Values[i] *= outlierFactors[rng.IntN(len(outlierFactors))]
		}
	}
	return s
}
