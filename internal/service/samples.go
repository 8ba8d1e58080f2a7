package service

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"

	"github.com/samber/lo"

	"github.com/524D/compareMS2/internal/models"
)

// Sample is a sample file in a sample directory.
type Sample struct {
	Name string
	Size int64
}

// CollectSamples lists the sample files of dir, sorted by name.
func CollectSamples(dir string) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sample dir: %w", err)
	}

	var samples []Sample
	for _, e := range entries {
		if !e.Type().IsRegular() || !models.IsSampleFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat sample %s: %w", e.Name(), err)
		}
		samples = append(samples, Sample{Name: e.Name(), Size: info.Size()})
	}
	return samples, nil
}

// OrderSamples returns the samples in the order they enter the matrix.
// Every order starts from ascending size; smallest-largest then alternates
// small and large files so early trees cover the size range. Unknown orders
// and random use a uniform shuffle drawn from rng. The input is not modified.
func OrderSamples(samples []Sample, order models.CompareOrder, rng *rand.Rand) []Sample {
	out := slices.Clone(samples)
	slices.SortStableFunc(out, func(a, b Sample) int {
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		}
		return 0
	})

	n := len(out)
	switch order {
	case models.OrderSmallest:
	case models.OrderLargest:
		slices.Reverse(out)
	case models.OrderSmallestLargest:
		for i := 1; i < n/2; i += 2 {
			out[i], out[n-i] = out[n-i], out[i]
		}
	default:
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		rng.Shuffle(n, func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	}
	return out
}

// SampleNames returns the names of samples.
func SampleNames(samples []Sample) []string {
	return lo.Map(samples, func(s Sample, _ int) string { return s.Name })
}

// restoreOrder returns the samples of a persisted order when they all still
// exist, so a resumed session keeps its matrix layout.
func restoreOrder(samples []Sample, names []string) ([]Sample, bool) {
	if len(names) != len(samples) {
		return nil, false
	}
	byName := lo.KeyBy(samples, func(s Sample) string { return s.Name })
	out := make([]Sample, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
