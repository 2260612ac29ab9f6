package render

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is a scriptable in-memory provider for tests and local dev.
// Responses are keyed by seed so the same request reproduces the same
// image, matching the determinism contract real providers must honor.
type FakeClient struct {
	mu sync.Mutex

	// Script maps seed -> generation. When a seed is missing, Generate
	// falls back to Default or fails.
	Script  map[int]Generation
	Default *Generation

	// FailSeeds force an error for specific seeds.
	FailSeeds map[int]error

	// Calls records every request in order.
	Calls []PanelSpec
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Script:    map[int]Generation{},
		FailSeeds: map[int]error{},
	}
}

func (f *FakeClient) Generate(_ context.Context, spec PanelSpec) (Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, spec)

	if err, ok := f.FailSeeds[spec.Seed]; ok {
		return Generation{}, err
	}
	if gen, ok := f.Script[spec.Seed]; ok {
		if gen.SeedUsed == 0 {
			gen.SeedUsed = spec.Seed
		}
		return gen, nil
	}
	if f.Default != nil {
		gen := *f.Default
		gen.SeedUsed = spec.Seed
		return gen, nil
	}
	return Generation{}, fmt.Errorf("fake render: no script for seed %d", spec.Seed)
}

// CallCount returns how many generations were requested.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
