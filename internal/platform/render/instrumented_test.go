package render

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingObserver struct {
	panelTypes []string
	failures   []bool
}

func (r *recordingObserver) ObserveRender(panelType string, _ time.Duration, failed bool) {
	r.panelTypes = append(r.panelTypes, panelType)
	r.failures = append(r.failures, failed)
}

func TestWithObserverRecordsOutcomes(t *testing.T) {
	fake := NewFakeClient()
	fake.Script[100] = Generation{ImageBytes: []byte{1}}
	fake.FailSeeds[200] = errors.New("provider down")

	obs := &recordingObserver{}
	client := WithObserver(fake, obs)

	if _, err := client.Generate(context.Background(), PanelSpec{PanelType: "hero_3d", Seed: 100}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := client.Generate(context.Background(), PanelSpec{PanelType: "elevation_north", Seed: 200}); err == nil {
		t.Fatalf("expected provider error")
	}

	if len(obs.panelTypes) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs.panelTypes))
	}
	if obs.panelTypes[0] != "hero_3d" || obs.panelTypes[1] != "elevation_north" {
		t.Fatalf("unexpected panel types: %v", obs.panelTypes)
	}
	if obs.failures[0] || !obs.failures[1] {
		t.Fatalf("unexpected failure flags: %v", obs.failures)
	}
}

func TestWithObserverNilPassThrough(t *testing.T) {
	fake := NewFakeClient()
	if got := WithObserver(fake, nil); got != Client(fake) {
		t.Fatalf("nil observer must return the client unchanged")
	}
}
