package domain

import (
	"bytes"
	"testing"
)

func TestParseBuildingSpecValidates(t *testing.T) {
	_, err := ParseBuildingSpec([]byte(`{"building_type":"terrace","facade_width_m":5,"facade_depth_m":9}`))
	if err == nil {
		t.Fatalf("expected error for missing design_id")
	}

	_, err = ParseBuildingSpec([]byte(`{"design_id":"D-1","building_type":"terrace","facade_width_m":0,"facade_depth_m":9}`))
	if err == nil {
		t.Fatalf("expected error for non-positive facade width")
	}

	spec, err := ParseBuildingSpec([]byte(`{"design_id":"D-1","building_type":"terrace","facade_width_m":5,"facade_depth_m":9}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if spec.Floors != 1 {
		t.Fatalf("expected floors default 1 got %d", spec.Floors)
	}
	if spec.Units != "meters" {
		t.Fatalf("expected units default meters got %q", spec.Units)
	}
}

func TestCanonicalJSONStable(t *testing.T) {
	spec := BuildingSpec{
		DesignID:     "D-1",
		BuildingType: "terrace",
		Floors:       2,
		FacadeWidth:  5.4,
		FacadeDepth:  9.0,
		Materials:    map[string]string{"walls": "brick", "roof": "slate"},
	}
	a, err := spec.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, err := spec.CanonicalJSON()
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("canonical JSON not stable across calls")
		}
	}
}

func TestPartyWallDirections(t *testing.T) {
	spec := BuildingSpec{PartyWalls: []string{"East", " west ", "bogus"}}
	dirs := spec.PartyWallDirections()
	if len(dirs) != 2 {
		t.Fatalf("expected 2 valid directions got %v", dirs)
	}
	if dirs[0] != DirectionEast || dirs[1] != DirectionWest {
		t.Fatalf("unexpected directions %v", dirs)
	}
}

func TestWithAttemptKeepsSeedDropsImage(t *testing.T) {
	p := Panel{
		Type:       PanelElevationNorth,
		Seed:       777,
		ImageRef:   "gs://x/y.png",
		ImageBytes: []byte{1, 2, 3},
	}
	next := p.WithAttempt(2)
	if next.Seed != 777 {
		t.Fatalf("retry must reuse the original seed, got %d", next.Seed)
	}
	if next.GenerationAttempt != 2 {
		t.Fatalf("expected attempt 2 got %d", next.GenerationAttempt)
	}
	if next.HasImage() {
		t.Fatalf("retry panel must start without an image")
	}
	if !p.HasImage() {
		t.Fatalf("original panel must be untouched")
	}
}

func TestRequiredPanels(t *testing.T) {
	req := RequiredPanels()
	if len(req) != 6 {
		t.Fatalf("expected 6 required panels got %d", len(req))
	}
	if !IsRequiredPanel(PanelHero3D) || !IsRequiredPanel(PanelElevationSouth) {
		t.Fatalf("hero and elevations must be required")
	}
	if IsRequiredPanel(PanelSectionAA) || IsRequiredPanel(PanelMaterialPalette) {
		t.Fatalf("sections and material palette are optional")
	}
}
