package consistency

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func gradientPNG(t *testing.T, invert bool) []byte {
	t.Helper()
	const size = 256
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x + y) * 255 / (2 * size))
			if invert {
				v = 255 - v
			}
			if x%16 < 2 || y%16 < 2 {
				v = 20
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestEvaluateFlagsOutliers(t *testing.T) {
	g := NewGate(testLogger(t))
	base := gradientPNG(t, false)
	panels := []domain.Panel{
		{Type: domain.PanelElevationNorth, ImageBytes: base},
		{Type: domain.PanelElevationSouth, ImageBytes: base},
		{Type: domain.PanelElevationEast, ImageBytes: gradientPNG(t, true)},
	}
	report := g.Evaluate(panels, domain.PanelElevationNorth)
	if report.Pass {
		t.Fatalf("batch with an outlier must fail")
	}
	if len(report.Outliers) != 1 || report.Outliers[0] != domain.PanelElevationEast {
		t.Fatalf("expected east elevation outlier, got %v", report.Outliers)
	}
}

func TestEvaluateSkipsHeroAndPalette(t *testing.T) {
	g := NewGate(testLogger(t))
	base := gradientPNG(t, false)
	panels := []domain.Panel{
		{Type: domain.PanelElevationNorth, ImageBytes: base},
		{Type: domain.PanelHero3D, ImageBytes: gradientPNG(t, true)},
		{Type: domain.PanelMaterialPalette, ImageBytes: gradientPNG(t, true)},
	}
	report := g.Evaluate(panels, domain.PanelElevationNorth)
	if !report.Pass {
		t.Fatalf("style-mismatched panels must be skipped, not flagged: %+v", report)
	}
	for _, cmp := range report.Comparisons {
		if !cmp.Skipped {
			t.Fatalf("expected %s skipped for style mismatch", cmp.PanelType)
		}
	}
}

func TestEvaluateMissingBaselinePasses(t *testing.T) {
	g := NewGate(testLogger(t))
	panels := []domain.Panel{
		{Type: domain.PanelElevationSouth, ImageBytes: gradientPNG(t, false)},
	}
	report := g.Evaluate(panels, domain.PanelElevationNorth)
	if !report.Pass {
		t.Fatalf("missing baseline image must pass the gate")
	}
	if len(report.Comparisons) != 0 {
		t.Fatalf("no comparisons expected without a baseline")
	}
}

func TestEvaluateSkipsImagelessPanels(t *testing.T) {
	g := NewGate(testLogger(t))
	panels := []domain.Panel{
		{Type: domain.PanelElevationNorth, ImageBytes: gradientPNG(t, false)},
		{Type: domain.PanelElevationWest},
	}
	report := g.Evaluate(panels, domain.PanelElevationNorth)
	if !report.Pass {
		t.Fatalf("imageless panel must not fail the gate")
	}
	if len(report.Comparisons) != 1 || !report.Comparisons[0].Skipped {
		t.Fatalf("imageless panel should be skipped, got %+v", report.Comparisons)
	}
}

func TestStyleFamilies(t *testing.T) {
	if styleFamily(domain.PanelElevationNorth) != "orthographic" ||
		styleFamily(domain.PanelSectionAA) != "orthographic" {
		t.Fatalf("elevations and sections share the orthographic family")
	}
	if styleFamily(domain.PanelFloorPlanGround) != "plan" {
		t.Fatalf("floor plans are their own family")
	}
	if styleFamily(domain.PanelHero3D) != "unique" || styleFamily(domain.PanelMaterialPalette) != "unique" {
		t.Fatalf("hero and palette must stand alone")
	}
	if comparableStyles(domain.PanelHero3D, domain.PanelHero3D) {
		t.Fatalf("unique panels are never comparable, even to themselves")
	}
}
