// Package consistency implements the cross-panel gate: every panel is
// measured against a designated baseline panel, and outliers are flagged
// for targeted regeneration instead of failing the whole batch.
package consistency

import (
	"fmt"
	"strings"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/sheet/panelcheck"
)

// Gate compares panels against a baseline panel of the same drawing
// style. The hero 3D view is never used as a baseline for orthographic
// panels; its rendering style makes every comparison fail.
type Gate struct {
	log             *logger.Logger
	maxPixelDiff    float64
	maxHashDistance int
}

// PanelComparison is one panel's distance from the baseline.
type PanelComparison struct {
	PanelType  domain.PanelType            `json:"panel_type"`
	Skipped    bool                        `json:"skipped"`
	Outlier    bool                        `json:"outlier"`
	Similarity *panelcheck.SimilarityResult `json:"similarity,omitempty"`
	Reason     string                      `json:"reason,omitempty"`
}

// Report is the gate's decision for one batch.
type Report struct {
	BaselinePanel domain.PanelType  `json:"baseline_panel"`
	Comparisons   []PanelComparison `json:"comparisons"`
	Outliers      []domain.PanelType `json:"outliers,omitempty"`
	Pass          bool              `json:"pass"`
}

func NewGate(log *logger.Logger) *Gate {
	return &Gate{
		log:             log.With("component", "ConsistencyGate"),
		maxPixelDiff:    envutil.Float("CONSISTENCY_MAX_PIXEL_DIFF", 0.40),
		maxHashDistance: envutil.Int("CONSISTENCY_MAX_HASH_DIST", 22),
	}
}

// Evaluate compares every comparable panel against the baseline panel and
// flags outliers. Panels without images are skipped; a missing baseline
// image passes the whole gate (nothing to be consistent with).
func (g *Gate) Evaluate(panels []domain.Panel, baseline domain.PanelType) Report {
	report := Report{BaselinePanel: baseline, Pass: true}

	var base *domain.Panel
	for i := range panels {
		if panels[i].Type == baseline {
			base = &panels[i]
			break
		}
	}
	if base == nil || len(base.ImageBytes) == 0 {
		if g.log != nil {
			g.log.Warn("consistency gate skipped: no baseline image", "baseline", baseline)
		}
		return report
	}

	for _, p := range panels {
		if p.Type == baseline {
			continue
		}
		cmp := PanelComparison{PanelType: p.Type}
		switch {
		case len(p.ImageBytes) == 0:
			cmp.Skipped = true
			cmp.Reason = "no image"
		case !comparableStyles(baseline, p.Type):
			cmp.Skipped = true
			cmp.Reason = fmt.Sprintf("style mismatch with baseline %s", baseline)
		default:
			sim, err := panelcheck.CompareToControl(p.ImageBytes, base.ImageBytes, g.maxPixelDiff, g.maxHashDistance)
			if err != nil {
				cmp.Skipped = true
				cmp.Reason = err.Error()
			} else {
				cmp.Similarity = &sim
				cmp.Outlier = !sim.Pass
			}
		}
		if cmp.Outlier {
			report.Outliers = append(report.Outliers, p.Type)
			report.Pass = false
		}
		report.Comparisons = append(report.Comparisons, cmp)
	}

	if g.log != nil {
		g.log.Info("consistency gate evaluated",
			"baseline", baseline,
			"compared", len(report.Comparisons),
			"outliers", len(report.Outliers))
	}
	return report
}

// comparableStyles gates which panel pairs may be measured against each
// other. Orthographic drawings (plans, elevations, sections) share a
// style family; the hero 3D view and the material palette stand alone.
func comparableStyles(a, b domain.PanelType) bool {
	return styleFamily(a) == styleFamily(b) && styleFamily(a) != "unique"
}

func styleFamily(p domain.PanelType) string {
	s := string(p)
	switch {
	case strings.HasPrefix(s, "elevation_"), strings.HasPrefix(s, "section_"):
		return "orthographic"
	case strings.HasPrefix(s, "floor_plan_"):
		return "plan"
	}
	return "unique"
}
