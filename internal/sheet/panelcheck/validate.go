package panelcheck

import (
	"fmt"
	"time"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// Thresholds carries every tunable of the three checks.
type Thresholds struct {
	MinNonWhiteFraction float64
	MinEntropyBits      float64

	ControlMaxPixelDiff    float64
	ControlMaxHashDistance int

	// Facade cross-consistency runs slightly looser: elevations share
	// geometry but differ legitimately in annotation and shading.
	FacadeMaxPixelDiff    float64
	FacadeMaxHashDistance int
}

// DefaultThresholds reads the tunables from the environment with the
// stock defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinNonWhiteFraction:    envutil.Float("PANEL_MIN_NONWHITE", 0.15),
		MinEntropyBits:         envutil.Float("PANEL_MIN_ENTROPY_BITS", 3.0),
		ControlMaxPixelDiff:    envutil.Float("PANEL_CONTROL_MAX_PIXEL_DIFF", 0.35),
		ControlMaxHashDistance: envutil.Int("PANEL_CONTROL_MAX_HASH_DIST", 19),
		FacadeMaxPixelDiff:     envutil.Float("PANEL_FACADE_MAX_PIXEL_DIFF", 0.40),
		FacadeMaxHashDistance:  envutil.Int("PANEL_FACADE_MAX_HASH_DIST", 22),
	}
}

// Validator scores single panels. It is stateless apart from thresholds
// and the optional canonical elevation control.
type Validator struct {
	log        *logger.Logger
	thresholds Thresholds

	// canonicalElevation is the reference every elevation is compared
	// against. Never the hero 3D view; its rendering style diverges by
	// design.
	canonicalElevation []byte
}

// PanelCheck is the detailed outcome for one panel.
type PanelCheck struct {
	Result   domain.ValidationResult `json:"result"`
	NonEmpty *NonEmptyResult         `json:"non_empty,omitempty"`
	Control  *SimilarityResult       `json:"control,omitempty"`
	Facade   *SimilarityResult       `json:"facade,omitempty"`
	Edges    *EdgeMetrics            `json:"edges,omitempty"`
}

// FailureError maps the outcome onto the error taxonomy: nil for a
// passing or skipped panel, otherwise the sentinel for the first
// failing rule, wrapped with the rule's description.
func (c PanelCheck) FailureError() error {
	for _, issue := range c.Result.Errors {
		switch issue.RuleID {
		case "blank_panel", "image_decode":
			return fmt.Errorf("%w: %s", apperrors.ErrBlankPanel, issue.Description)
		case "control_mismatch", "control_decode":
			return fmt.Errorf("%w: %s", apperrors.ErrControlMismatch, issue.Description)
		case "facade_drift", "facade_decode":
			return fmt.Errorf("%w: %s", apperrors.ErrFacadeDrift, issue.Description)
		}
	}
	return nil
}

// RunSummary aggregates a full validation pass.
type RunSummary struct {
	TotalPanels      int                  `json:"total_panels"`
	Checked          int                  `json:"checked"`
	Passed           int                  `json:"passed"`
	PassRate         float64              `json:"pass_rate"`
	RequiredFailures []domain.PanelType   `json:"required_failures,omitempty"`
	FailedPanels     []domain.PanelType   `json:"failed_panels,omitempty"`
	Checks           map[domain.PanelType]PanelCheck `json:"checks"`
}

// CanCompose reports whether composition may proceed on this summary
// alone: no required panel may have failed.
func (s RunSummary) CanCompose() bool {
	return len(s.RequiredFailures) == 0
}

// NewValidator builds a validator; canonicalElevation may be nil, in
// which case the facade check is skipped and reported as passing.
func NewValidator(log *logger.Logger, thresholds Thresholds, canonicalElevation []byte) *Validator {
	return &Validator{
		log:                log.With("component", "PanelValidator"),
		thresholds:         thresholds,
		canonicalElevation: canonicalElevation,
	}
}

// Check runs every applicable check on one panel; the panel passes iff
// all applicable checks pass.
func (v *Validator) Check(p domain.Panel) PanelCheck {
	out := PanelCheck{
		Result: domain.ValidationResult{PanelType: p.Type, Timestamp: time.Now().UTC()},
	}
	if len(p.ImageBytes) == 0 {
		out.Result.Pass = true
		out.Result.Skipped = true
		return out
	}

	pass := true

	ne, err := CheckNonEmpty(p.ImageBytes, v.thresholds.MinNonWhiteFraction, v.thresholds.MinEntropyBits)
	if err != nil {
		pass = false
		out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
			RuleID: "image_decode", Description: err.Error(),
		})
	} else {
		out.NonEmpty = &ne
		if !ne.Pass {
			pass = false
			out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
				RuleID: "blank_panel",
				Description: fmt.Sprintf("panel is blank or near-blank (non_white=%.3f entropy=%.2f bits)",
					ne.NonWhitePercent, ne.EntropyBits),
			})
		}
	}

	if len(p.ControlImageBytes) > 0 {
		sim, err := CompareToControl(p.ImageBytes, p.ControlImageBytes,
			v.thresholds.ControlMaxPixelDiff, v.thresholds.ControlMaxHashDistance)
		if err != nil {
			pass = false
			out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
				RuleID: "control_decode", Description: err.Error(),
			})
		} else {
			out.Control = &sim
			if !sim.Pass {
				pass = false
				out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
					RuleID: "control_mismatch",
					Description: fmt.Sprintf("panel diverged from control (pixel_diff=%.3f hash_dist=%d)",
						sim.PixelDiffRatio, sim.HashDistance),
				})
			}
			if edges, err := EdgeAlignment(p.ImageBytes, p.ControlImageBytes); err == nil {
				out.Edges = &edges
			}
		}
	}

	if p.Type.IsElevation() && len(v.canonicalElevation) > 0 {
		sim, err := CompareToControl(p.ImageBytes, v.canonicalElevation,
			v.thresholds.FacadeMaxPixelDiff, v.thresholds.FacadeMaxHashDistance)
		if err != nil {
			pass = false
			out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
				RuleID: "facade_decode", Description: err.Error(),
			})
		} else {
			out.Facade = &sim
			if !sim.Pass {
				pass = false
				out.Result.Errors = append(out.Result.Errors, domain.RuleIssue{
					RuleID: "facade_drift",
					Description: fmt.Sprintf("elevation drifted from canonical facade (pixel_diff=%.3f hash_dist=%d)",
						sim.PixelDiffRatio, sim.HashDistance),
				})
			}
		}
	}

	out.Result.Pass = pass
	return out
}

// CheckAll validates the batch and builds the run summary. Validation is
// a join point: the summary only exists once every panel has been
// checked.
func (v *Validator) CheckAll(panels []domain.Panel) RunSummary {
	summary := RunSummary{
		TotalPanels: len(panels),
		Checks:      make(map[domain.PanelType]PanelCheck, len(panels)),
	}
	for _, p := range panels {
		check := v.Check(p)
		summary.Checks[p.Type] = check
		if check.Result.Skipped {
			continue
		}
		summary.Checked++
		if check.Result.Pass {
			summary.Passed++
			continue
		}
		summary.FailedPanels = append(summary.FailedPanels, p.Type)
		if domain.IsRequiredPanel(p.Type) {
			summary.RequiredFailures = append(summary.RequiredFailures, p.Type)
		}
	}
	if summary.Checked > 0 {
		summary.PassRate = float64(summary.Passed) / float64(summary.Checked)
	}
	if v.log != nil {
		v.log.Info("panel validation summary",
			"total", summary.TotalPanels,
			"checked", summary.Checked,
			"passed", summary.Passed,
			"required_failures", len(summary.RequiredFailures))
	}
	return summary
}
