// Package repair regenerates failing panels with escalated constraints.
// Repair means the same building drawn again, not a new one: the original
// panel seed is always reused, only prompt pressure and control strength
// escalate.
package repair

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/consistency"
	"github.com/yungbote/archsheet-backend/internal/sheet/contract"
	"github.com/yungbote/archsheet-backend/internal/sheet/panelcheck"
)

type Deps struct {
	Log       *logger.Logger
	Render    render.Client
	Validator *panelcheck.Validator
	Gate      *contract.Gate
	// Consistency, when set, re-runs the cross-panel gate after every
	// round so an unresolved outlier keeps consuming the budget.
	Consistency *consistency.Gate
}

type Input struct {
	Panels  []domain.Panel
	Summary panelcheck.RunSummary

	// ConsistencyBaseline is the panel the cross-panel gate measures
	// against; used only when Deps.Consistency is set.
	ConsistencyBaseline domain.PanelType

	MaxRetries     int     // default 2
	StrengthFactor float64 // default 1.25
	StrengthCap    float64 // default 0.95
	Concurrency    int     // panels repaired in parallel per round
	PanelWidth     int
	PanelHeight    int
}

type Output struct {
	Panels   []domain.Panel
	Summary  panelcheck.RunSummary
	Rounds   int
	Repaired []domain.PanelType
	// Exhausted is set when required panels still fail after the last
	// round; the caller must not compose.
	Exhausted bool
}

// Run executes repair rounds until the required set passes or the budget
// runs out. Rounds are sequential (regenerate, revalidate, decide);
// panels within one round repair concurrently.
func Run(ctx context.Context, deps Deps, in Input) (Output, error) {
	if deps.Render == nil || deps.Validator == nil || deps.Gate == nil {
		return Output{}, fmt.Errorf("repair: missing deps")
	}
	if in.MaxRetries <= 0 {
		in.MaxRetries = envutil.Int("SHEET_AUTO_REPAIR_RETRIES", 2)
	}
	if in.StrengthFactor <= 1 {
		in.StrengthFactor = envutil.Float("SHEET_REPAIR_STRENGTH_FACTOR", 1.25)
	}
	if in.StrengthCap <= 0 {
		in.StrengthCap = envutil.Float("SHEET_REPAIR_STRENGTH_CAP", 0.95)
	}
	if in.Concurrency <= 0 {
		in.Concurrency = 3
	}

	out := Output{Panels: in.Panels, Summary: in.Summary}
	if out.Summary.CanCompose() {
		return out, nil
	}

	byType := make(map[domain.PanelType]int, len(out.Panels))
	for i, p := range out.Panels {
		byType[p.Type] = i
	}

	for round := 1; round <= in.MaxRetries && !out.Summary.CanCompose(); round++ {
		out.Rounds = round
		failing := append([]domain.PanelType(nil), out.Summary.RequiredFailures...)
		if deps.Log != nil {
			deps.Log.Info("auto-repair round starting",
				"round", round, "failing", len(failing))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(in.Concurrency)
		repaired := make([]domain.Panel, len(failing))
		for slot, pt := range failing {
			idx, ok := byType[pt]
			if !ok {
				continue
			}
			panel := out.Panels[idx]
			slot := slot
			g.Go(func() error {
				next, err := repairPanel(gctx, deps, panel, round, in)
				if err != nil {
					return err
				}
				repaired[slot] = next
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, fmt.Errorf("repair round %d: %w", round, err)
		}

		for _, p := range repaired {
			if p.Type == "" {
				continue
			}
			out.Panels[byType[p.Type]] = p
			out.Repaired = appendUnique(out.Repaired, p.Type)
		}

		// Full revalidation: repairs can shift cross-panel comparisons,
		// not just the repaired panels' own checks.
		out.Summary = revalidate(deps, in, out.Panels)
	}

	if !out.Summary.CanCompose() {
		out.Exhausted = true
		err := fmt.Errorf("%w: %d required panel(s) still failing after %d round(s): %v",
			apperrors.ErrRetryBudgetExhausted, len(out.Summary.RequiredFailures), out.Rounds,
			out.Summary.RequiredFailures)
		for _, pt := range out.Summary.RequiredFailures {
			if cause := out.Summary.Checks[pt].FailureError(); cause != nil {
				return out, fmt.Errorf("%w: %w", err, cause)
			}
		}
		return out, err
	}
	return out, nil
}

// revalidate reruns the single-panel checks and, when wired, the
// cross-panel gate. Required outliers widen the failure set so the next
// round regenerates them instead of exiting the loop.
func revalidate(deps Deps, in Input, panels []domain.Panel) panelcheck.RunSummary {
	summary := deps.Validator.CheckAll(panels)
	if deps.Consistency == nil {
		return summary
	}
	report := deps.Consistency.Evaluate(panels, in.ConsistencyBaseline)
	for _, pt := range report.Outliers {
		if domain.IsRequiredPanel(pt) {
			summary.RequiredFailures = appendUnique(summary.RequiredFailures, pt)
		}
	}
	return summary
}

func repairPanel(ctx context.Context, deps Deps, panel domain.Panel, round int, in Input) (domain.Panel, error) {
	mods := deps.Gate.RetryPromptModifications(panel.Type, round)

	strength := panel.ControlStrength
	if strength <= 0 {
		strength = 0.5
	}
	for i := 0; i < round; i++ {
		strength *= in.StrengthFactor
	}
	if strength > in.StrengthCap {
		strength = in.StrengthCap
	}

	next := panel.WithAttempt(panel.GenerationAttempt + 1)
	next.ControlStrength = strength
	next.PromptText = strengthenPrompt(panel, mods, round)
	next.NegativePrompt = strengthenNegative(panel, mods)

	spec := render.PanelSpec{
		PanelType:       string(panel.Type),
		Prompt:          next.PromptText,
		NegativePrompt:  next.NegativePrompt,
		Seed:            next.Seed,
		Width:           in.PanelWidth,
		Height:          in.PanelHeight,
		ControlStrength: strength,
	}
	if len(panel.ControlImageBytes) > 0 {
		spec.ControlImageB64 = base64.StdEncoding.EncodeToString(panel.ControlImageBytes)
	}

	gen, err := deps.Render.Generate(ctx, spec)
	if err != nil {
		return domain.Panel{}, fmt.Errorf("regenerate %s (attempt %d): %w", panel.Type, next.GenerationAttempt, err)
	}
	next.ImageRef = gen.ImageRef
	next.ImageBytes = gen.ImageBytes
	next.CreatedAt = time.Now().UTC()

	if deps.Log != nil {
		deps.Log.Info("panel repaired",
			"panel", panel.Type,
			"attempt", next.GenerationAttempt,
			"seed", next.Seed,
			"control_strength", strength)
	}
	return next, nil
}

// strengthenPrompt prepends the gate's escalated constraints plus
// panel-type-specific structural reminders.
func strengthenPrompt(panel domain.Panel, mods contract.RetryModifications, round int) string {
	var b strings.Builder
	for _, prefix := range mods.PromptPrefixes {
		b.WriteString(prefix)
		b.WriteString(". ")
	}
	if structural := structuralReminder(panel.Type, round); structural != "" {
		b.WriteString(structural)
		b.WriteString(". ")
	}
	b.WriteString(panel.PromptText)
	return b.String()
}

func strengthenNegative(panel domain.Panel, mods contract.RetryModifications) string {
	parts := []string{}
	if panel.NegativePrompt != "" {
		parts = append(parts, panel.NegativePrompt)
	}
	for _, add := range mods.NegativeAdditions {
		if add != "" && !strings.Contains(panel.NegativePrompt, add) {
			parts = append(parts, add)
		}
	}
	return strings.Join(parts, ", ")
}

func structuralReminder(pt domain.PanelType, round int) string {
	prefix := "Keep"
	if round >= 2 {
		prefix = "ABSOLUTELY preserve"
	}
	switch {
	case pt == domain.PanelHero3D:
		return prefix + " the established massing, roof line, and material palette exactly"
	case pt.IsElevation():
		return prefix + " the window positions, floor heights, and facade proportions from the control drawing"
	case strings.HasPrefix(string(pt), "floor_plan_"):
		return prefix + " the wall layout and room boundaries from the control drawing"
	case strings.HasPrefix(string(pt), "section_"):
		return prefix + " the floor levels and roof profile from the control drawing"
	}
	return ""
}

func appendUnique(list []domain.PanelType, p domain.PanelType) []domain.PanelType {
	for _, e := range list {
		if e == p {
			return list
		}
	}
	return append(list, p)
}
