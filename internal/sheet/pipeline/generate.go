// Package pipeline orchestrates one sheet generation run: seeds,
// contract, paced panel generation, the validation join, both gates, the
// repair loop, and baseline publication.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/baseline"
	"github.com/yungbote/archsheet-backend/internal/sheet/consistency"
	"github.com/yungbote/archsheet-backend/internal/sheet/contract"
	"github.com/yungbote/archsheet-backend/internal/sheet/panelcheck"
	"github.com/yungbote/archsheet-backend/internal/sheet/repair"
	"github.com/yungbote/archsheet-backend/internal/sheet/runlock"
	"github.com/yungbote/archsheet-backend/internal/sheet/seed"
)

type Deps struct {
	Log       *logger.Logger
	Render    render.Client
	Locks     runlock.Registry
	Baselines *baseline.Store
	// DB is optional; when present, run and panel audit rows are written.
	DB *gorm.DB
}

type Input struct {
	Spec    domain.BuildingSpec
	SheetID string

	// Panels defaults to the canonical panel order.
	Panels []domain.PanelType

	// ControlImages conditions individual panels; CanonicalElevation is
	// the reference for the facade cross-consistency check.
	ControlImages      map[domain.PanelType][]byte
	CanonicalElevation []byte

	PanelWidth  int
	PanelHeight int

	Concurrency      int           // panels in flight per batch
	BatchDelay       time.Duration // pause between batches
	FailFast         bool
	MaxRepairRetries int
	Thresholds       *panelcheck.Thresholds
}

// Decision is the run's terminal gate outcome.
type Decision struct {
	CanCompose       bool               `json:"can_compose"`
	ContractPass     bool               `json:"contract_pass"`
	ConsistencyPass  bool               `json:"consistency_pass"`
	RequiredFailures []domain.PanelType `json:"required_failures,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	RepairRounds     int                `json:"repair_rounds"`
}

type Output struct {
	RunID       uuid.UUID
	BaseSeed    int
	Contract    *contract.DesignContract
	Panels      []domain.Panel
	Summary     panelcheck.RunSummary
	Contracts   contract.BatchResult
	Consistency consistency.Report
	Decision    Decision
	Bundle      *baseline.Bundle
}

// Run executes one generation run end to end. Exactly one run may be in
// flight per design; a second request fails immediately with
// ErrLockContention.
func Run(ctx context.Context, deps Deps, in Input) (Output, error) {
	out := Output{}
	if deps.Render == nil || deps.Locks == nil || deps.Baselines == nil {
		return out, fmt.Errorf("pipeline: missing deps")
	}

	lease, err := deps.Locks.Acquire(ctx, in.Spec.DesignID)
	if err != nil {
		return out, err
	}
	defer lease.Release()

	if in.PanelWidth <= 0 {
		in.PanelWidth = envutil.Int("PANEL_WIDTH", 1024)
	}
	if in.PanelHeight <= 0 {
		in.PanelHeight = envutil.Int("PANEL_HEIGHT", 1024)
	}
	if in.Concurrency <= 0 {
		in.Concurrency = envutil.Int("PANEL_GEN_CONCURRENCY", 3)
	}
	if in.BatchDelay <= 0 {
		in.BatchDelay = envutil.Duration("PANEL_GEN_BATCH_DELAY", 500*time.Millisecond)
	}
	if len(in.Panels) == 0 {
		in.Panels = seed.PanelOrder()
	}

	log := deps.Log.With("design_id", in.Spec.DesignID, "sheet_id", in.SheetID)
	out.RunID = uuid.New()

	baseSeed, err := seed.DeriveBaseSeed(in.Spec)
	if err != nil {
		return out, err
	}
	out.BaseSeed = baseSeed

	c, err := contract.New(in.Spec)
	if err != nil {
		return out, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
	}
	out.Contract = c
	log.Info("generation run starting",
		"run_id", out.RunID.String(),
		"base_seed", baseSeed,
		"building_type", string(c.BuildingType()),
		"panels", len(in.Panels))

	run := persistRunStart(deps.DB, log, out.RunID, in, baseSeed, c)

	// Generate panels in paced batches: a handful in flight at once, a
	// breather between batches so the provider's rate limiter stays
	// friendly.
	out.Panels = make([]domain.Panel, len(in.Panels))
	for start := 0; start < len(in.Panels); start += in.Concurrency {
		end := start + in.Concurrency
		if end > len(in.Panels) {
			end = len(in.Panels)
		}
		if start > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(in.BatchDelay):
			}
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				out.Panels[i] = generatePanel(gctx, deps, log, in, c, baseSeed, in.Panels[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}
	}

	validator := panelcheck.NewValidator(deps.Log, thresholdsOrDefault(in.Thresholds), in.CanonicalElevation)
	gate := contract.NewGate(deps.Log, c, contract.GateOptions{
		FailFast:   in.FailFast,
		MaxRetries: in.MaxRepairRetries,
	})
	consistencyGate := consistency.NewGate(deps.Log)

	// Join point: every panel validates before any gate decides.
	out.Summary = validator.CheckAll(out.Panels)
	out.Contracts = gate.ValidateAllPanels(out.Panels)
	out.Consistency = consistencyGate.Evaluate(out.Panels, consistencyBaseline(in.Panels))

	if !out.Summary.CanCompose() || hasRequiredContractFailure(out.Contracts) || !out.Consistency.Pass {
		mergedSummary := mergeFailureSets(out.Summary, out.Contracts, out.Consistency)
		repairOut, repairErr := repair.Run(ctx, repair.Deps{
			Log:       deps.Log,
			Render:      deps.Render,
			Validator:   validator,
			Gate:        gate,
			Consistency: consistencyGate,
		}, repair.Input{
			Panels:              out.Panels,
			Summary:             mergedSummary,
			ConsistencyBaseline: consistencyBaseline(in.Panels),
			MaxRetries:          in.MaxRepairRetries,
			PanelWidth:          in.PanelWidth,
			PanelHeight:         in.PanelHeight,
			Concurrency:         in.Concurrency,
		})
		out.Panels = repairOut.Panels
		out.Summary = repairOut.Summary
		out.Decision.RepairRounds = repairOut.Rounds
		out.Contracts = gate.ValidateAllPanels(out.Panels)
		out.Consistency = consistencyGate.Evaluate(out.Panels, consistencyBaseline(in.Panels))
		if repairErr != nil {
			out.Decision = renderDecision(out, gate)
			persistPanels(deps.DB, log, out)
			persistRunEnd(deps.DB, log, run, out, false)
			return out, repairErr
		}
	}

	out.Decision = renderDecision(out, gate)
	persistPanels(deps.DB, log, out)
	persistRunEnd(deps.DB, log, run, out, out.Decision.CanCompose)

	if !out.Decision.CanCompose {
		if !out.Decision.ContractPass {
			return out, fmt.Errorf("%w: panels %v rejected by the contract gate",
				apperrors.ErrContractViolation, out.Contracts.FailedPanels)
		}
		return out, fmt.Errorf("%w: required panels failing: %v",
			apperrors.ErrRetryBudgetExhausted, out.Decision.RequiredFailures)
	}

	bundle, err := publishBaseline(ctx, deps, in, out, c, baseSeed)
	if err != nil {
		return out, err
	}
	out.Bundle = bundle
	log.Info("generation run accepted", "run_id", out.RunID.String(), "repair_rounds", out.Decision.RepairRounds)
	return out, nil
}

func thresholdsOrDefault(t *panelcheck.Thresholds) panelcheck.Thresholds {
	if t != nil {
		return *t
	}
	return panelcheck.DefaultThresholds()
}

func generatePanel(ctx context.Context, deps Deps, log *logger.Logger, in Input, c *contract.DesignContract, baseSeed int, pt domain.PanelType) domain.Panel {
	panel := domain.Panel{
		Type:           pt,
		Seed:           seed.SeedFor(baseSeed, pt),
		PromptText:     buildPrompt(pt, in.Spec, c),
		NegativePrompt: buildNegativePrompt(c),
		CreatedAt:      time.Now().UTC(),
	}
	spec := render.PanelSpec{
		PanelType:      string(pt),
		Prompt:         panel.PromptText,
		NegativePrompt: panel.NegativePrompt,
		Seed:           panel.Seed,
		Width:          in.PanelWidth,
		Height:         in.PanelHeight,
	}
	if control, ok := in.ControlImages[pt]; ok && len(control) > 0 {
		panel.ControlImageBytes = control
		panel.ControlStrength = envutil.Float("PANEL_CONTROL_STRENGTH", 0.5)
		spec.ControlImageB64 = base64.StdEncoding.EncodeToString(control)
		spec.ControlStrength = panel.ControlStrength
	}

	gen, err := deps.Render.Generate(ctx, spec)
	if err != nil {
		// A failed generation is a generation failure, not a consistency
		// failure: the panel stays imageless and validation will skip it,
		// while the required-panel asset check blocks composition.
		log.Warn("panel generation failed", "panel", pt, "seed", panel.Seed, "error", err)
		return panel
	}
	panel.ImageRef = gen.ImageRef
	panel.ImageBytes = gen.ImageBytes
	return panel
}

// consistencyBaseline picks the designated baseline panel for the
// cross-panel gate: the north elevation anchors the orthographic family.
func consistencyBaseline(panels []domain.PanelType) domain.PanelType {
	for _, pt := range panels {
		if pt == domain.PanelElevationNorth {
			return pt
		}
	}
	for _, pt := range panels {
		if pt.IsElevation() {
			return pt
		}
	}
	return domain.PanelElevationNorth
}

func hasRequiredContractFailure(batch contract.BatchResult) bool {
	for _, pt := range batch.FailedPanels {
		if domain.IsRequiredPanel(pt) {
			return true
		}
	}
	return false
}

// mergeFailureSets widens the validator summary's failure set with
// required-panel failures from the other gates so the repair loop
// regenerates all of them.
func mergeFailureSets(summary panelcheck.RunSummary, batch contract.BatchResult, report consistency.Report) panelcheck.RunSummary {
	merged := summary
	add := func(pt domain.PanelType) {
		if !domain.IsRequiredPanel(pt) {
			return
		}
		for _, e := range merged.RequiredFailures {
			if e == pt {
				return
			}
		}
		merged.RequiredFailures = append(merged.RequiredFailures, pt)
	}
	for _, pt := range batch.FailedPanels {
		add(pt)
	}
	for _, pt := range report.Outliers {
		add(pt)
	}
	return merged
}

func renderDecision(out Output, gate *contract.Gate) Decision {
	gateDecision := gate.FinalGateDecision()
	d := Decision{
		ContractPass:     gateDecision.Pass,
		ConsistencyPass:  out.Consistency.Pass,
		RequiredFailures: out.Summary.RequiredFailures,
		Warnings:         gateDecision.Warnings,
		RepairRounds:     out.Decision.RepairRounds,
	}
	// Missing images on required panels block composition even though
	// validation skipped them.
	for _, p := range out.Panels {
		if domain.IsRequiredPanel(p.Type) && !p.HasImage() {
			d.RequiredFailures = appendMissing(d.RequiredFailures, p.Type)
			d.Warnings = append(d.Warnings, fmt.Sprintf("required panel %s has no image", p.Type))
		}
	}
	// Unresolved cross-panel outliers block composition when the panel
	// is required; optional outliers are reported, not blocking.
	for _, pt := range out.Consistency.Outliers {
		if domain.IsRequiredPanel(pt) {
			d.RequiredFailures = appendMissing(d.RequiredFailures, pt)
		} else {
			d.Warnings = append(d.Warnings, fmt.Sprintf("panel %s diverges from the %s baseline", pt, out.Consistency.BaselinePanel))
		}
	}
	d.CanCompose = gateDecision.Pass && len(d.RequiredFailures) == 0
	return d
}

func appendMissing(list []domain.PanelType, pt domain.PanelType) []domain.PanelType {
	for _, e := range list {
		if e == pt {
			return list
		}
	}
	return append(list, pt)
}

func publishBaseline(ctx context.Context, deps Deps, in Input, out Output, c *contract.DesignContract, baseSeed int) (*baseline.Bundle, error) {
	hero := findPanel(out.Panels, domain.PanelHero3D)
	canonicalRef := ""
	if hero != nil {
		canonicalRef = hero.ImageRef
		if canonicalRef == "" && len(hero.ImageBytes) > 0 {
			canonicalRef = fmt.Sprintf("inline:%s", imageHash(hero.ImageBytes))
		}
	}

	seeds := make(map[domain.PanelType]int, len(out.Panels))
	assetMeta := map[string]any{}
	for _, p := range out.Panels {
		seeds[p.Type] = p.Seed
		if len(p.ImageBytes) > 0 {
			assetMeta[string(p.Type)] = map[string]any{
				"size_bytes": len(p.ImageBytes),
				"hash":       imageHash(p.ImageBytes),
				"attempt":    p.GenerationAttempt,
			}
		}
	}

	bundle, err := baseline.Builder{
		CanonicalImageRef: canonicalRef,
		ContractSummary:   c.Summary(),
		PanelCoords:       SheetLayout(in.Panels),
		PanelSeeds:        seeds,
		BaseSeed:          baseSeed,
		Metadata: map[string]any{
			"run_id":        out.RunID.String(),
			"model":         envutil.Str("RENDER_MODEL", "sdxl-controlnet"),
			"units":         in.Spec.Units,
			"version":       envutil.Str("ARCHSHEET_VERSION", "0.1.0"),
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
			"pass_rate":     out.Summary.PassRate,
			"repair_rounds": out.Decision.RepairRounds,
			"assets":        assetMeta,
		},
	}.Build()
	if err != nil {
		return nil, fmt.Errorf("build baseline bundle: %w", err)
	}
	if err := deps.Baselines.Save(ctx, in.Spec.DesignID, in.SheetID, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func findPanel(panels []domain.Panel, pt domain.PanelType) *domain.Panel {
	for i := range panels {
		if panels[i].Type == pt {
			return &panels[i]
		}
	}
	return nil
}

func imageHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:8])
}

func persistRunStart(db *gorm.DB, log *logger.Logger, runID uuid.UUID, in Input, baseSeed int, c *contract.DesignContract) *domain.GenerationRun {
	if db == nil {
		return nil
	}
	run := &domain.GenerationRun{
		ID:           runID,
		DesignID:     in.Spec.DesignID,
		SheetID:      in.SheetID,
		BaseSeed:     baseSeed,
		BuildingType: string(c.BuildingType()),
		ContractID:   c.ContractID(),
		Status:       "running",
	}
	if err := db.Create(run).Error; err != nil {
		log.Warn("failed to persist generation run", "error", err)
		return nil
	}
	return run
}

func persistRunEnd(db *gorm.DB, log *logger.Logger, run *domain.GenerationRun, out Output, passed bool) {
	if db == nil || run == nil {
		return
	}
	status := "failed"
	if passed {
		status = "passed"
	}
	report, _ := json.Marshal(out.Decision)
	err := db.Model(run).Updates(map[string]any{
		"status":      status,
		"can_compose": passed,
		"report":      datatypes.JSON(report),
	}).Error
	if err != nil {
		log.Warn("failed to update generation run", "error", err)
	}
}

func persistPanels(db *gorm.DB, log *logger.Logger, out Output) {
	if db == nil {
		return
	}
	for _, p := range out.Panels {
		check, ok := out.Summary.Checks[p.Type]
		row := &domain.PanelRecord{
			RunID:             out.RunID,
			PanelType:         string(p.Type),
			Seed:              p.Seed,
			GenerationAttempt: p.GenerationAttempt,
			ImageRef:          p.ImageRef,
			PromptText:        p.PromptText,
			NegativePrompt:    p.NegativePrompt,
			ControlImageRef:   p.ControlImageRef,
			ControlStrength:   p.ControlStrength,
		}
		if ok {
			row.Pass = check.Result.Pass
			row.Skipped = check.Result.Skipped
			if issues, err := json.Marshal(check.Result); err == nil {
				row.Issues = datatypes.JSON(issues)
			}
		}
		if err := db.Create(row).Error; err != nil {
			log.Warn("failed to persist panel record", "panel", p.Type, "error", err)
		}
	}
}
