package repair

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/consistency"
	"github.com/yungbote/archsheet-backend/internal/sheet/contract"
	"github.com/yungbote/archsheet-backend/internal/sheet/panelcheck"
)

func whitePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return encodePNG(t, img)
}

// drawingPNG fakes an architectural drawing with enough ink and tonal
// spread to clear the blank-panel thresholds.
func drawingPNG(t *testing.T, size int, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(((x + y + seed*31) * 255 / (2 * size)) % 256)
			if x%16 < 2 || y%16 < 2 {
				v = 20
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return encodePNG(t, img)
}

// invertedPNG flips a drawing so it shares no structure with the original.
func invertedPNG(t *testing.T, raw []byte) []byte {
	t.Helper()
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := src.Bounds()
	img := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(src.At(x, y)).(color.Gray)
			img.SetGray(x, y, color.Gray{Y: 255 - g.Y})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestDeps(t *testing.T, fake *render.FakeClient) Deps {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := contract.New(domain.BuildingSpec{
		DesignID:     "D-300",
		BuildingType: "terraced house",
		Floors:       2,
		FacadeWidth:  5.4,
		FacadeDepth:  9.0,
		RoofType:     "gable",
		RoofPitch:    40,
		PartyWalls:   []string{"east", "west"},
	})
	if err != nil {
		t.Fatalf("contract.New: %v", err)
	}
	return Deps{
		Log:       log,
		Render:    fake,
		Validator: panelcheck.NewValidator(log, panelcheck.DefaultThresholds(), nil),
		Gate:      contract.NewGate(log, c, contract.GateOptions{MaxRetries: 2}),
	}
}

func testPanels(t *testing.T) []domain.Panel {
	t.Helper()
	return []domain.Panel{
		{
			Type:       domain.PanelHero3D,
			Seed:       500137,
			ImageBytes: drawingPNG(t, 256, 1),
			PromptText: "photorealistic 3D view of a two-storey terraced house",
		},
		{
			Type:       domain.PanelElevationNorth,
			Seed:       500274,
			ImageBytes: whitePNG(t, 256), // failing required panel
			PromptText: "north elevation, orthographic line drawing",
		},
	}
}

func TestRepairRegeneratesFailingPanelWithSameSeed(t *testing.T) {
	fake := render.NewFakeClient()
	// The provider returns a proper drawing for the failing panel's seed.
	fake.Script[500274] = render.Generation{ImageBytes: drawingPNG(t, 256, 7)}

	deps := newTestDeps(t, fake)
	panels := testPanels(t)
	summary := deps.Validator.CheckAll(panels)
	if summary.CanCompose() {
		t.Fatalf("fixture must start with a failing required panel")
	}

	out, err := Run(context.Background(), deps, Input{
		Panels:      panels,
		Summary:     summary,
		PanelWidth:  256,
		PanelHeight: 256,
	})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !out.Summary.CanCompose() {
		t.Fatalf("repair must end composable, required failures: %v", out.Summary.RequiredFailures)
	}
	if out.Rounds != 1 {
		t.Fatalf("one scripted fix should take one round, got %d", out.Rounds)
	}
	if len(out.Repaired) != 1 || out.Repaired[0] != domain.PanelElevationNorth {
		t.Fatalf("unexpected repaired set: %v", out.Repaired)
	}

	// Only the failing panel was regenerated, with its original seed.
	if fake.CallCount() != 1 {
		t.Fatalf("expected 1 regeneration, got %d", fake.CallCount())
	}
	if fake.Calls[0].Seed != 500274 {
		t.Fatalf("repair must reuse the panel seed, got %d", fake.Calls[0].Seed)
	}

	var repaired domain.Panel
	for _, p := range out.Panels {
		if p.Type == domain.PanelElevationNorth {
			repaired = p
		}
	}
	if repaired.Seed != 500274 {
		t.Fatalf("repaired panel changed seed: %d", repaired.Seed)
	}
	if repaired.GenerationAttempt != 1 {
		t.Fatalf("attempt must increment to 1, got %d", repaired.GenerationAttempt)
	}
}

func TestRepairedPanelPassesContractGate(t *testing.T) {
	fake := render.NewFakeClient()
	fake.Script[500274] = render.Generation{ImageBytes: drawingPNG(t, 256, 7)}

	deps := newTestDeps(t, fake)
	panels := testPanels(t)
	summary := deps.Validator.CheckAll(panels)

	out, err := Run(context.Background(), deps, Input{
		Panels:      panels,
		Summary:     summary,
		PanelWidth:  256,
		PanelHeight: 256,
	})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}

	// The escalated prompt must not trip the contract's own
	// forbidden-pattern scan.
	for _, p := range out.Panels {
		if p.Type != domain.PanelElevationNorth {
			continue
		}
		res := deps.Gate.ValidatePanel(p)
		if !res.Pass {
			t.Fatalf("repaired panel failed its own contract gate: %v", res.Errors)
		}
		for _, e := range res.Errors {
			if e.RuleID == "forbidden_pattern" {
				t.Fatalf("repaired prompt affirms a forbidden pattern: %v", e)
			}
		}
	}
}

func TestRepairEscalatesPromptAndStrength(t *testing.T) {
	fake := render.NewFakeClient()
	fake.Script[500274] = render.Generation{ImageBytes: drawingPNG(t, 256, 7)}

	deps := newTestDeps(t, fake)
	panels := testPanels(t)
	panels[1].ControlStrength = 0.5
	summary := deps.Validator.CheckAll(panels)

	if _, err := Run(context.Background(), deps, Input{
		Panels:      panels,
		Summary:     summary,
		PanelWidth:  256,
		PanelHeight: 256,
	}); err != nil {
		t.Fatalf("repair: %v", err)
	}

	call := fake.Calls[0]
	if got, want := call.ControlStrength, 0.5*1.25; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("round-1 control strength: got %f want %f", got, want)
	}
	if call.Prompt == panels[1].PromptText {
		t.Fatalf("repair must escalate the prompt, got the original text")
	}
	if !bytes.Contains([]byte(call.Prompt), []byte(panels[1].PromptText)) {
		t.Fatalf("escalated prompt must retain the original text")
	}
}

func TestRepairExhaustsBudget(t *testing.T) {
	fake := render.NewFakeClient()
	// Provider keeps returning blank images; repair can never converge.
	fake.Default = &render.Generation{}
	fake.Script[500274] = render.Generation{ImageBytes: whitePNG(t, 256)}

	deps := newTestDeps(t, fake)
	panels := testPanels(t)
	summary := deps.Validator.CheckAll(panels)

	out, err := Run(context.Background(), deps, Input{
		Panels:      panels,
		Summary:     summary,
		MaxRetries:  2,
		PanelWidth:  256,
		PanelHeight: 256,
	})
	if !errors.Is(err, apperrors.ErrRetryBudgetExhausted) {
		t.Fatalf("want ErrRetryBudgetExhausted, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrBlankPanel) {
		t.Fatalf("exhaustion over a blank panel must carry ErrBlankPanel, got %v", err)
	}
	if !out.Exhausted {
		t.Fatalf("output must be marked exhausted")
	}
	if out.Rounds != 2 {
		t.Fatalf("budget of 2 must run 2 rounds, got %d", out.Rounds)
	}
	if fake.CallCount() != 2 {
		t.Fatalf("one failing panel over 2 rounds means 2 regenerations, got %d", fake.CallCount())
	}
	if out.Summary.CanCompose() {
		t.Fatalf("exhausted run must not be composable")
	}
}

func TestRepairReevaluatesConsistencyEachRound(t *testing.T) {
	good := drawingPNG(t, 256, 1)
	fake := render.NewFakeClient()
	// The south elevation stays a structural outlier on every retry even
	// though it passes the standalone checks.
	fake.Script[500411] = render.Generation{ImageBytes: invertedPNG(t, good)}

	deps := newTestDeps(t, fake)
	deps.Consistency = consistency.NewGate(deps.Log)

	panels := []domain.Panel{
		{Type: domain.PanelElevationNorth, Seed: 500274, ImageBytes: good},
		{Type: domain.PanelElevationSouth, Seed: 500411, ImageBytes: invertedPNG(t, good)},
	}
	summary := deps.Validator.CheckAll(panels)
	if !summary.CanCompose() {
		t.Fatalf("outlier must pass standalone checks, failures: %v", summary.RequiredFailures)
	}
	// The caller's join feeds the cross-panel outlier into the failure set.
	summary.RequiredFailures = append(summary.RequiredFailures, domain.PanelElevationSouth)

	out, err := Run(context.Background(), deps, Input{
		Panels:              panels,
		Summary:             summary,
		ConsistencyBaseline: domain.PanelElevationNorth,
		MaxRetries:          2,
		PanelWidth:          256,
		PanelHeight:         256,
	})
	if !errors.Is(err, apperrors.ErrRetryBudgetExhausted) {
		t.Fatalf("persistent outlier must exhaust the budget, got %v", err)
	}
	if out.Rounds != 2 {
		t.Fatalf("outlier must keep consuming rounds, got %d", out.Rounds)
	}
	if fake.CallCount() != 2 {
		t.Fatalf("one outlier over 2 rounds means 2 regenerations, got %d", fake.CallCount())
	}
}

func TestRepairNoOpWhenAlreadyComposable(t *testing.T) {
	fake := render.NewFakeClient()
	deps := newTestDeps(t, fake)

	panels := []domain.Panel{{
		Type:       domain.PanelHero3D,
		Seed:       500137,
		ImageBytes: drawingPNG(t, 256, 1),
	}}
	summary := deps.Validator.CheckAll(panels)
	if !summary.CanCompose() {
		t.Fatalf("fixture must start composable")
	}

	out, err := Run(context.Background(), deps, Input{Panels: panels, Summary: summary})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if out.Rounds != 0 || fake.CallCount() != 0 {
		t.Fatalf("composable input must skip repair, rounds=%d calls=%d", out.Rounds, fake.CallCount())
	}
}
