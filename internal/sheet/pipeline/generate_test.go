package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/yungbote/archsheet-backend/internal/domain"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/baseline"
	"github.com/yungbote/archsheet-backend/internal/sheet/runlock"
	"github.com/yungbote/archsheet-backend/internal/sheet/seed"
)

func drawingPNG(t *testing.T, size int, phase int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(((x + y + phase*31) * 255 / (2 * size)) % 256)
			if x%16 < 2 || y%16 < 2 {
				v = 20
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testSpec(designID string) domain.BuildingSpec {
	return domain.BuildingSpec{
		DesignID:     designID,
		BuildingType: "terraced house",
		Style:        "victorian",
		Floors:       2,
		FacadeWidth:  5.4,
		FacadeDepth:  9.0,
		RoofType:     "gable",
		RoofPitch:    40,
		PartyWalls:   []string{"east", "west"},
		Units:        "meters",
	}
}

type pipelineFixture struct {
	deps  Deps
	fake  *render.FakeClient
	store *baseline.Store
	locks *runlock.MemoryRegistry
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	fake := render.NewFakeClient()
	store := baseline.NewStore(log, baseline.NewMemoryBackend())
	locks := runlock.NewMemoryRegistry(log)
	return &pipelineFixture{
		deps: Deps{
			Log:       log,
			Render:    fake,
			Locks:     locks,
			Baselines: store,
		},
		fake:  fake,
		store: store,
		locks: locks,
	}
}

func testInput(designID string) Input {
	return Input{
		Spec:    testSpec(designID),
		SheetID: "A1-01",
		Panels: []domain.PanelType{
			domain.PanelHero3D,
			domain.PanelElevationNorth,
			domain.PanelElevationSouth,
		},
		PanelWidth:  256,
		PanelHeight: 256,
		Concurrency: 3,
		BatchDelay:  time.Millisecond,
	}
}

func TestRunHappyPath(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fake.Default = &render.Generation{ImageBytes: drawingPNG(t, 256, 1)}
	ctx := context.Background()

	out, err := Run(ctx, fx.deps, testInput("D-100"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Decision.CanCompose {
		t.Fatalf("clean run must compose, decision: %+v", out.Decision)
	}
	if out.BaseSeed <= 0 || out.BaseSeed >= 1_000_000 {
		t.Fatalf("base seed out of range: %d", out.BaseSeed)
	}
	if out.Decision.RepairRounds != 0 {
		t.Fatalf("clean run needs no repair, got %d rounds", out.Decision.RepairRounds)
	}
	for _, p := range out.Panels {
		if want := seed.SeedFor(out.BaseSeed, p.Type); p.Seed != want {
			t.Fatalf("panel %s seed %d, want %d", p.Type, p.Seed, want)
		}
		if !p.HasImage() {
			t.Fatalf("panel %s has no image", p.Type)
		}
	}
	for _, call := range fx.fake.Calls {
		if call.PanelType == "" {
			t.Fatalf("render request missing panel type label (seed %d)", call.Seed)
		}
	}

	// The baseline is published under the design+sheet key with the
	// run's seeds.
	bundle, err := fx.store.Get(ctx, "D-100", "A1-01")
	if err != nil {
		t.Fatalf("baseline after run: %v", err)
	}
	if bundle.BaseSeed() != out.BaseSeed {
		t.Fatalf("published base seed %d, want %d", bundle.BaseSeed(), out.BaseSeed)
	}
	if bundle.CanonicalImageRef() == "" {
		t.Fatalf("published baseline missing canonical image ref")
	}
	if bundle.PanelSeeds()[domain.PanelElevationNorth] != seed.SeedFor(out.BaseSeed, domain.PanelElevationNorth) {
		t.Fatalf("published seeds do not match the run")
	}
}

func TestRunSeedsAreDeterministic(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fake.Default = &render.Generation{ImageBytes: drawingPNG(t, 256, 1)}
	ctx := context.Background()

	first, err := Run(ctx, fx.deps, testInput("D-101"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(ctx, fx.deps, testInput("D-101"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.BaseSeed != second.BaseSeed {
		t.Fatalf("base seed changed across runs: %d vs %d", first.BaseSeed, second.BaseSeed)
	}
	for i := range first.Panels {
		if first.Panels[i].Seed != second.Panels[i].Seed {
			t.Fatalf("panel %s seed changed across runs", first.Panels[i].Type)
		}
	}
}

func TestRunLockContention(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fake.Default = &render.Generation{ImageBytes: drawingPNG(t, 256, 1)}
	ctx := context.Background()

	lease, err := fx.locks.Acquire(ctx, "D-102")
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer lease.Release()

	_, err = Run(ctx, fx.deps, testInput("D-102"))
	if !errors.Is(err, apperrors.ErrLockContention) {
		t.Fatalf("want ErrLockContention, got %v", err)
	}
	if fx.fake.CallCount() != 0 {
		t.Fatalf("contended run must not generate panels, got %d calls", fx.fake.CallCount())
	}

	lease.Release()
	if _, err := Run(ctx, fx.deps, testInput("D-102")); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestRunMissingRequiredImageBlocksCompose(t *testing.T) {
	fx := newPipelineFixture(t)
	// No script, no default: every generation fails and panels stay
	// imageless.
	ctx := context.Background()

	out, err := Run(ctx, fx.deps, testInput("D-103"))
	if !errors.Is(err, apperrors.ErrRetryBudgetExhausted) {
		t.Fatalf("want ErrRetryBudgetExhausted, got %v", err)
	}
	if out.Decision.CanCompose {
		t.Fatalf("imageless required panels must block composition")
	}
	if len(out.Decision.RequiredFailures) == 0 {
		t.Fatalf("decision must name the failing required panels")
	}

	// Nothing published.
	if _, err := fx.store.Get(ctx, "D-103", "A1-01"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("failed run must not publish a baseline, got %v", err)
	}
}

func TestRunContractRejectionUnderFailFast(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.fake.Default = &render.Generation{ImageBytes: drawingPNG(t, 256, 1)}
	ctx := context.Background()

	// A materials entry that contradicts the terraced-house contract
	// leaks into the palette prompt; the palette is optional, so no
	// repair runs, but fail-fast enforcement rejects the sheet.
	in := testInput("D-110")
	in.FailFast = true
	in.Panels = append(in.Panels, domain.PanelMaterialPalette)
	in.Spec.Materials = map[string]string{"cladding": "villa render brick"}

	out, err := Run(ctx, fx.deps, in)
	if !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("want ErrContractViolation, got %v", err)
	}
	if out.Decision.CanCompose {
		t.Fatalf("fail-fast contract rejection must block composition")
	}
	if out.Decision.ContractPass {
		t.Fatalf("contract gate must report failure")
	}
	if len(out.Decision.RequiredFailures) != 0 {
		t.Fatalf("panel checks were clean, got required failures %v", out.Decision.RequiredFailures)
	}
	found := false
	for _, pt := range out.Contracts.FailedPanels {
		if pt == domain.PanelMaterialPalette {
			found = true
		}
	}
	if !found {
		t.Fatalf("palette must be the failing panel, got %v", out.Contracts.FailedPanels)
	}
	if _, err := fx.store.Get(ctx, "D-110", "A1-01"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("rejected run must not publish a baseline, got %v", err)
	}
}

func TestRunRepairsFailingPanel(t *testing.T) {
	fx := newPipelineFixture(t)
	good := drawingPNG(t, 256, 1)
	fx.fake.Default = &render.Generation{ImageBytes: good}
	ctx := context.Background()

	in := testInput("D-104")
	base, err := seed.DeriveBaseSeed(in.Spec)
	if err != nil {
		t.Fatalf("derive base seed: %v", err)
	}
	northSeed := seed.SeedFor(base, domain.PanelElevationNorth)

	// The north elevation's seed is scripted to a blank image, so every
	// retry for it fails and the budget runs out.
	fx.fake.Script[northSeed] = render.Generation{ImageBytes: whitePanelPNG(t, 256)}

	out, err := Run(ctx, fx.deps, in)
	if !errors.Is(err, apperrors.ErrRetryBudgetExhausted) {
		t.Fatalf("want ErrRetryBudgetExhausted for a panel that never heals, got %v", err)
	}
	if out.Decision.RepairRounds == 0 {
		t.Fatalf("repair loop must have run")
	}

	// Initial generation plus one repair per round, all with the same
	// seed.
	northCalls := 0
	for _, call := range fx.fake.Calls {
		if call.Seed == northSeed {
			northCalls++
		}
	}
	if want := 1 + out.Decision.RepairRounds; northCalls != want {
		t.Fatalf("north elevation generated %d times, want %d", northCalls, want)
	}
}

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
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRunPersistentOutlierBlocksCompose(t *testing.T) {
	fx := newPipelineFixture(t)
	good := drawingPNG(t, 256, 1)
	fx.fake.Default = &render.Generation{ImageBytes: good}
	ctx := context.Background()

	in := testInput("D-105")
	base, err := seed.DeriveBaseSeed(in.Spec)
	if err != nil {
		t.Fatalf("derive base seed: %v", err)
	}
	southSeed := seed.SeedFor(base, domain.PanelElevationSouth)

	// The south elevation passes every standalone check but never
	// matches the north baseline; the outlier must consume the whole
	// budget and block publication.
	fx.fake.Script[southSeed] = render.Generation{ImageBytes: invertedPNG(t, good)}

	out, err := Run(ctx, fx.deps, in)
	if !errors.Is(err, apperrors.ErrRetryBudgetExhausted) {
		t.Fatalf("want ErrRetryBudgetExhausted for a persistent outlier, got %v", err)
	}
	if out.Decision.CanCompose {
		t.Fatalf("unresolved outlier must block composition")
	}
	if out.Consistency.Pass {
		t.Fatalf("consistency report must fail, outliers: %v", out.Consistency.Outliers)
	}
	failed := false
	for _, pt := range out.Decision.RequiredFailures {
		if pt == domain.PanelElevationSouth {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("south elevation missing from required failures: %v", out.Decision.RequiredFailures)
	}
	if out.Decision.RepairRounds == 0 {
		t.Fatalf("outlier repair must consume the retry budget")
	}

	southCalls := 0
	for _, call := range fx.fake.Calls {
		if call.Seed == southSeed {
			southCalls++
		}
	}
	if want := 1 + out.Decision.RepairRounds; southCalls != want {
		t.Fatalf("south elevation generated %d times, want %d", southCalls, want)
	}

	if _, err := fx.store.Get(ctx, "D-105", "A1-01"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("exhausted run must not publish a baseline, got %v", err)
	}
}

func whitePanelPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
