package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/archsheet-backend/internal/observability"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/baseline"
	"github.com/yungbote/archsheet-backend/internal/sheet/runlock"
)

func whitePNG(t *testing.T, size int) []byte {
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

func TestGenerateCountsPanelFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("PANEL_GEN_BATCH_DELAY", "1ms")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	// Every panel renders blank, so the run exhausts its budget and the
	// blank-panel failures land in the metrics.
	fake := render.NewFakeClient()
	fake.Default = &render.Generation{ImageBytes: whitePNG(t, 256)}

	metrics := observability.NewMetrics()
	h := NewSheetHandler(log, fake,
		runlock.NewMemoryRegistry(log),
		baseline.NewStore(log, baseline.NewMemoryBackend()),
		nil, nil, nil, metrics)

	body, err := json.Marshal(map[string]any{
		"sheet_id":           "A1-01",
		"max_repair_retries": 1,
		"spec": map[string]any{
			"design_id":      "D-500",
			"building_type":  "terraced house",
			"floors":         2,
			"facade_width_m": 5.4,
			"facade_depth_m": 9.0,
			"roof_type":      "gable",
			"roof_pitch_deg": 40,
			"party_walls":    []string{"east", "west"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/sheets/generate", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h.Generate(c)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank run should return 422, got %d: %s", w.Code, w.Body.String())
	}

	var expo bytes.Buffer
	if err := metrics.WritePrometheus(&expo); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	text := expo.String()
	if !strings.Contains(text, "archsheet_panel_failures_total") {
		t.Fatalf("panel failure counter missing from exposition:\n%s", text)
	}
	if !strings.Contains(text, `rule="blank_panel"`) {
		t.Fatalf("blank_panel failures not counted:\n%s", text)
	}
	if !strings.Contains(text, "archsheet_runs_finished_total") {
		t.Fatalf("run outcome counter missing from exposition:\n%s", text)
	}
}
