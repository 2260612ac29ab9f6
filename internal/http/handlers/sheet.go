package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/archsheet-backend/internal/clients/gcs"
	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/http/response"
	"github.com/yungbote/archsheet-backend/internal/observability"
	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
	"github.com/yungbote/archsheet-backend/internal/platform/render"
	"github.com/yungbote/archsheet-backend/internal/sheet/baseline"
	"github.com/yungbote/archsheet-backend/internal/sheet/pipeline"
	"github.com/yungbote/archsheet-backend/internal/sheet/preview"
	"github.com/yungbote/archsheet-backend/internal/sheet/runlock"
)

type SheetHandler struct {
	log       *logger.Logger
	render    render.Client
	locks     runlock.Registry
	baselines *baseline.Store
	db        *gorm.DB
	previews  *preview.Renderer
	bucket    gcs.BucketService
	metrics   *observability.Metrics
}

func NewSheetHandler(
	log *logger.Logger,
	renderClient render.Client,
	locks runlock.Registry,
	baselines *baseline.Store,
	db *gorm.DB,
	previews *preview.Renderer,
	bucket gcs.BucketService,
	metrics *observability.Metrics,
) *SheetHandler {
	return &SheetHandler{
		log:       log.With("handler", "SheetHandler"),
		render:    renderClient,
		locks:     locks,
		baselines: baselines,
		db:        db,
		previews:  previews,
		bucket:    bucket,
		metrics:   metrics,
	}
}

type generateRequest struct {
	SheetID            string              `json:"sheet_id" binding:"required"`
	Spec               domain.BuildingSpec `json:"spec"`
	ControlImages      map[string]string   `json:"control_images,omitempty"` // panel type -> base64 PNG
	CanonicalElevation string              `json:"canonical_elevation,omitempty"`
	FailFast           bool                `json:"fail_fast"`
	MaxRepairRetries   int                 `json:"max_repair_retries"`
	Preview            bool                `json:"preview"`
}

type generateResponse struct {
	RunID       string                   `json:"run_id"`
	BaseSeed    int                      `json:"base_seed"`
	Decision    pipeline.Decision        `json:"decision"`
	Contract    map[string]any           `json:"contract"`
	Panels      []panelSummary           `json:"panels"`
	Consistency any                      `json:"consistency"`
	PreviewURL  string                   `json:"preview_url,omitempty"`
	PreviewB64  string                   `json:"preview_b64,omitempty"`
}

type panelSummary struct {
	Type     string `json:"type"`
	Seed     int    `json:"seed"`
	Attempt  int    `json:"attempt"`
	ImageRef string `json:"image_ref,omitempty"`
	HasImage bool   `json:"has_image"`
	Pass     bool   `json:"pass"`
	Skipped  bool   `json:"skipped"`
}

func (h *SheetHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	controls, err := decodeControlImages(req.ControlImages)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_control_image", err)
		return
	}
	var canonical []byte
	if req.CanonicalElevation != "" {
		canonical, err = base64.StdEncoding.DecodeString(req.CanonicalElevation)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_canonical_elevation", err)
			return
		}
	}

	out, runErr := pipeline.Run(c.Request.Context(), pipeline.Deps{
		Log:       h.log,
		Render:    h.render,
		Locks:     h.locks,
		Baselines: h.baselines,
		DB:        h.db,
	}, pipeline.Input{
		Spec:               req.Spec,
		SheetID:            req.SheetID,
		ControlImages:      controls,
		CanonicalElevation: canonical,
		FailFast:           req.FailFast,
		MaxRepairRetries:   req.MaxRepairRetries,
	})

	if out.Contract != nil {
		h.metrics.IncRunStarted(string(out.Contract.BuildingType()))
		outcome := "passed"
		if !out.Decision.CanCompose {
			outcome = "failed"
		}
		h.metrics.ObserveRunFinished(string(out.Contract.BuildingType()), outcome, out.Decision.RepairRounds)
		h.metrics.IncGateDecision("contract", boolResult(out.Decision.ContractPass))
		h.metrics.IncGateDecision("consistency", boolResult(out.Decision.ConsistencyPass))
		for pt, check := range out.Summary.Checks {
			for _, issue := range check.Result.Errors {
				h.metrics.IncPanelFailure(string(pt), issue.RuleID)
			}
		}
	}
	if runErr != nil {
		if errors.Is(runErr, apperrors.ErrLockContention) {
			h.metrics.IncLockContention()
		}
		// A exhausted retry budget still carries a full report worth
		// returning alongside the error status.
		if errors.Is(runErr, apperrors.ErrRetryBudgetExhausted) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  response.APIError{Message: runErr.Error(), Code: "retry_budget_exhausted"},
				"report": buildGenerateResponse(out, "", ""),
			})
			return
		}
		response.RespondDomainError(c, runErr)
		return
	}

	previewURL, previewB64 := h.maybeRenderPreview(c, req, out)
	response.RespondOK(c, buildGenerateResponse(out, previewURL, previewB64))
}

func (h *SheetHandler) maybeRenderPreview(c *gin.Context, req generateRequest, out pipeline.Output) (string, string) {
	if !req.Preview || h.previews == nil {
		return "", ""
	}
	failing := map[domain.PanelType]bool{}
	for _, pt := range out.Decision.RequiredFailures {
		failing[pt] = true
	}
	buf, err := h.previews.Render(out.Panels, pipeline.SheetLayout(panelTypes(out.Panels)), failing)
	if err != nil {
		h.log.Warn("preview render failed", "error", err)
		return "", ""
	}
	if h.bucket != nil {
		key := fmt.Sprintf("preview/%s/%s/%d.png", req.Spec.DesignID, req.SheetID, time.Now().UnixNano())
		if err := h.bucket.UploadFile(c.Request.Context(), gcs.BucketCategorySheet, key, bytes.NewReader(buf.Bytes())); err != nil {
			h.log.Warn("preview upload failed", "key", key, "error", err)
		} else {
			return h.bucket.GetPublicURL(gcs.BucketCategorySheet, key), ""
		}
	}
	return "", base64.StdEncoding.EncodeToString(buf.Bytes())
}

func buildGenerateResponse(out pipeline.Output, previewURL, previewB64 string) generateResponse {
	resp := generateResponse{
		RunID:       out.RunID.String(),
		BaseSeed:    out.BaseSeed,
		Decision:    out.Decision,
		Consistency: out.Consistency,
		PreviewURL:  previewURL,
		PreviewB64:  previewB64,
	}
	if out.Contract != nil {
		resp.Contract = out.Contract.Summary()
	}
	for _, p := range out.Panels {
		ps := panelSummary{
			Type:     string(p.Type),
			Seed:     p.Seed,
			Attempt:  p.GenerationAttempt,
			ImageRef: p.ImageRef,
			HasImage: p.HasImage(),
		}
		if check, ok := out.Summary.Checks[p.Type]; ok {
			ps.Pass = check.Result.Pass
			ps.Skipped = check.Result.Skipped
		}
		resp.Panels = append(resp.Panels, ps)
	}
	return resp
}

func (h *SheetHandler) GetBaseline(c *gin.Context) {
	designID := c.Param("designId")
	sheetID := c.Param("sheetId")
	bundle, err := h.baselines.Get(c.Request.Context(), designID, sheetID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, bundle)
}

func (h *SheetHandler) DeleteBaseline(c *gin.Context) {
	designID := c.Param("designId")
	sheetID := c.Param("sheetId")
	existed, err := h.baselines.Delete(c.Request.Context(), designID, sheetID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": existed})
}

func (h *SheetHandler) ListRuns(c *gin.Context) {
	if h.db == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "persistence_disabled", nil)
		return
	}
	designID := c.Param("designId")
	var runs []domain.GenerationRun
	if err := h.db.WithContext(c.Request.Context()).
		Where("design_id = ?", designID).
		Order("created_at DESC").
		Limit(50).
		Find(&runs).Error; err != nil {
		response.RespondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

func (h *SheetHandler) GetRunPanels(c *gin.Context) {
	if h.db == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "persistence_disabled", nil)
		return
	}
	runID := c.Param("runId")
	var panels []domain.PanelRecord
	if err := h.db.WithContext(c.Request.Context()).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&panels).Error; err != nil {
		response.RespondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}
	if len(panels) == 0 {
		response.RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no panels for run %s", runID))
		return
	}
	response.RespondOK(c, gin.H{"panels": panels})
}

func decodeControlImages(raw map[string]string) (map[domain.PanelType][]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[domain.PanelType][]byte, len(raw))
	for k, v := range raw {
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("control image %q: %w", k, err)
		}
		out[domain.PanelType(k)] = data
	}
	return out, nil
}

func panelTypes(panels []domain.Panel) []domain.PanelType {
	types := make([]domain.PanelType, 0, len(panels))
	for _, p := range panels {
		types = append(types, p.Type)
	}
	return types
}

func boolResult(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}
