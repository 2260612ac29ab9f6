package contract

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// Gate runs contract rules over panels and tracks per-panel pass/fail and
// retry history for one generation run.
type Gate struct {
	mu sync.Mutex

	log      *logger.Logger
	contract *DesignContract

	maxRetries int
	failFast   bool

	results      map[domain.PanelType]domain.ValidationResult
	retryHistory map[domain.PanelType][]domain.RetryRecord
	passedPanels []domain.PanelType
	failedPanels []domain.PanelType
}

// GateOptions tunes gate behavior. Zero values take the configured
// defaults.
type GateOptions struct {
	MaxRetries int
	FailFast   bool
}

// BatchResult aggregates one ValidateAllPanels pass.
type BatchResult struct {
	TotalPanels  int                `json:"total_panels"`
	Passed       int                `json:"passed"`
	Failed       int                `json:"failed"`
	Valid        bool               `json:"valid"`
	FailedPanels []domain.PanelType `json:"failed_panels,omitempty"`
	PassedPanels []domain.PanelType `json:"passed_panels,omitempty"`
}

// RetryModifications is what the repair loop applies to a failing panel.
type RetryModifications struct {
	PromptPrefixes            []string `json:"prompt_prefixes"`
	NegativeAdditions         []string `json:"negative_additions"`
	ControlStrengthMultiplier float64  `json:"control_strength_multiplier"`
}

// RetryDecision is the answer to "should this panel be regenerated".
type RetryDecision struct {
	ShouldRetry bool   `json:"should_retry"`
	Reason      string `json:"reason,omitempty"`
}

// GateDecision is the batch-level accept/reject decision.
type GateDecision struct {
	Pass         bool               `json:"pass"`
	FailedPanels []domain.PanelType `json:"failed_panels,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// NewGate creates a gate bound to one contract.
func NewGate(log *logger.Logger, c *DesignContract, opts GateOptions) *Gate {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = envutil.Int("SHEET_CONTRACT_MAX_RETRIES", 2)
	}
	return &Gate{
		log:          log.With("component", "ContractGate", "contract_id", c.ContractID()),
		contract:     c,
		maxRetries:   maxRetries,
		failFast:     opts.FailFast,
		results:      map[domain.PanelType]domain.ValidationResult{},
		retryHistory: map[domain.PanelType][]domain.RetryRecord{},
	}
}

// Contract exposes the bound contract.
func (g *Gate) Contract() *DesignContract { return g.contract }

// ValidatePanel evaluates the building type's rules and the forbidden
// pattern scan against one panel and records the outcome.
func (g *Gate) ValidatePanel(p domain.Panel) domain.ValidationResult {
	res := domain.ValidationResult{
		PanelType: p.Type,
		Timestamp: time.Now().UTC(),
	}

	// A panel that never produced an image cannot fail consistency
	// validation; its generation failure is reported elsewhere.
	if !p.HasImage() {
		res.Pass = true
		res.Skipped = true
		g.record(res)
		return res
	}

	tbl := ruleTableFor(g.contract.buildingType)
	for _, rule := range tbl.Rules {
		if rule.Check(p, g.contract) {
			continue
		}
		issue := domain.RuleIssue{RuleID: rule.ID, Description: rule.Description}
		if rule.Severity == SeverityCritical {
			res.Errors = append(res.Errors, issue)
		} else {
			res.Warnings = append(res.Warnings, issue)
		}
	}

	for _, pattern := range g.contract.forbiddenPatterns {
		if affirms(p.PromptText, pattern) {
			res.Errors = append(res.Errors, domain.RuleIssue{
				RuleID:      "forbidden_pattern",
				Description: fmt.Sprintf("prompt affirms forbidden pattern %q for %s contract", pattern, g.contract.buildingType),
			})
		}
	}

	for _, phrase := range g.contract.requiredPhrases {
		if !strings.Contains(strings.ToLower(p.PromptText), phrase) {
			res.Warnings = append(res.Warnings, domain.RuleIssue{
				RuleID:      "required_phrase_missing",
				Description: fmt.Sprintf("prompt does not mention %q", phrase),
			})
		}
	}

	res.Pass = len(res.Errors) == 0
	g.record(res)
	return res
}

func (g *Gate) record(res domain.ValidationResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[res.PanelType] = res
	g.passedPanels = removePanel(g.passedPanels, res.PanelType)
	g.failedPanels = removePanel(g.failedPanels, res.PanelType)
	if res.Pass {
		g.passedPanels = append(g.passedPanels, res.PanelType)
	} else {
		g.failedPanels = append(g.failedPanels, res.PanelType)
	}
}

func removePanel(list []domain.PanelType, p domain.PanelType) []domain.PanelType {
	out := list[:0]
	for _, e := range list {
		if e != p {
			out = append(out, e)
		}
	}
	return out
}

// ValidateAllPanels maps ValidatePanel over the batch.
func (g *Gate) ValidateAllPanels(panels []domain.Panel) BatchResult {
	res := BatchResult{TotalPanels: len(panels)}
	for _, p := range panels {
		r := g.ValidatePanel(p)
		if r.Pass {
			res.Passed++
			res.PassedPanels = append(res.PassedPanels, p.Type)
		} else {
			res.Failed++
			res.FailedPanels = append(res.FailedPanels, p.Type)
		}
	}
	res.Valid = res.Failed == 0
	if g.log != nil {
		g.log.Info("contract batch validated",
			"total", res.TotalPanels, "passed", res.Passed, "failed", res.Failed)
	}
	return res
}

// RetryPromptModifications returns the escalated constraints for the given
// retry attempt and appends a RetryRecord to the panel's history. The
// control strength pressure grows linearly with the attempt number.
func (g *Gate) RetryPromptModifications(panel domain.PanelType, retryAttempt int) RetryModifications {
	prefixes := retryPromptPrefix(g.contract.buildingType, g.contract, retryAttempt)
	mods := RetryModifications{
		PromptPrefixes:            prefixes,
		ControlStrengthMultiplier: 1.0 + float64(retryAttempt)*0.15,
	}
	if neg := g.contract.NegativePromptInjection(); neg != "" {
		mods.NegativeAdditions = append(mods.NegativeAdditions, neg)
	}

	g.mu.Lock()
	g.retryHistory[panel] = append(g.retryHistory[panel], domain.RetryRecord{
		Attempt:                   retryAttempt,
		ControlStrengthMultiplier: mods.ControlStrengthMultiplier,
		PromptModifications:       prefixes,
		Timestamp:                 time.Now().UTC(),
	})
	g.mu.Unlock()
	return mods
}

// ShouldRetryPanel retries while attempts remain and the last validation
// failed.
func (g *Gate) ShouldRetryPanel(panel domain.PanelType) RetryDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	attempts := len(g.retryHistory[panel])
	if attempts >= g.maxRetries {
		return RetryDecision{ShouldRetry: false, Reason: "Max retries exceeded"}
	}
	if res, ok := g.results[panel]; ok && res.Pass {
		return RetryDecision{ShouldRetry: false, Reason: "Panel passed validation"}
	}
	return RetryDecision{ShouldRetry: true}
}

// RetryHistory returns a copy of the retry records for one panel.
func (g *Gate) RetryHistory(panel domain.PanelType) []domain.RetryRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.RetryRecord(nil), g.retryHistory[panel]...)
}

// Results returns a copy of all recorded validation results.
func (g *Gate) Results() map[domain.PanelType]domain.ValidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[domain.PanelType]domain.ValidationResult, len(g.results))
	for k, v := range g.results {
		out[k] = v
	}
	return out
}

// FinalGateDecision renders the batch accept/reject. With fail-fast off,
// failures downgrade to warnings so one stubborn non-critical panel cannot
// permanently block the sheet.
func (g *Gate) FinalGateDecision() GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.failedPanels) == 0 {
		return GateDecision{Pass: true}
	}
	failed := append([]domain.PanelType(nil), g.failedPanels...)
	if g.failFast {
		return GateDecision{Pass: false, FailedPanels: failed}
	}
	warnings := make([]string, 0, len(failed))
	for _, p := range failed {
		warnings = append(warnings, fmt.Sprintf("panel %s failed contract validation (soft enforcement)", p))
	}
	return GateDecision{Pass: true, FailedPanels: failed, Warnings: warnings}
}
