package domain

import (
	"strings"
	"time"
)

// BuildingType classifies the structural identity of a design. It is the
// single attribute that must never change once a contract exists; the rest
// of the pipeline leans on it to reject "terrace silently becomes detached"
// class failures.
type BuildingType string

const (
	BuildingTypeDetached     BuildingType = "detached"
	BuildingTypeSemiDetached BuildingType = "semi_detached"
	BuildingTypeTerrace      BuildingType = "terrace"
	BuildingTypeApartment    BuildingType = "apartment"
)

// Direction is a compass direction used for elevations and party walls.
type Direction string

const (
	DirectionNorth Direction = "north"
	DirectionSouth Direction = "south"
	DirectionEast  Direction = "east"
	DirectionWest  Direction = "west"
)

// PanelType identifies one view on the presentation sheet.
type PanelType string

const (
	PanelHero3D          PanelType = "hero_3d"
	PanelFloorPlanGround PanelType = "floor_plan_ground"
	PanelFloorPlanFirst  PanelType = "floor_plan_first"
	PanelElevationNorth  PanelType = "elevation_north"
	PanelElevationSouth  PanelType = "elevation_south"
	PanelElevationEast   PanelType = "elevation_east"
	PanelElevationWest   PanelType = "elevation_west"
	PanelSectionAA       PanelType = "section_aa"
	PanelSectionBB       PanelType = "section_bb"
	PanelMaterialPalette PanelType = "material_palette"
)

// IsElevation reports whether the panel is one of the four facade views.
func (p PanelType) IsElevation() bool {
	return strings.HasPrefix(string(p), "elevation_")
}

// ElevationDirection returns the compass direction of an elevation panel,
// or "" for non-elevation panels.
func (p PanelType) ElevationDirection() Direction {
	if !p.IsElevation() {
		return ""
	}
	return Direction(strings.TrimPrefix(string(p), "elevation_"))
}

// RequiredPanels is the fixed set whose failures block composition.
func RequiredPanels() []PanelType {
	return []PanelType{
		PanelHero3D,
		PanelFloorPlanGround,
		PanelElevationNorth,
		PanelElevationSouth,
		PanelElevationEast,
		PanelElevationWest,
	}
}

// IsRequiredPanel reports membership in the required set.
func IsRequiredPanel(p PanelType) bool {
	for _, r := range RequiredPanels() {
		if r == p {
			return true
		}
	}
	return false
}

// Panel is one generated image artifact. Panels are never mutated on
// retry; each repair attempt produces a new Panel value with
// GenerationAttempt incremented and the same seed.
type Panel struct {
	Type              PanelType
	Seed              int
	ImageRef          string
	ImageBytes        []byte
	PromptText        string
	NegativePrompt    string
	ControlImageRef   string
	ControlImageBytes []byte
	ControlStrength   float64
	GenerationAttempt int
	CreatedAt         time.Time
}

// HasImage reports whether the panel carries a retrievable image. Panels
// without one are skipped by validation; their failure is a generation
// failure, not a consistency failure.
func (p Panel) HasImage() bool {
	return len(p.ImageBytes) > 0 || strings.TrimSpace(p.ImageRef) != ""
}

// WithAttempt returns a copy of the panel stamped as the given retry
// attempt. The seed is deliberately carried over: repairing a panel means
// regenerating the same building, not a different one.
func (p Panel) WithAttempt(attempt int) Panel {
	next := p
	next.GenerationAttempt = attempt
	next.ImageRef = ""
	next.ImageBytes = nil
	next.CreatedAt = time.Now().UTC()
	return next
}

// RuleIssue is one rule failure inside a ValidationResult.
type RuleIssue struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
}

// ValidationResult is the outcome of validating one panel.
type ValidationResult struct {
	PanelType PanelType   `json:"panel_type"`
	Pass      bool        `json:"pass"`
	Skipped   bool        `json:"skipped"`
	Errors    []RuleIssue `json:"errors,omitempty"`
	Warnings  []RuleIssue `json:"warnings,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RetryRecord is one auto-repair attempt for one panel, kept for audit.
type RetryRecord struct {
	Attempt                   int       `json:"attempt"`
	ControlStrengthMultiplier float64   `json:"control_strength_multiplier"`
	PromptModifications       []string  `json:"prompt_modifications"`
	Timestamp                 time.Time `json:"timestamp"`
}

// Rect locates a panel on the composed sheet, in sheet pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
