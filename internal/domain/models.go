package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenerationRun is the persisted audit record of one sheet generation run.
type GenerationRun struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DesignID string    `gorm:"not null;index:idx_generation_run_design" json:"design_id"`
	SheetID  string    `gorm:"not null;index:idx_generation_run_design" json:"sheet_id"`

	BaseSeed     int    `gorm:"not null" json:"base_seed"`
	BuildingType string `gorm:"not null" json:"building_type"`
	ContractID   string `gorm:"not null" json:"contract_id"`

	Status     string         `gorm:"not null;default:'running';index" json:"status"` // running|passed|failed
	CanCompose bool           `gorm:"not null;default:false" json:"can_compose"`
	Report     datatypes.JSON `json:"report,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// PanelRecord is one generation attempt for one panel. Retries append new
// rows rather than rewriting old ones, preserving repair provenance.
type PanelRecord struct {
	ID    uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunID uuid.UUID `gorm:"type:uuid;not null;index:idx_panel_record_run" json:"run_id"`
	Run   *GenerationRun `gorm:"constraint:OnDelete:CASCADE;foreignKey:RunID;references:ID" json:"run,omitempty"`

	PanelType         string  `gorm:"not null;index" json:"panel_type"`
	Seed              int     `gorm:"not null" json:"seed"`
	GenerationAttempt int     `gorm:"not null;default:0" json:"generation_attempt"`
	ImageRef          string  `json:"image_ref,omitempty"`
	PromptText        string  `json:"prompt_text,omitempty"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	ControlImageRef   string  `json:"control_image_ref,omitempty"`
	ControlStrength   float64 `json:"control_strength,omitempty"`

	Pass    bool           `gorm:"not null;default:false" json:"pass"`
	Skipped bool           `gorm:"not null;default:false" json:"skipped"`
	Issues  datatypes.JSON `json:"issues,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

// BaselineRecord holds one published baseline bundle as a JSON document.
// Rows are written once and never updated; a new bundle for the same
// design+sheet supersedes by key replacement at the store layer.
type BaselineRecord struct {
	ID       uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Key      string         `gorm:"not null;uniqueIndex" json:"key"`
	DesignID string         `gorm:"not null;index" json:"design_id"`
	SheetID  string         `gorm:"not null" json:"sheet_id"`
	Bundle   datatypes.JSON `gorm:"not null" json:"bundle"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}
