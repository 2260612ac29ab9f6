// Package baseline persists the accepted artifact set for a design+sheet
// pair. Bundles are constructed immutable: the builder deep-copies on
// Build and every accessor returns copies, so there is no window where a
// published baseline can be patched in place.
package baseline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/archsheet-backend/internal/domain"
)

// Bundle is the frozen artifact set for one (designID, sheetID).
type Bundle struct {
	canonicalImageRef string
	contractSummary   map[string]any
	panelCoords       map[domain.PanelType]domain.Rect
	panelSeeds        map[domain.PanelType]int
	baseSeed          int
	metadata          map[string]any
	createdAt         time.Time
}

// Builder accumulates bundle fields; Build deep-copies them into a
// read-only Bundle.
type Builder struct {
	CanonicalImageRef string
	ContractSummary   map[string]any
	PanelCoords       map[domain.PanelType]domain.Rect
	PanelSeeds        map[domain.PanelType]int
	BaseSeed          int
	Metadata          map[string]any
}

// Build validates required fields and freezes the bundle.
func (b Builder) Build() (*Bundle, error) {
	if strings.TrimSpace(b.CanonicalImageRef) == "" {
		return nil, fmt.Errorf("baseline bundle missing canonical image reference")
	}
	if len(b.ContractSummary) == 0 {
		return nil, fmt.Errorf("baseline bundle missing contract summary")
	}
	if b.BaseSeed <= 0 {
		return nil, fmt.Errorf("baseline bundle missing base seed")
	}
	return &Bundle{
		canonicalImageRef: b.CanonicalImageRef,
		contractSummary:   copyAnyMap(b.ContractSummary),
		panelCoords:       copyRectMap(b.PanelCoords),
		panelSeeds:        copySeedMap(b.PanelSeeds),
		baseSeed:          b.BaseSeed,
		metadata:          copyAnyMap(b.Metadata),
		createdAt:         time.Now().UTC(),
	}, nil
}

func (b *Bundle) CanonicalImageRef() string { return b.canonicalImageRef }
func (b *Bundle) BaseSeed() int             { return b.baseSeed }
func (b *Bundle) CreatedAt() time.Time      { return b.createdAt }

// ContractSummary returns a copy of the embedded contract summary.
func (b *Bundle) ContractSummary() map[string]any { return copyAnyMap(b.contractSummary) }

// PanelCoords returns a copy of the panel coordinate map.
func (b *Bundle) PanelCoords() map[domain.PanelType]domain.Rect { return copyRectMap(b.panelCoords) }

// PanelSeeds returns a copy of the per-panel seed map.
func (b *Bundle) PanelSeeds() map[domain.PanelType]int { return copySeedMap(b.panelSeeds) }

// Metadata returns a copy of the generation metadata.
func (b *Bundle) Metadata() map[string]any { return copyAnyMap(b.metadata) }

// EnsureImmutable reports the bundle's frozen state. Bundles are frozen
// from construction, so this always returns true and never has side
// effects; it exists so callers can assert the invariant.
func (b *Bundle) EnsureImmutable() bool { return b != nil }

type bundleJSON struct {
	CanonicalImageRef string                           `json:"canonical_image_ref"`
	ContractSummary   map[string]any                   `json:"contract_summary"`
	PanelCoords       map[domain.PanelType]domain.Rect `json:"panel_coords,omitempty"`
	PanelSeeds        map[domain.PanelType]int         `json:"panel_seeds,omitempty"`
	BaseSeed          int                              `json:"base_seed"`
	Metadata          map[string]any                   `json:"metadata,omitempty"`
	CreatedAt         time.Time                        `json:"created_at"`
}

func (b *Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(bundleJSON{
		CanonicalImageRef: b.canonicalImageRef,
		ContractSummary:   b.contractSummary,
		PanelCoords:       b.panelCoords,
		PanelSeeds:        b.panelSeeds,
		BaseSeed:          b.baseSeed,
		Metadata:          b.metadata,
		CreatedAt:         b.createdAt,
	})
}

func (b *Bundle) UnmarshalJSON(raw []byte) error {
	var out bundleJSON
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	b.canonicalImageRef = out.CanonicalImageRef
	b.contractSummary = out.ContractSummary
	b.panelCoords = out.PanelCoords
	b.panelSeeds = out.PanelSeeds
	b.baseSeed = out.BaseSeed
	b.metadata = out.Metadata
	b.createdAt = out.CreatedAt
	return nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			out[k] = copyAnyMap(t)
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		case []string:
			cp := make([]string, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

func copyRectMap(in map[domain.PanelType]domain.Rect) map[domain.PanelType]domain.Rect {
	if in == nil {
		return nil
	}
	out := make(map[domain.PanelType]domain.Rect, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySeedMap(in map[domain.PanelType]int) map[domain.PanelType]int {
	if in == nil {
		return nil
	}
	out := make(map[domain.PanelType]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
