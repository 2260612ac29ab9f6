// Package seed derives deterministic generation seeds from a building
// specification. Same spec, same panel ordering, same seeds — this is what
// makes "regenerate this exact panel" possible against a stochastic
// renderer.
package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/yungbote/archsheet-backend/internal/domain"
)

const (
	// panelStride is an odd prime so per-panel seeds stay distinct under
	// the modulus.
	panelStride = 137
	seedModulus = 1_000_000
	maxBaseSeed = 1 << 31
)

// DeriveBaseSeed hashes the canonical JSON form of the specification into
// a positive 32-bit-safe integer. Pure and deterministic; no process
// state, no randomness.
func DeriveBaseSeed(spec domain.BuildingSpec) (int, error) {
	canonical, err := spec.CanonicalJSON()
	if err != nil {
		return 0, fmt.Errorf("derive base seed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	v := binary.BigEndian.Uint64(sum[:8])
	base := int(v % (maxBaseSeed - 1))
	return base + 1, nil
}

// DerivePanelSeed applies the fixed odd-prime stride to the base seed for
// the panel at the given index.
func DerivePanelSeed(baseSeed, index int) int {
	if index < 0 {
		index = 0
	}
	return (baseSeed + index*panelStride) % seedModulus
}

// PanelOrder is the canonical panel ordering. Seeds are only reproducible
// if callers derive them against this ordering, so the pipeline and any
// single-panel regeneration path share it.
func PanelOrder() []domain.PanelType {
	return []domain.PanelType{
		domain.PanelHero3D,
		domain.PanelFloorPlanGround,
		domain.PanelFloorPlanFirst,
		domain.PanelElevationNorth,
		domain.PanelElevationSouth,
		domain.PanelElevationEast,
		domain.PanelElevationWest,
		domain.PanelSectionAA,
		domain.PanelSectionBB,
		domain.PanelMaterialPalette,
	}
}

// SeedFor returns the panel seed for a panel type under the canonical
// ordering. Unknown panel types fall back to index 0.
func SeedFor(baseSeed int, panel domain.PanelType) int {
	for i, p := range PanelOrder() {
		if p == panel {
			return DerivePanelSeed(baseSeed, i)
		}
	}
	return DerivePanelSeed(baseSeed, 0)
}

// SeedMap derives seeds for every panel in the canonical order.
func SeedMap(baseSeed int) map[domain.PanelType]int {
	out := make(map[domain.PanelType]int, len(PanelOrder()))
	for i, p := range PanelOrder() {
		out[p] = DerivePanelSeed(baseSeed, i)
	}
	return out
}
