package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildingSpec is the externally supplied building specification. It is
// produced by an LLM-backed reasoning step upstream and treated as an
// already-validated document here; the pipeline reads it and never writes
// it back.
type BuildingSpec struct {
	DesignID     string            `json:"design_id"`
	BuildingType string            `json:"building_type"`
	Style        string            `json:"style,omitempty"`
	Floors       int               `json:"floors"`
	FacadeWidth  float64           `json:"facade_width_m"`
	FacadeDepth  float64           `json:"facade_depth_m"`
	FacadeHeight float64           `json:"facade_height_m,omitempty"`
	RoofType     string            `json:"roof_type"`
	RoofPitch    float64           `json:"roof_pitch_deg"`
	PartyWalls   []string          `json:"party_walls,omitempty"`
	Materials    map[string]string `json:"materials,omitempty"`
	RoomProgram  []RoomSpec        `json:"room_program,omitempty"`
	Units        string            `json:"units,omitempty"`
}

// RoomSpec is one entry of the room program.
type RoomSpec struct {
	Name  string  `json:"name"`
	Level int     `json:"level"`
	AreaM float64 `json:"area_m2,omitempty"`
}

// ParseBuildingSpec decodes and minimally validates a specification
// document.
func ParseBuildingSpec(raw []byte) (BuildingSpec, error) {
	var spec BuildingSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return BuildingSpec{}, fmt.Errorf("parse building spec: %w", err)
	}
	if strings.TrimSpace(spec.DesignID) == "" {
		return BuildingSpec{}, fmt.Errorf("building spec missing design_id")
	}
	if spec.FacadeWidth <= 0 || spec.FacadeDepth <= 0 {
		return BuildingSpec{}, fmt.Errorf("building spec has non-positive facade dimensions")
	}
	if spec.Floors <= 0 {
		spec.Floors = 1
	}
	if strings.TrimSpace(spec.Units) == "" {
		spec.Units = "meters"
	}
	return spec, nil
}

// CanonicalJSON renders the spec with sorted keys so the same logical
// document always hashes to the same seed. encoding/json already sorts
// map keys; the struct field order is fixed by marshalling through a map.
func (s BuildingSpec) CanonicalJSON() ([]byte, error) {
	direct, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(direct, &m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// PartyWallDirections converts the raw party-wall side strings into
// Directions, dropping anything unrecognized.
func (s BuildingSpec) PartyWallDirections() []Direction {
	out := make([]Direction, 0, len(s.PartyWalls))
	for _, side := range s.PartyWalls {
		switch Direction(strings.ToLower(strings.TrimSpace(side))) {
		case DirectionNorth:
			out = append(out, DirectionNorth)
		case DirectionSouth:
			out = append(out, DirectionSouth)
		case DirectionEast:
			out = append(out, DirectionEast)
		case DirectionWest:
			out = append(out, DirectionWest)
		}
	}
	return out
}
