// Package contract owns the design contract: the immutable record of a
// building's identity derived once per generation run, and the gate that
// rejects panels depicting a different building.
package contract

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/archsheet-backend/internal/domain"
)

// DesignContract captures the type-defining invariants of one design. All
// fields are unexported and value-copied out of the specification at
// construction, so later mutation of the source spec cannot leak in and no
// component can rewrite the building type mid-run.
type DesignContract struct {
	contractID     string
	buildingType   domain.BuildingType
	rawTypeToken   string
	partyWalls     bool
	partyWallSides []domain.Direction
	facadeWidth    float64
	facadeDepth    float64
	floors         int
	roofType       string
	roofPitch      float64

	requiredPhrases   []string
	forbiddenPatterns []string
}

// New builds the contract for a generation run from a specification
// snapshot.
func New(spec domain.BuildingSpec) (*DesignContract, error) {
	bt, raw := DetectBuildingType(spec.BuildingType)
	sides := spec.PartyWallDirections()

	// Terrace and semi-detached buildings have party walls by definition,
	// even when the spec forgot to list the sides.
	party := len(sides) > 0
	switch bt {
	case domain.BuildingTypeTerrace:
		party = true
		if len(sides) == 0 {
			sides = []domain.Direction{domain.DirectionEast, domain.DirectionWest}
		}
	case domain.BuildingTypeSemiDetached:
		party = true
		if len(sides) == 0 {
			sides = []domain.Direction{domain.DirectionWest}
		}
	case domain.BuildingTypeDetached:
		if party {
			return nil, fmt.Errorf("detached building cannot declare party walls (sides=%v)", sides)
		}
	}

	tbl := ruleTableFor(bt)

	c := &DesignContract{
		contractID:        uuid.NewString(),
		buildingType:      bt,
		rawTypeToken:      raw,
		partyWalls:        party,
		partyWallSides:    append([]domain.Direction(nil), sides...),
		facadeWidth:       spec.FacadeWidth,
		facadeDepth:       spec.FacadeDepth,
		floors:            spec.Floors,
		roofType:          strings.ToLower(strings.TrimSpace(spec.RoofType)),
		roofPitch:         spec.RoofPitch,
		requiredPhrases:   append([]string(nil), tbl.RequiredPhrases...),
		forbiddenPatterns: append([]string(nil), tbl.ForbiddenPatterns...),
	}
	return c, nil
}

// DetectBuildingType maps the free-text building type field onto the
// enum. Unrecognized values pass the lowercase token through so the
// contract still has something to match prompts against.
func DetectBuildingType(raw string) (domain.BuildingType, string) {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case containsAny(token, "terrace", "terraced", "row house", "rowhouse", "townhouse", "town house"):
		return domain.BuildingTypeTerrace, token
	case containsAny(token, "semi-detached", "semi detached", "semidetached", "duplex"):
		return domain.BuildingTypeSemiDetached, token
	case containsAny(token, "detached", "standalone", "free-standing", "freestanding", "villa", "bungalow"):
		return domain.BuildingTypeDetached, token
	case containsAny(token, "apartment", "flat", "condo", "condominium"):
		return domain.BuildingTypeApartment, token
	}
	return domain.BuildingType(token), token
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (c *DesignContract) ContractID() string                  { return c.contractID }
func (c *DesignContract) BuildingType() domain.BuildingType   { return c.buildingType }
func (c *DesignContract) PartyWalls() bool                    { return c.partyWalls }
func (c *DesignContract) FacadeWidth() float64                { return c.facadeWidth }
func (c *DesignContract) FacadeDepth() float64                { return c.facadeDepth }
func (c *DesignContract) Floors() int                         { return c.floors }
func (c *DesignContract) RoofType() string                    { return c.roofType }
func (c *DesignContract) RoofPitch() float64                  { return c.roofPitch }

// PartyWallSides returns a copy of the party-wall sides.
func (c *DesignContract) PartyWallSides() []domain.Direction {
	return append([]domain.Direction(nil), c.partyWallSides...)
}

// RequiredPhrases returns a copy of the phrases every prompt must carry.
func (c *DesignContract) RequiredPhrases() []string {
	return append([]string(nil), c.requiredPhrases...)
}

// ForbiddenPatterns returns a copy of the patterns that must not appear
// affirmatively in any prompt.
func (c *DesignContract) ForbiddenPatterns() []string {
	return append([]string(nil), c.forbiddenPatterns...)
}

// PromptInjection is the positive identity clause downstream prompt
// assembly appends verbatim to every panel prompt.
func (c *DesignContract) PromptInjection() string {
	var b strings.Builder
	fmt.Fprintf(&b, "This building is a %s", readableType(c.buildingType))
	if c.partyWalls {
		fmt.Fprintf(&b, " with shared party walls on the %s side(s)", joinDirections(c.partyWallSides))
	}
	fmt.Fprintf(&b, ". Facade %.1fm wide by %.1fm deep, %d floor(s)", c.facadeWidth, c.facadeDepth, c.floors)
	if c.roofType != "" {
		fmt.Fprintf(&b, ", %s roof", c.roofType)
		if c.roofPitch > 0 {
			fmt.Fprintf(&b, " pitched at %.0f degrees", c.roofPitch)
		}
	}
	b.WriteString(". Every view must depict this same building.")
	return b.String()
}

// NegativePromptInjection is the prohibition clause for the generator's
// negative prompt.
func (c *DesignContract) NegativePromptInjection() string {
	if len(c.forbiddenPatterns) == 0 {
		return ""
	}
	return "must not show: " + strings.Join(c.forbiddenPatterns, ", ")
}

// Summary is the reduced form embedded in a published baseline bundle.
func (c *DesignContract) Summary() map[string]any {
	sides := make([]string, 0, len(c.partyWallSides))
	for _, d := range c.partyWallSides {
		sides = append(sides, string(d))
	}
	return map[string]any{
		"contract_id":      c.contractID,
		"building_type":    string(c.buildingType),
		"party_walls":      c.partyWalls,
		"party_wall_sides": sides,
		"facade_width_m":   c.facadeWidth,
		"facade_depth_m":   c.facadeDepth,
		"floors":           c.floors,
		"roof_type":        c.roofType,
		"roof_pitch_deg":   c.roofPitch,
	}
}

func readableType(bt domain.BuildingType) string {
	switch bt {
	case domain.BuildingTypeSemiDetached:
		return "semi-detached house"
	case domain.BuildingTypeTerrace:
		return "terrace house"
	case domain.BuildingTypeDetached:
		return "detached house"
	case domain.BuildingTypeApartment:
		return "apartment building"
	}
	return string(bt) + " building"
}

func joinDirections(dirs []domain.Direction) string {
	parts := make([]string, 0, len(dirs))
	for _, d := range dirs {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, " and ")
}
