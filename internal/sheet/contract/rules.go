package contract

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/archsheet-backend/internal/domain"
)

// RuleSeverity splits rules into blocking and advisory.
type RuleSeverity string

const (
	SeverityCritical RuleSeverity = "critical"
	SeverityWarning  RuleSeverity = "warning"
)

// Rule is a predicate over one panel and the contract. Check returns true
// when the panel satisfies the rule.
type Rule struct {
	ID          string
	Severity    RuleSeverity
	Description string
	Check       func(p domain.Panel, c *DesignContract) bool
}

// RuleTable is the static rule set for one building type.
type RuleTable struct {
	RequiredPhrases   []string
	ForbiddenPatterns []string
	Rules             []Rule
}

// phraseOverrides is the shape of the optional YAML override file pointed
// at by SHEET_RULES_YAML_PATH. Only phrase lists can be overridden; the
// structural rules stay in code.
type phraseOverrides map[string]struct {
	Required  []string `yaml:"required"`
	Forbidden []string `yaml:"forbidden"`
}

func ruleTableFor(bt domain.BuildingType) RuleTable {
	tbl := builtinRuleTable(bt)
	applyPhraseOverrides(bt, &tbl)
	return tbl
}

func builtinRuleTable(bt domain.BuildingType) RuleTable {
	switch bt {
	case domain.BuildingTypeTerrace:
		return RuleTable{
			RequiredPhrases: []string{"terrace", "party wall"},
			ForbiddenPatterns: []string{
				"detached", "freestanding", "free-standing", "standalone",
				"villa", "mansion", "bungalow",
			},
			Rules: []Rule{
				{
					ID:          "terrace_party_wall_mentioned",
					Severity:    SeverityCritical,
					Description: "terrace elevations and hero views must acknowledge the party-wall condition",
					Check: func(p domain.Panel, c *DesignContract) bool {
						if p.Type != domain.PanelHero3D && !p.Type.IsElevation() {
							return true
						}
						return containsAny(strings.ToLower(p.PromptText), "party wall", "shared wall", "terrace")
					},
				},
				{
					ID:          "terrace_side_elevation_blind",
					Severity:    SeverityWarning,
					Description: "elevations on a party-wall side should not describe windows",
					Check: func(p domain.Panel, c *DesignContract) bool {
						dir := p.Type.ElevationDirection()
						if dir == "" {
							return true
						}
						for _, side := range c.partyWallSides {
							if side == dir && strings.Contains(strings.ToLower(p.PromptText), "window") {
								return false
							}
						}
						return true
					},
				},
			},
		}
	case domain.BuildingTypeSemiDetached:
		return RuleTable{
			RequiredPhrases: []string{"semi-detached"},
			ForbiddenPatterns: []string{
				"detached house", "freestanding", "free-standing", "standalone",
				"terrace", "row house", "villa", "mansion",
			},
			Rules: []Rule{
				{
					ID:          "semi_party_wall_mentioned",
					Severity:    SeverityWarning,
					Description: "semi-detached hero views should acknowledge the shared wall",
					Check: func(p domain.Panel, c *DesignContract) bool {
						if p.Type != domain.PanelHero3D {
							return true
						}
						return containsAny(strings.ToLower(p.PromptText), "party wall", "shared wall", "semi-detached", "semi detached")
					},
				},
			},
		}
	case domain.BuildingTypeDetached:
		return RuleTable{
			RequiredPhrases: []string{"detached"},
			ForbiddenPatterns: []string{
				"terrace", "terraced", "row house", "rowhouse", "townhouse",
				"semi-detached", "semi detached", "party wall", "shared wall",
				"apartment block",
			},
			Rules: []Rule{
				{
					ID:          "detached_no_party_walls",
					Severity:    SeverityCritical,
					Description: "detached buildings have no party walls",
					Check: func(p domain.Panel, c *DesignContract) bool {
						return !affirms(p.PromptText, "party wall") && !affirms(p.PromptText, "shared wall")
					},
				},
			},
		}
	case domain.BuildingTypeApartment:
		return RuleTable{
			RequiredPhrases: []string{"apartment"},
			ForbiddenPatterns: []string{
				"detached house", "villa", "bungalow", "terrace house",
			},
			Rules: []Rule{
				{
					ID:          "apartment_floor_count",
					Severity:    SeverityWarning,
					Description: "apartment hero views should state the floor count",
					Check: func(p domain.Panel, c *DesignContract) bool {
						if p.Type != domain.PanelHero3D {
							return true
						}
						return strings.Contains(strings.ToLower(p.PromptText), "floor") ||
							strings.Contains(strings.ToLower(p.PromptText), "storey") ||
							strings.Contains(strings.ToLower(p.PromptText), "story")
					},
				},
			},
		}
	}
	// Pass-through types get no structural rules, only generic identity.
	return RuleTable{}
}

func applyPhraseOverrides(bt domain.BuildingType, tbl *RuleTable) {
	path := strings.TrimSpace(os.Getenv("SHEET_RULES_YAML_PATH"))
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var overrides phraseOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return
	}
	entry, ok := overrides[string(bt)]
	if !ok {
		return
	}
	if len(entry.Required) > 0 {
		tbl.RequiredPhrases = append([]string(nil), entry.Required...)
	}
	if len(entry.Forbidden) > 0 {
		tbl.ForbiddenPatterns = append([]string(nil), entry.Forbidden...)
	}
}

// retryPromptPrefix builds the escalated prompt prefix used by the gate's
// retry modifications. Wording gets more aggressive at higher attempts.
func retryPromptPrefix(bt domain.BuildingType, c *DesignContract, attempt int) []string {
	mods := []string{}
	base := fmt.Sprintf("STRICT: render the exact same %s as the approved views", readableType(bt))
	if attempt >= 2 {
		base = fmt.Sprintf("CRITICAL CONSTRAINT, DO NOT DEVIATE: identical %s, identical footprint, identical materials", readableType(bt))
	}
	mods = append(mods, base)
	if c.partyWalls {
		mods = append(mods, fmt.Sprintf("party walls on the %s side(s) stay blind and shared", joinDirections(c.partyWallSides)))
	}
	// The prohibition list rides only in NegativeAdditions; putting it in
	// the positive prompt would make the repaired panel fail its own
	// forbidden-pattern scan.
	return mods
}
