package contract

import (
	"testing"

	"github.com/yungbote/archsheet-backend/internal/domain"
)

func terraceSpec() domain.BuildingSpec {
	return domain.BuildingSpec{
		DesignID:     "D-200",
		BuildingType: "terraced house",
		Floors:       2,
		FacadeWidth:  5.4,
		FacadeDepth:  9.0,
		RoofType:     "Gable",
		RoofPitch:    40,
		PartyWalls:   []string{"east", "west"},
	}
}

func TestDetectBuildingType(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.BuildingType
	}{
		{"terrace", domain.BuildingTypeTerrace},
		{"Victorian terraced house", domain.BuildingTypeTerrace},
		{"townhouse", domain.BuildingTypeTerrace},
		{"semi-detached", domain.BuildingTypeSemiDetached},
		{"duplex", domain.BuildingTypeSemiDetached},
		{"detached villa", domain.BuildingTypeDetached},
		{"bungalow", domain.BuildingTypeDetached},
		{"apartment", domain.BuildingTypeApartment},
		{"condo", domain.BuildingTypeApartment},
		{"pagoda", domain.BuildingType("pagoda")},
	}
	for _, tc := range cases {
		got, _ := DetectBuildingType(tc.raw)
		if got != tc.want {
			t.Fatalf("%q: expected %s got %s", tc.raw, tc.want, got)
		}
	}
}

func TestNewTerraceDefaultsPartyWalls(t *testing.T) {
	spec := terraceSpec()
	spec.PartyWalls = nil
	c, err := New(spec)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !c.PartyWalls() {
		t.Fatalf("terrace contract must carry party walls")
	}
	if len(c.PartyWallSides()) == 0 {
		t.Fatalf("terrace contract must default party wall sides")
	}
}

func TestNewDetachedRejectsPartyWalls(t *testing.T) {
	spec := terraceSpec()
	spec.BuildingType = "detached"
	if _, err := New(spec); err == nil {
		t.Fatalf("expected error for detached spec declaring party walls")
	}
}

func TestContractImmuneToSpecMutation(t *testing.T) {
	spec := terraceSpec()
	c, err := New(spec)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	spec.BuildingType = "detached villa"
	spec.PartyWalls = nil
	spec.FacadeWidth = 99

	if c.BuildingType() != domain.BuildingTypeTerrace {
		t.Fatalf("contract building type changed after spec mutation: %s", c.BuildingType())
	}
	if c.FacadeWidth() != 5.4 {
		t.Fatalf("contract facade width changed after spec mutation: %f", c.FacadeWidth())
	}
	if !c.PartyWalls() {
		t.Fatalf("contract party walls changed after spec mutation")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	c, err := New(terraceSpec())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sides := c.PartyWallSides()
	if len(sides) == 0 {
		t.Fatalf("expected party wall sides")
	}
	sides[0] = domain.DirectionNorth
	if c.PartyWallSides()[0] == domain.DirectionNorth {
		t.Fatalf("mutating returned slice leaked into the contract")
	}

	patterns := c.ForbiddenPatterns()
	patterns[0] = "mutated"
	if c.ForbiddenPatterns()[0] == "mutated" {
		t.Fatalf("mutating returned patterns leaked into the contract")
	}
}

func TestPromptInjectionMentionsIdentity(t *testing.T) {
	c, err := New(terraceSpec())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	inj := c.PromptInjection()
	if inj == "" {
		t.Fatalf("expected non-empty prompt injection")
	}
	for _, want := range []string{"terrace", "party wall"} {
		if !containsAny(inj, want) {
			t.Fatalf("prompt injection missing %q: %s", want, inj)
		}
	}
	neg := c.NegativePromptInjection()
	if neg == "" {
		t.Fatalf("expected non-empty negative prompt injection")
	}
	if !containsAny(neg, "detached") {
		t.Fatalf("terrace negative injection should exclude detached: %s", neg)
	}
}
