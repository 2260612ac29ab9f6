package pipeline

import (
	"fmt"
	"strings"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/sheet/contract"
)

// buildPrompt assembles the generation prompt for one panel. The
// contract's identity clause is appended verbatim; panel wording stays
// simple on the first attempt and only the repair loop escalates it.
func buildPrompt(pt domain.PanelType, spec domain.BuildingSpec, c *contract.DesignContract) string {
	var b strings.Builder
	switch {
	case pt == domain.PanelHero3D:
		b.WriteString("Three-quarter aerial architectural visualization of the building exterior")
		if spec.Style != "" {
			fmt.Fprintf(&b, " in %s style", spec.Style)
		}
	case pt == domain.PanelFloorPlanGround:
		b.WriteString("Ground floor architectural plan drawing, furniture outlines, room labels, wall poche")
	case pt == domain.PanelFloorPlanFirst:
		b.WriteString("First floor architectural plan drawing, furniture outlines, room labels, wall poche")
	case pt.IsElevation():
		fmt.Fprintf(&b, "Orthographic %s elevation drawing, flat projection, material hatching", pt.ElevationDirection())
	case strings.HasPrefix(string(pt), "section_"):
		b.WriteString("Architectural cross-section drawing showing floor build-ups and roof structure")
	case pt == domain.PanelMaterialPalette:
		b.WriteString("Material palette board with labeled swatches")
		for k, v := range spec.Materials {
			fmt.Fprintf(&b, ", %s: %s", k, v)
		}
	default:
		fmt.Fprintf(&b, "Architectural drawing, view %s", pt)
	}
	b.WriteString(". ")
	b.WriteString(c.PromptInjection())
	return b.String()
}

func buildNegativePrompt(c *contract.DesignContract) string {
	base := "photo backdrop, people, vehicles, text watermarks"
	if neg := c.NegativePromptInjection(); neg != "" {
		return base + ", " + neg
	}
	return base
}
