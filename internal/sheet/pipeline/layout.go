package pipeline

import "github.com/yungbote/archsheet-backend/internal/domain"

// Sheet layout, in pixels at 150dpi on an A1 landscape page. The hero
// view takes the left half; plans, elevations and sections grid the
// right half. Coordinates go into the baseline bundle so composition and
// later modification runs agree on placement.
const (
	sheetWidth  = 4967 // 841mm
	sheetHeight = 3508 // 594mm
	sheetMargin = 120
	panelGutter = 40
)

// SheetLayout assigns every panel its placement rectangle on the sheet.
func SheetLayout(panels []domain.PanelType) map[domain.PanelType]domain.Rect {
	coords := make(map[domain.PanelType]domain.Rect, len(panels))

	heroW := (sheetWidth - 2*sheetMargin) / 2
	heroH := sheetHeight - 2*sheetMargin
	coords[domain.PanelHero3D] = domain.Rect{X: sheetMargin, Y: sheetMargin, Width: heroW, Height: heroH}

	gridX := sheetMargin + heroW + panelGutter
	gridW := sheetWidth - sheetMargin - gridX
	cellW := (gridW - 2*panelGutter) / 3
	cellH := (heroH - 2*panelGutter) / 3

	cell := 0
	for _, pt := range panels {
		if pt == domain.PanelHero3D {
			continue
		}
		col := cell % 3
		row := cell / 3
		if row > 2 {
			break
		}
		coords[pt] = domain.Rect{
			X:      gridX + col*(cellW+panelGutter),
			Y:      sheetMargin + row*(cellH+panelGutter),
			Width:  cellW,
			Height: cellH,
		}
		cell++
	}
	return coords
}
