// Package preview composes generated panels onto a single contact sheet
// for eyeballing a run before the real composition step downstream.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/yungbote/archsheet-backend/internal/domain"
	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

var (
	sheetBG     = color.NRGBA{R: 248, G: 247, B: 244, A: 255}
	panelBorder = color.NRGBA{R: 60, G: 60, B: 60, A: 255}
	missingFill = color.NRGBA{R: 228, G: 226, B: 222, A: 255}
	failTint    = color.NRGBA{R: 196, G: 64, B: 52, A: 255}
	labelColor  = color.NRGBA{R: 40, G: 40, B: 40, A: 255}
)

type Renderer struct {
	log      *logger.Logger
	fontFace font.Face
	scale    float64
}

// NewRenderer loads the optional label font from SHEET_LABEL_FONT. Without
// it labels fall back to the gg default face, which is fine for previews.
func NewRenderer(log *logger.Logger) *Renderer {
	r := &Renderer{
		log:   log.With("service", "PreviewRenderer"),
		scale: envutil.Float("SHEET_PREVIEW_SCALE", 0.25),
	}
	fontPath := strings.TrimSpace(os.Getenv("SHEET_LABEL_FONT"))
	if fontPath == "" {
		return r
	}
	face, err := loadFontFace(fontPath, 14)
	if err != nil {
		r.log.Warn("could not load label font, using default", "font", fontPath, "error", err)
		return r
	}
	r.fontFace = face
	return r
}

// Render draws every panel at its layout rectangle, scaled down to a
// preview size, with a type label and a red border on failing panels.
func (r *Renderer) Render(panels []domain.Panel, coords map[domain.PanelType]domain.Rect, failing map[domain.PanelType]bool) (bytes.Buffer, error) {
	var buf bytes.Buffer
	if len(panels) == 0 {
		return buf, fmt.Errorf("no panels to render")
	}

	w, h := previewDims(coords, r.scale)
	dc := gg.NewContext(w, h)
	dc.SetColor(sheetBG)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()
	if r.fontFace != nil {
		dc.SetFontFace(r.fontFace)
	}

	for _, p := range panels {
		rect, ok := coords[p.Type]
		if !ok {
			continue
		}
		x := float64(rect.X) * r.scale
		y := float64(rect.Y) * r.scale
		pw := float64(rect.Width) * r.scale
		ph := float64(rect.Height) * r.scale

		if p.HasImage() {
			img, _, err := image.Decode(bytes.NewReader(p.ImageBytes))
			if err != nil {
				r.log.Warn("could not decode panel image", "panel", p.Type, "error", err)
				drawMissing(dc, x, y, pw, ph)
			} else {
				dc.DrawImage(scaleTo(img, int(pw), int(ph)), int(x), int(y))
			}
		} else {
			drawMissing(dc, x, y, pw, ph)
		}

		border := panelBorder
		lineW := 1.0
		if failing[p.Type] {
			border = failTint
			lineW = 3.0
		}
		dc.SetColor(border)
		dc.SetLineWidth(lineW)
		dc.DrawRectangle(x, y, pw, ph)
		dc.Stroke()

		label := string(p.Type)
		if p.GenerationAttempt > 0 {
			label = fmt.Sprintf("%s (attempt %d)", p.Type, p.GenerationAttempt)
		}
		dc.SetColor(labelColor)
		dc.DrawString(label, x+6, y+ph-8)
	}

	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("failed to encode preview PNG: %w", err)
	}
	return buf, nil
}

func drawMissing(dc *gg.Context, x, y, w, h float64) {
	dc.SetColor(missingFill)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
	dc.SetColor(panelBorder)
	dc.SetLineWidth(1)
	dc.DrawLine(x, y, x+w, y+h)
	dc.DrawLine(x+w, y, x, y+h)
	dc.Stroke()
}

func previewDims(coords map[domain.PanelType]domain.Rect, scale float64) (int, int) {
	maxX, maxY := 0, 0
	for _, r := range coords {
		if r.X+r.Width > maxX {
			maxX = r.X + r.Width
		}
		if r.Y+r.Height > maxY {
			maxY = r.Y + r.Height
		}
	}
	// Re-add the sheet margin on the far edges.
	minX, minY := maxX, maxY
	for _, r := range coords {
		if r.X < minX {
			minX = r.X
		}
		if r.Y < minY {
			minY = r.Y
		}
	}
	return int(float64(maxX+minX) * scale), int(float64(maxY+minY) * scale)
}

func scaleTo(img image.Image, w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
