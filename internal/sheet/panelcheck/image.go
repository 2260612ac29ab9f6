// Package panelcheck scores generated panels: blank detection, control
// image similarity, and facade cross-consistency. All checks work on
// small grayscale downsamples so a batch of panels validates in
// milliseconds regardless of render resolution.
package panelcheck

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const sampleSize = 64

// gray is a square grayscale downsample, values 0..255 row-major.
type gray struct {
	pix  []uint8
	side int
}

func decodeGray(raw []byte) (gray, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return gray{}, fmt.Errorf("decode panel image: %w", err)
	}
	return downsample(img, sampleSize), nil
}

func downsample(img image.Image, side int) gray {
	dst := image.NewGray(image.Rect(0, 0, side, side))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	out := gray{pix: make([]uint8, side*side), side: side}
	copy(out.pix, dst.Pix)
	return out
}

func (g gray) at(x, y int) uint8 {
	return g.pix[y*g.side+x]
}

// mean returns the average pixel value.
func (g gray) mean() float64 {
	if len(g.pix) == 0 {
		return 0
	}
	var sum int
	for _, v := range g.pix {
		sum += int(v)
	}
	return float64(sum) / float64(len(g.pix))
}
