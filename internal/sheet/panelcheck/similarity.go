package panelcheck

import "math/bits"

// SimilarityResult reports how far a generated panel drifted from a
// reference image.
type SimilarityResult struct {
	Pass            bool    `json:"pass"`
	PixelDiffRatio  float64 `json:"pixel_diff_ratio"`
	HashDistance    int     `json:"hash_distance"`
	MaxPixelDiff    float64 `json:"max_pixel_diff"`
	MaxHashDistance int     `json:"max_hash_distance"`
}

// Pixel values closer than this are considered equal; generated renders
// never reproduce a control pixel-exactly.
const pixelTolerance = 24

// CompareToControl measures generated vs reference using a pixel
// difference ratio and a 64-bit average-hash Hamming distance. Both must
// land under their maxima to pass.
func CompareToControl(generated, reference []byte, maxPixelDiff float64, maxHashDistance int) (SimilarityResult, error) {
	g, err := decodeGray(generated)
	if err != nil {
		return SimilarityResult{}, err
	}
	r, err := decodeGray(reference)
	if err != nil {
		return SimilarityResult{}, err
	}
	res := SimilarityResult{
		PixelDiffRatio:  pixelDiffRatio(g, r),
		HashDistance:    hammingDistance(averageHash(g), averageHash(r)),
		MaxPixelDiff:    maxPixelDiff,
		MaxHashDistance: maxHashDistance,
	}
	res.Pass = res.PixelDiffRatio <= maxPixelDiff && res.HashDistance <= maxHashDistance
	return res, nil
}

func pixelDiffRatio(a, b gray) float64 {
	if len(a.pix) == 0 || len(a.pix) != len(b.pix) {
		return 1
	}
	var differing int
	for i := range a.pix {
		d := int(a.pix[i]) - int(b.pix[i])
		if d < 0 {
			d = -d
		}
		if d > pixelTolerance {
			differing++
		}
	}
	return float64(differing) / float64(len(a.pix))
}

// averageHash reduces the image to an 8x8 grid and sets one bit per cell
// above the mean. Robust to small shifts and tone changes, sensitive to
// structural rearrangement.
func averageHash(g gray) uint64 {
	const side = 8
	cell := g.side / side
	if cell == 0 {
		return 0
	}
	var cells [side * side]float64
	for cy := 0; cy < side; cy++ {
		for cx := 0; cx < side; cx++ {
			var sum int
			for y := cy * cell; y < (cy+1)*cell; y++ {
				for x := cx * cell; x < (cx+1)*cell; x++ {
					sum += int(g.at(x, y))
				}
			}
			cells[cy*side+cx] = float64(sum) / float64(cell*cell)
		}
	}
	var mean float64
	for _, v := range cells {
		mean += v
	}
	mean /= float64(len(cells))

	var hash uint64
	for i, v := range cells {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
