package panelcheck

import "math"

// NonEmptyResult reports the blank-panel check for one image.
type NonEmptyResult struct {
	Pass            bool    `json:"pass"`
	NonWhitePercent float64 `json:"non_white_percent"`
	EntropyBits     float64 `json:"entropy_bits"`
}

const (
	// Pixels at or above this value count as "white" background.
	whiteThreshold = 245
)

// CheckNonEmpty catches blank or near-blank generations without needing
// any reference image. An all-white render has ~0 non-white fraction and
// ~0 entropy; a real drawing has ink and a spread histogram.
func CheckNonEmpty(raw []byte, minNonWhite, minEntropy float64) (NonEmptyResult, error) {
	g, err := decodeGray(raw)
	if err != nil {
		return NonEmptyResult{}, err
	}
	res := NonEmptyResult{
		NonWhitePercent: nonWhiteFraction(g),
		EntropyBits:     histogramEntropy(g),
	}
	res.Pass = res.NonWhitePercent >= minNonWhite && res.EntropyBits >= minEntropy
	return res, nil
}

func nonWhiteFraction(g gray) float64 {
	if len(g.pix) == 0 {
		return 0
	}
	var ink int
	for _, v := range g.pix {
		if v < whiteThreshold {
			ink++
		}
	}
	return float64(ink) / float64(len(g.pix))
}

// histogramEntropy is the Shannon entropy of the pixel-value histogram in
// bits, bucketed to 32 levels so small renders still produce stable
// estimates.
func histogramEntropy(g gray) float64 {
	if len(g.pix) == 0 {
		return 0
	}
	const buckets = 32
	hist := make([]int, buckets)
	for _, v := range g.pix {
		hist[int(v)*buckets/256]++
	}
	total := float64(len(g.pix))
	var entropy float64
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
