package panelcheck

// Edge-alignment metrics. Advisory only: pass/fail stays with the pixel
// diff and hash checks, but the F1 number localizes structural drift much
// better than either, so it rides along in the validation metadata.

// EdgeMetrics is a tolerant edge-alignment score between a reference and
// a generated image.
type EdgeMetrics struct {
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1              float64 `json:"f1"`
	RefEdgeCount    int     `json:"ref_edge_count"`
	RenderEdgeCount int     `json:"render_edge_count"`
}

const (
	edgeGradientThreshold = 32
	edgeToleranceRadius   = 1
)

// EdgeAlignment extracts edges from both images and computes precision /
// recall / F1 with a dilation tolerance, so sub-pixel misalignment does
// not read as drift.
func EdgeAlignment(generated, reference []byte) (EdgeMetrics, error) {
	g, err := decodeGray(generated)
	if err != nil {
		return EdgeMetrics{}, err
	}
	r, err := decodeGray(reference)
	if err != nil {
		return EdgeMetrics{}, err
	}

	renderEdges := extractEdges(g)
	refEdges := extractEdges(r)
	refDil := dilate(refEdges, g.side, edgeToleranceRadius)
	rendDil := dilate(renderEdges, g.side, edgeToleranceRadius)

	var refCount, rendCount, matchedRef, matchedRend int
	for i := range refEdges {
		if refEdges[i] {
			refCount++
			if rendDil[i] {
				matchedRef++
			}
		}
		if renderEdges[i] {
			rendCount++
			if refDil[i] {
				matchedRend++
			}
		}
	}

	m := EdgeMetrics{RefEdgeCount: refCount, RenderEdgeCount: rendCount}
	if rendCount > 0 {
		m.Precision = float64(matchedRend) / float64(rendCount)
	}
	if refCount > 0 {
		m.Recall = float64(matchedRef) / float64(refCount)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// extractEdges marks pixels whose horizontal or vertical gradient exceeds
// the threshold.
func extractEdges(g gray) []bool {
	out := make([]bool, len(g.pix))
	for y := 0; y < g.side; y++ {
		for x := 0; x < g.side; x++ {
			if x+1 < g.side {
				d := int(g.at(x+1, y)) - int(g.at(x, y))
				if d > edgeGradientThreshold || d < -edgeGradientThreshold {
					out[y*g.side+x] = true
					continue
				}
			}
			if y+1 < g.side {
				d := int(g.at(x, y+1)) - int(g.at(x, y))
				if d > edgeGradientThreshold || d < -edgeGradientThreshold {
					out[y*g.side+x] = true
				}
			}
		}
	}
	return out
}

func dilate(src []bool, side, radius int) []bool {
	out := make([]bool, len(src))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			if !src[y*side+x] {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && nx < side && ny >= 0 && ny < side {
						out[ny*side+nx] = true
					}
				}
			}
		}
	}
	return out
}
