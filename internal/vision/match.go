package vision

import (
	"image"
	"math"
	"sort"
)

// grayImage is a luminance plane in the 0..255 range.
type grayImage struct {
	w, h int
	pix  []float64
}

func toGray(img image.Image) *grayImage {
	b := img.Bounds()
	g := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R 601 luma on 16-bit channels.
			g.pix[y*g.w+x] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257
		}
	}
	return g
}

// downsample box-averages f×f blocks; trailing partial blocks are dropped.
func (g *grayImage) downsample(f int) *grayImage {
	if f <= 1 {
		return g
	}
	out := &grayImage{w: g.w / f, h: g.h / f}
	out.pix = make([]float64, out.w*out.h)
	area := float64(f * f)
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			var sum float64
			for dy := 0; dy < f; dy++ {
				row := (y*f + dy) * g.w
				for dx := 0; dx < f; dx++ {
					sum += g.pix[row+x*f+dx]
				}
			}
			out.pix[y*out.w+x] = sum / area
		}
	}
	return out
}

// integral holds summed-area tables of values and squared values.
type integral struct {
	w     int
	sum   []float64
	sumSq []float64
}

func newIntegral(g *grayImage) *integral {
	w := g.w + 1
	in := &integral{w: w, sum: make([]float64, w*(g.h+1)), sumSq: make([]float64, w*(g.h+1))}
	for y := 1; y <= g.h; y++ {
		var rowSum, rowSq float64
		for x := 1; x <= g.w; x++ {
			v := g.pix[(y-1)*g.w+x-1]
			rowSum += v
			rowSq += v * v
			in.sum[y*w+x] = in.sum[(y-1)*w+x] + rowSum
			in.sumSq[y*w+x] = in.sumSq[(y-1)*w+x] + rowSq
		}
	}
	return in
}

// window returns the sum and squared sum over the w×h rectangle at (x, y).
func (in *integral) window(x, y, w, h int) (float64, float64) {
	a, b := y*in.w+x, y*in.w+x+w
	c, d := (y+h)*in.w+x, (y+h)*in.w+x+w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sumSq[d] - in.sumSq[b] - in.sumSq[c] + in.sumSq[a]
}

// preparedTemplate is a template with its zero-mean values precomputed.
type preparedTemplate struct {
	g     *grayImage
	mean  float64
	zero  []float64
	norm2 float64
}

func prepare(g *grayImage) *preparedTemplate {
	n := float64(len(g.pix))
	var sum float64
	for _, v := range g.pix {
		sum += v
	}
	p := &preparedTemplate{g: g, mean: sum / n, zero: make([]float64, len(g.pix))}
	for i, v := range g.pix {
		p.zero[i] = v - p.mean
		p.norm2 += p.zero[i] * p.zero[i]
	}
	return p
}

const flatEpsilon = 1e-6

// score is the normalized cross-correlation of the template placed at (x, y).
// Uniform templates fall back to a brightness similarity, since correlation is
// undefined for them.
func (t *preparedTemplate) score(scene *grayImage, in *integral, x, y int) float64 {
	w, h := t.g.w, t.g.h
	n := float64(w * h)
	sum, sumSq := in.window(x, y, w, h)
	variance := sumSq - sum*sum/n

	if t.norm2 < flatEpsilon*n {
		meanI := sum / n
		std := math.Sqrt(math.Max(variance, 0) / n)
		return math.Max(0, 1-(math.Abs(meanI-t.mean)+std)/255)
	}
	if variance < flatEpsilon*n {
		return 0
	}

	var cross float64
	for j := 0; j < h; j++ {
		row := (y+j)*scene.w + x
		trow := j * w
		for i := 0; i < w; i++ {
			cross += t.zero[trow+i] * scene.pix[row+i]
		}
	}
	return cross / math.Sqrt(t.norm2*variance)
}

type candidate struct {
	x, y  int
	score float64
}

const (
	minCoarseSide = 8
	maxPyramid    = 8
	coarseKeep    = 5
)

// matchTemplate finds the best placement of tpl in scene. It scans a
// downsampled copy first and refines the best coarse candidates at full
// resolution. ok is false when the template does not fit in the scene.
func matchTemplate(scene, tpl *grayImage) (best candidate, ok bool) {
	if tpl.w == 0 || tpl.h == 0 || tpl.w > scene.w || tpl.h > scene.h {
		return candidate{}, false
	}

	f := 1
	for f < maxPyramid && tpl.w/(f*2) >= minCoarseSide && tpl.h/(f*2) >= minCoarseSide {
		f *= 2
	}

	full := prepare(tpl)
	fullIn := newIntegral(scene)
	if f == 1 {
		return scan(scene, fullIn, full, 0, 0, scene.w-tpl.w, scene.h-tpl.h, 1)[0], true
	}

	coarseScene := scene.downsample(f)
	coarseTpl := prepare(tpl.downsample(f))
	coarse := scan(coarseScene, newIntegral(coarseScene), coarseTpl,
		0, 0, coarseScene.w-coarseTpl.g.w, coarseScene.h-coarseTpl.g.h, coarseKeep)

	best = candidate{score: math.Inf(-1)}
	for _, c := range coarse {
		x0, y0 := clamp(c.x*f-f, 0, scene.w-tpl.w), clamp(c.y*f-f, 0, scene.h-tpl.h)
		x1, y1 := clamp(c.x*f+f, 0, scene.w-tpl.w), clamp(c.y*f+f, 0, scene.h-tpl.h)
		if r := scan(scene, fullIn, full, x0, y0, x1, y1, 1)[0]; r.score > best.score {
			best = r
		}
	}
	return best, true
}

// scan scores every placement in [x0,x1]×[y0,y1] and returns up to keep of
// the best, skipping candidates adjacent to a better one.
func scan(scene *grayImage, in *integral, tpl *preparedTemplate, x0, y0, x1, y1, keep int) []candidate {
	if keep == 1 {
		best := candidate{x: x0, y: y0, score: math.Inf(-1)}
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				if s := tpl.score(scene, in, x, y); s > best.score {
					best = candidate{x: x, y: y, score: s}
				}
			}
		}
		return []candidate{best}
	}

	var all []candidate
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			all = append(all, candidate{x: x, y: y, score: tpl.score(scene, in, x, y)})
		}
	}
	if len(all) == 0 {
		return []candidate{{x: x0, y: y0, score: 0}}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	out := make([]candidate, 0, keep)
	for _, c := range all {
		near := false
		for _, o := range out {
			if abs(o.x-c.x) <= 2 && abs(o.y-c.y) <= 2 {
				near = true
				break
			}
		}
		if near {
			continue
		}
		out = append(out, c)
		if len(out) == keep {
			break
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
