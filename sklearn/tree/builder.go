package tree

import (
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/newsclf/core/tensor"
)

// Node is one node of a fitted tree. Leaves have Feature == -1.
// Samples with X[Feature] <= Threshold go to Left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // class proportions, or [mean] for regression
	Impurity  float64
	NSamples  int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

const impurityEps = 1e-12

type entry struct {
	v float64
	s int
}

type split struct {
	feature   int
	threshold float64
	score     float64 // nLeft*impLeft + nRight*impRight
	impLeft   float64
	impRight  float64
	nLeft     int
}

// builder grows a tree depth first over the rows of a CSR matrix.
//
// Split search works on the non-zeros of the node's rows only: each
// candidate feature's non-zero values are gathered and sorted, and the
// implicit zeros are treated as one block whose statistics are the node
// total minus the non-zero statistics.
type builder struct {
	X           *tensor.CSR
	crit        criterion
	statDim     int
	addStats    func(dst []float64, s int)
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand

	nodes       []Node
	importances []float64
	depth       int

	stamp   int
	seen    []int
	chosen  []int
	counts  []int
	offsets []int
	pos     []int
	tmp     []float64
	present []int
	entries []entry
}

func newBuilder(X *tensor.CSR, crit criterion, statDim int, addStats func([]float64, int), p *params, maxFeatures int) *builder {
	_, nFeatures := X.Dims()
	return &builder{
		X:           X,
		crit:        crit,
		statDim:     statDim,
		addStats:    addStats,
		maxDepth:    p.maxDepth,
		minSplit:    p.minSamplesSplit,
		minLeaf:     p.minSamplesLeaf,
		maxFeatures: maxFeatures,
		rng:         p.newRand(),
		importances: make([]float64, nFeatures),
		seen:        make([]int, nFeatures),
		chosen:      make([]int, nFeatures),
		counts:      make([]int, nFeatures),
		offsets:     make([]int, nFeatures),
		pos:         make([]int, nFeatures),
		tmp:         make([]float64, statDim),
	}
}

// build grows the tree from samples (row indices, duplicates allowed) and
// returns the nodes and normalized feature importances.
func (b *builder) build(samples []int) ([]Node, []float64, int) {
	b.grow(samples, 0)

	var total float64
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	return b.nodes, b.importances, b.depth
}

func (b *builder) grow(samples []int, depth int) int {
	if depth > b.depth {
		b.depth = depth
	}
	n := len(samples)
	stats := make([]float64, b.statDim)
	for _, s := range samples {
		b.addStats(stats, s)
	}
	imp := b.crit.impurity(stats, float64(n))

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Value:    b.crit.leafValue(stats, float64(n)),
		Impurity: imp,
		NSamples: n,
	})

	if (b.maxDepth > 0 && depth >= b.maxDepth) ||
		n < b.minSplit || n < 2*b.minLeaf || imp <= impurityEps {
		return id
	}

	best, ok := b.findSplit(samples, stats)
	if !ok {
		return id
	}

	left := make([]int, 0, best.nLeft)
	right := make([]int, 0, n-best.nLeft)
	for _, s := range samples {
		if b.X.At(s, best.feature) <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	b.importances[best.feature] += float64(n)*imp - best.score

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	nd := &b.nodes[id]
	nd.Feature = best.feature
	nd.Threshold = best.threshold
	nd.Left = l
	nd.Right = r
	return id
}

// candidates returns the features to evaluate at this node, ascending.
// Features with no non-zero value in the node are constant and skipped.
func (b *builder) candidates(samples []int) []int {
	b.stamp++
	b.present = b.present[:0]
	for _, s := range samples {
		idx, _ := b.X.Row(s)
		for _, j := range idx {
			if b.seen[j] != b.stamp {
				b.seen[j] = b.stamp
				b.counts[j] = 0
				b.present = append(b.present, j)
			}
			b.counts[j]++
		}
	}

	cand := b.present
	if b.maxFeatures < len(cand) {
		for i := 0; i < b.maxFeatures; i++ {
			k := i + b.rng.Intn(len(cand)-i)
			cand[i], cand[k] = cand[k], cand[i]
		}
		cand = cand[:b.maxFeatures]
	}
	sort.Ints(cand)
	for _, j := range cand {
		b.chosen[j] = b.stamp
	}
	return cand
}

func (b *builder) findSplit(samples []int, total []float64) (split, bool) {
	cand := b.candidates(samples)
	if len(cand) == 0 {
		return split{}, false
	}

	size := 0
	for _, j := range cand {
		b.offsets[j] = size
		b.pos[j] = size
		size += b.counts[j]
	}
	if cap(b.entries) < size {
		b.entries = make([]entry, size)
	}
	entries := b.entries[:size]
	for _, s := range samples {
		idx, val := b.X.Row(s)
		for k, j := range idx {
			if b.chosen[j] != b.stamp {
				continue
			}
			entries[b.pos[j]] = entry{v: val[k], s: s}
			b.pos[j]++
		}
	}

	n := len(samples)
	best := split{feature: -1}
	left := make([]float64, b.statDim)
	right := make([]float64, b.statDim)
	zero := make([]float64, b.statDim)

	for _, j := range cand {
		seg := entries[b.offsets[j] : b.offsets[j]+b.counts[j]]
		sort.Slice(seg, func(a, c int) bool { return seg[a].v < seg[c].v })

		nZero := n - len(seg)
		if nZero == 0 && seg[0].v == seg[len(seg)-1].v {
			continue
		}
		copy(zero, total)
		for _, e := range seg {
			b.subStats(zero, e.s)
		}
		for k := range left {
			left[k] = 0
		}

		nLeft, k := 0, 0
		zeroDone := nZero == 0
		// zeroNext reports whether the implicit zero block comes before seg[k].
		zeroNext := func() bool { return !zeroDone && (k == len(seg) || seg[k].v >= 0) }
		for {
			var cur float64
			switch {
			case zeroNext():
				for d := range left {
					left[d] += zero[d]
				}
				nLeft += nZero
				zeroDone = true
			case k < len(seg):
				b.addStats(left, seg[k].s)
				nLeft++
				cur = seg[k].v
				k++
			default:
				cur = 0
			}
			if zeroDone && k == len(seg) {
				break
			}

			var next float64
			if zeroNext() {
				next = 0
			} else {
				next = seg[k].v
			}
			if next <= cur || nLeft < b.minLeaf || n-nLeft < b.minLeaf {
				continue
			}

			for d := range right {
				right[d] = total[d] - left[d]
			}
			impL := b.crit.impurity(left, float64(nLeft))
			impR := b.crit.impurity(right, float64(n-nLeft))
			score := float64(nLeft)*impL + float64(n-nLeft)*impR
			if best.feature < 0 || score < best.score-impurityEps {
				thr := cur + (next-cur)/2
				if thr >= next {
					thr = cur
				}
				best = split{feature: j, threshold: thr, score: score, impLeft: impL, impRight: impR, nLeft: nLeft}
			}
		}
	}
	return best, best.feature >= 0
}

// subStats removes sample s from dst.
func (b *builder) subStats(dst []float64, s int) {
	for d := range b.tmp {
		b.tmp[d] = 0
	}
	b.addStats(b.tmp, s)
	for d := range dst {
		dst[d] -= b.tmp[d]
	}
}

// apply returns the leaf reached by row i of X.
func apply(nodes []Node, X *tensor.CSR, i int) int {
	id := 0
	for !nodes[id].IsLeaf() {
		nd := &nodes[id]
		if X.At(i, nd.Feature) <= nd.Threshold {
			id = nd.Left
		} else {
			id = nd.Right
		}
	}
	return id
}
