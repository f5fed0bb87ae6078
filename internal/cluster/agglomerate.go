package cluster

import (
	"slices"
	"strings"
)

// group is a working cluster during agglomeration. Members index into the
// keyword slice; rep is the lexicographically smallest member text.
type group struct {
	members []int
	rep     string
}

// agglomerate runs complete-linkage clustering over the given indexes and
// stops once no pair of groups has a linkage of at least threshold. The
// linkage of two groups is the minimum pairwise similarity between them.
//
// Merges are taken in a fixed order: highest linkage first, then smaller
// combined size, then the pair whose representative texts sort first.
// Complete linkage never increases across merges, so a lower threshold
// only continues the same merge sequence further.
func agglomerate(idx []int, texts []string, m *matrix, threshold float64) [][]int {
	groups := make([]*group, len(idx))
	for i, k := range idx {
		groups[i] = &group{members: []int{k}, rep: texts[k]}
	}

	// link[a][b] is the current linkage between groups a and b.
	n := len(groups)
	link := make([][]float64, n)
	for a := range link {
		link[a] = make([]float64, n)
		for b := range link[a] {
			link[a][b] = m.at(idx[a], idx[b])
		}
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	for {
		ba, bb := -1, -1
		for a := 0; a < n; a++ {
			if !alive[a] {
				continue
			}
			for b := a + 1; b < n; b++ {
				if !alive[b] || link[a][b] < threshold {
					continue
				}
				if ba < 0 || better(groups, link, a, b, ba, bb) {
					ba, bb = a, b
				}
			}
		}
		if ba < 0 {
			break
		}

		ga, gb := groups[ba], groups[bb]
		ga.members = append(ga.members, gb.members...)
		ga.rep = min(ga.rep, gb.rep)
		alive[bb] = false
		for c := 0; c < n; c++ {
			if !alive[c] || c == ba {
				continue
			}
			l := min(link[ba][c], link[bb][c])
			link[ba][c], link[c][ba] = l, l
		}
	}

	var out [][]int
	for i, g := range groups {
		if !alive[i] {
			continue
		}
		members := slices.Clone(g.members)
		slices.Sort(members)
		out = append(out, members)
	}
	slices.SortFunc(out, func(a, b []int) int { return a[0] - b[0] })
	return out
}

// better reports whether merging (a, b) takes precedence over (ca, cb).
func better(groups []*group, link [][]float64, a, b, ca, cb int) bool {
	if s, cs := link[a][b], link[ca][cb]; s != cs {
		return s > cs
	}
	size := len(groups[a].members) + len(groups[b].members)
	csize := len(groups[ca].members) + len(groups[cb].members)
	if size != csize {
		return size < csize
	}
	lo, hi := orderedReps(groups[a].rep, groups[b].rep)
	clo, chi := orderedReps(groups[ca].rep, groups[cb].rep)
	if c := strings.Compare(lo, clo); c != 0 {
		return c < 0
	}
	return hi < chi
}

func orderedReps(x, y string) (string, string) {
	if y < x {
		return y, x
	}
	return x, y
}
