package community

import (
	"sort"
)

// Edge is an undirected weighted link in the projection graph. Parallel
// edges between the same pair of nodes sum their weights.
type Edge struct {
	Source string
	Target string
	Weight float64
}

// LouvainDetector clusters a graph by modularity, two phases per pass:
// greedy local moves, then aggregation of communities into super-nodes.
// Node order and tie-breaks are deterministic so identical graphs always
// produce identical assignments.
type LouvainDetector struct {
	MaxPasses int
}

func NewLouvainDetector() *LouvainDetector {
	return &LouvainDetector{MaxPasses: 10}
}

// Detect returns a complete node-to-community mapping. Every node gets an
// assignment; isolated nodes form singleton communities. Community ids are
// dense, numbered by the smallest member node id.
func (d *LouvainDetector) Detect(nodeIDs []string, edges []Edge) map[string]int {
	if len(nodeIDs) == 0 {
		return map[string]int{}
	}

	// Deterministic index assignment.
	sorted := make([]string, len(nodeIDs))
	copy(sorted, nodeIDs)
	sort.Strings(sorted)

	idx := make(map[string]int, len(sorted))
	for i, id := range sorted {
		idx[id] = i
	}

	n := len(sorted)
	weights := make(map[[2]int]float64)
	for _, e := range edges {
		si, ok := idx[e.Source]
		if !ok {
			continue
		}
		ti, ok := idx[e.Target]
		if !ok {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		key := [2]int{si, ti}
		if ti < si {
			key = [2]int{ti, si}
		}
		weights[key] += w
	}

	// membership[i] tracks node i's community through every pass.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	g := newAggGraph(n, weights)
	for pass := 0; pass < d.MaxPasses; pass++ {
		comm, improved := g.localMove()
		if !improved {
			break
		}
		prev := g.n
		g = g.aggregate(comm) // renumbers comm in place
		for i := range membership {
			membership[i] = comm[membership[i]]
		}
		if g.n == prev {
			break
		}
	}

	// Renumber communities densely, ordered by smallest member.
	renumber := make(map[int]int)
	next := 0
	result := make(map[string]int, n)
	for i, id := range sorted {
		c := membership[i]
		if _, ok := renumber[c]; !ok {
			renumber[c] = next
			next++
		}
		result[id] = renumber[c]
	}
	return result
}

// aggGraph is the working graph for one Louvain pass: adjacency with
// summed weights, self-loops holding intra-community weight from earlier
// aggregation rounds.
type aggGraph struct {
	n     int
	adj   []map[int]float64 // neighbor -> weight, no self entries
	loops []float64         // self-loop weight per node
	m2    float64           // twice the total edge weight
}

func newAggGraph(n int, weights map[[2]int]float64) *aggGraph {
	g := &aggGraph{
		n:     n,
		adj:   make([]map[int]float64, n),
		loops: make([]float64, n),
	}
	for i := range g.adj {
		g.adj[i] = make(map[int]float64)
	}
	for key, w := range weights {
		a, b := key[0], key[1]
		if a == b {
			g.loops[a] += w
			g.m2 += 2 * w
			continue
		}
		g.adj[a][b] += w
		g.adj[b][a] += w
		g.m2 += 2 * w
	}
	return g
}

func (g *aggGraph) degree(i int) float64 {
	d := 2 * g.loops[i]
	for _, w := range g.adj[i] {
		d += w
	}
	return d
}

// localMove greedily reassigns nodes to the neighboring community with the
// highest modularity gain until a full sweep makes no change. Returns the
// final community per node and whether anything moved at all.
func (g *aggGraph) localMove() ([]int, bool) {
	comm := make([]int, g.n)
	sumTot := make([]float64, g.n)
	deg := make([]float64, g.n)
	for i := 0; i < g.n; i++ {
		comm[i] = i
		deg[i] = g.degree(i)
		sumTot[i] = deg[i]
	}

	if g.m2 == 0 {
		return comm, false
	}

	movedAny := false
	for sweep := 0; sweep < 100; sweep++ {
		movedThisSweep := false
		for i := 0; i < g.n; i++ {
			current := comm[i]

			// Weight from i to each neighboring community.
			links := map[int]float64{current: 0}
			for j, w := range g.adj[i] {
				links[comm[j]] += w
			}

			// Remove i from its community before evaluating gains.
			sumTot[current] -= deg[i]

			best := current
			bestGain := links[current] - sumTot[current]*deg[i]/g.m2

			// Deterministic candidate order.
			candidates := make([]int, 0, len(links))
			for c := range links {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)

			for _, c := range candidates {
				gain := links[c] - sumTot[c]*deg[i]/g.m2
				if gain > bestGain+1e-12 {
					bestGain = gain
					best = c
				}
			}

			sumTot[best] += deg[i]
			if best != current {
				comm[i] = best
				movedThisSweep = true
				movedAny = true
			}
		}
		if !movedThisSweep {
			break
		}
	}
	return comm, movedAny
}

// aggregate collapses each community into a single node. Intra-community
// weight becomes a self-loop so modularity is preserved across passes.
func (g *aggGraph) aggregate(comm []int) *aggGraph {
	// Dense renumbering of surviving communities.
	renumber := make(map[int]int)
	next := 0
	for i := 0; i < g.n; i++ {
		if _, ok := renumber[comm[i]]; !ok {
			renumber[comm[i]] = next
			next++
		}
	}

	weights := make(map[[2]int]float64)
	for i := 0; i < g.n; i++ {
		ci := renumber[comm[i]]
		if g.loops[i] > 0 {
			weights[[2]int{ci, ci}] += g.loops[i]
		}
		for j, w := range g.adj[i] {
			if j < i {
				continue
			}
			cj := renumber[comm[j]]
			key := [2]int{ci, cj}
			if cj < ci {
				key = [2]int{cj, ci}
			}
			weights[key] += w
		}
	}

	// Rewrite comm to the dense ids so the caller can compose memberships
	// against the aggregated graph.
	for i := 0; i < g.n; i++ {
		comm[i] = renumber[comm[i]]
	}
	return newAggGraph(next, weights)
}
