package count

import (
	"sort"

	"github.com/bepoli/irescue/encoding/eqclass"
	"github.com/bepoli/irescue/util"
)

// connects reports whether equivalence class x can be the duplication
// parent of class y. x must carry at least 2*count(y)-1 reads, share at
// least one feature with y, and lie within maxHamming mismatches of y's
// UMI.
func connects(x, y *eqclass.Class, maxHamming int) bool {
	if x.Count < 2*y.Count-1 {
		return false
	}
	if !x.Features.Intersects(y.Features) {
		return false
	}
	return util.Hamming(x.UMI, y.UMI) <= maxHamming
}

// cellGraph is the directed UMI connectivity graph of one cell. Nodes are
// indexes into classes. succ[i] lists the nodes i connects to and pred[i]
// the nodes connecting to i, both in ascending order.
type cellGraph struct {
	classes []eqclass.Class
	succ    [][]int
	pred    [][]int
}

func buildCellGraph(classes []eqclass.Class, maxHamming int) *cellGraph {
	g := &cellGraph{
		classes: classes,
		succ:    make([][]int, len(classes)),
		pred:    make([][]int, len(classes)),
	}
	for i := range classes {
		for j := range classes {
			if i == j {
				continue
			}
			if connects(&classes[i], &classes[j], maxHamming) {
				g.succ[i] = append(g.succ[i], j)
				g.pred[j] = append(g.pred[j], i)
			}
		}
	}
	return g
}

// components returns the weakly connected components of g. Each component
// lists its nodes in ascending order, and components are ordered by their
// smallest node.
func (g *cellGraph) components() [][]int {
	seen := make([]bool, len(g.classes))
	var comps [][]int
	for i := range g.classes {
		if seen[i] {
			continue
		}
		comp := []int{i}
		seen[i] = true
		for k := 0; k < len(comp); k++ {
			n := comp[k]
			for _, m := range g.succ[n] {
				if !seen[m] {
					seen[m] = true
					comp = append(comp, m)
				}
			}
			for _, m := range g.pred[n] {
				if !seen[m] {
					seen[m] = true
					comp = append(comp, m)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// pathFrom collects the first path of mutually duplicated classes
// reachable from start, marking every collected node in used. The walk
// descends depth-first through successors that both are unused and share a
// feature with the anchor set, which stays fixed at start's own features
// for the entire path. The stack is explicit so that long duplication
// chains cannot exhaust the call stack.
func (g *cellGraph) pathFrom(start int, used []bool) []int {
	anchor := g.classes[start].Features
	path := []int{start}
	used[start] = true
	type frame struct {
		node int
		next int
	}
	stack := []frame{{node: start}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		succ := g.succ[f.node]
		descended := false
		for f.next < len(succ) {
			s := succ[f.next]
			f.next++
			if !used[s] && anchor.Intersects(g.classes[s].Features) {
				used[s] = true
				path = append(path, s)
				stack = append(stack, frame{node: s})
				descended = true
				break
			}
		}
		if !descended {
			stack = stack[:len(stack)-1]
		}
	}
	return path
}

// pathConfig decomposes component comp into paths, starting the first path
// at parent and each following path at the smallest node not yet used.
// used must have room for every node index and is reset on entry.
func (g *cellGraph) pathConfig(comp []int, parent int, used []bool) [][]int {
	for _, n := range comp {
		used[n] = false
	}
	config := [][]int{g.pathFrom(parent, used)}
	for _, n := range comp {
		if !used[n] {
			config = append(config, g.pathFrom(n, used))
		}
	}
	return config
}

// resolveComponent deduplicates one connected component into its most
// parsimonious path decomposition. It tries a path configuration rooted at
// every parent node (no predecessors) and keeps the first one with the
// fewest paths. Each path stands for one deduplicated molecule and is
// assigned the full feature set of its starting node.
//
// A component made only of cycles has no parent node. Every node is then
// tried as a root, and all paths of the winning configuration are assigned
// the union of the component's features.
func (g *cellGraph) resolveComponent(comp []int, used []bool) (paths [][]int, features []eqclass.FeatureSet) {
	var parents []int
	for _, n := range comp {
		if len(g.pred[n]) == 0 {
			parents = append(parents, n)
		}
	}
	var union eqclass.FeatureSet
	if len(parents) == 0 {
		parents = comp
		sets := make([]eqclass.FeatureSet, len(comp))
		for i, n := range comp {
			sets[i] = g.classes[n].Features
		}
		union = eqclass.UnionFeatureSets(sets)
	}
	var best [][]int
	for _, parent := range parents {
		config := g.pathConfig(comp, parent, used)
		if best == nil || len(config) < len(best) {
			best = config
		}
	}
	features = make([]eqclass.FeatureSet, len(best))
	for i, path := range best {
		if union != nil {
			features[i] = union
		} else {
			features[i] = g.classes[path[0]].Features
		}
	}
	return best, features
}
