package template

// findCycle detects a dependency cycle among blueprints using Tarjan's
// strongly connected components algorithm. Returns the cycle path (first key
// repeated at the end) or nil when the graph is a DAG.
//
// Edges point from a blueprint to the blueprints it depends on; any SCC with
// more than one node, or a self-loop, is a cycle. Self-loops are rejected
// earlier by Validate, so in practice this reports multi-node cycles.
func findCycle(blueprints []Blueprint) []string {
	graph := make(map[string][]string, len(blueprints))
	for _, bp := range blueprints {
		graph[bp.Key] = append([]string{}, bp.DependsOn...)
	}

	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		cycle   []string
	)

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 && cycle == nil {
				// Reverse to declaration-ish order and close the loop.
				for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
					scc[i], scc[j] = scc[j], scc[i]
				}
				cycle = append(scc, scc[0])
			}
		}
	}

	// Iterate blueprints (not the map) for deterministic traversal order.
	for _, bp := range blueprints {
		if _, seen := indices[bp.Key]; !seen {
			strongconnect(bp.Key)
		}
	}

	return cycle
}
