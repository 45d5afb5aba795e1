package extractor

import "github.com/wisdark/capa/internal/backend"

// hasLoop reports whether the directed edge list contains a cycle.
// Iterative three-color DFS; self-edges count as cycles.
func hasLoop(edges [][2]backend.Address) bool {
	adj := make(map[backend.Address][]backend.Address)
	for _, e := range edges {
		if e[0] == e[1] {
			return true
		}
		adj[e[0]] = append(adj[e[0]], e[1])
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[backend.Address]int, len(adj))

	for start := range adj {
		if color[start] != white {
			continue
		}
		// stack of (node, next-child-index)
		type frame struct {
			node backend.Address
			next int
		}
		stack := []frame{{node: start}}
		color[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(adj[top.node]) {
				child := adj[top.node][top.next]
				top.next++
				switch color[child] {
				case gray:
					return true
				case white:
					color[child] = gray
					stack = append(stack, frame{node: child})
				}
				continue
			}
			color[top.node] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}
