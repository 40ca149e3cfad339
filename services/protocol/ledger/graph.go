// Copyright (C) 2025 Crucible Labs (oss@crucible-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

// Dependency-graph traversal. The adjacency index is built lazily from the
// decision list (id -> dependency ids); cycle detection runs an iterative
// depth-first search with an explicit stack and visiting set so adversarial
// inputs cannot blow the call stack.

// detectCycle checks whether the existing dependency edges plus the candidate
// edges (candidateID -> candidateDeps) contain a cycle reachable from the
// candidate.
//
// Inputs:
//
//	adj - Existing adjacency index, id -> dependency ids.
//	candidateID - ID of the decision being added.
//	candidateDeps - Dependency edges the candidate would introduce.
//
// Outputs:
//
//	[]string - The cycle path if one exists, nil otherwise.
func detectCycle(adj map[string][]string, candidateID string, candidateDeps []string) []string {
	deps := func(id string) []string {
		if id == candidateID {
			return candidateDeps
		}
		return adj[id]
	}

	// Colors: absent = white, false = visiting (gray), true = done (black).
	visited := make(map[string]bool)

	type frame struct {
		id   string
		next int
	}

	stack := []frame{{id: candidateID}}
	path := []string{candidateID}
	visited[candidateID] = false

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := deps(top.id)

		if top.next >= len(children) {
			visited[top.id] = true
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			continue
		}

		child := children[top.next]
		top.next++

		done, seen := visited[child]
		if seen && !done {
			// Back edge: child is on the current path.
			cycle := append([]string(nil), path...)
			return append(cycle, child)
		}
		if seen && done {
			continue
		}

		visited[child] = false
		stack = append(stack, frame{id: child})
		path = append(path, child)
	}

	return nil
}

// detectCycleAll checks an entire adjacency index for cycles. Used when
// reconstructing a ledger from persisted data.
//
// Outputs:
//
//	[]string - A cycle path if one exists, nil otherwise.
func detectCycleAll(adj map[string][]string) []string {
	checked := make(map[string]bool)
	for id := range adj {
		if checked[id] {
			continue
		}
		if path := detectCycle(adj, id, adj[id]); path != nil {
			return path
		}
		// detectCycle proved everything reachable from id acyclic.
		for _, reached := range transitiveClosure(adj, id) {
			checked[reached] = true
		}
		checked[id] = true
	}
	return nil
}

// transitiveClosure walks edges breadth-first from start and returns every
// reachable ID in discovery order, excluding start itself.
//
// Inputs:
//
//	edges - Adjacency index to walk (dependencies or dependents).
//	start - The origin decision ID.
//
// Outputs:
//
//	[]string - Reachable IDs, BFS order, start excluded.
func transitiveClosure(edges map[string][]string, start string) []string {
	var result []string
	seen := map[string]bool{start: true}
	queue := append([]string(nil), edges[start]...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
		queue = append(queue, edges[id]...)
	}

	return result
}
