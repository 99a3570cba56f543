package store

import (
	"context"
	"sort"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
	"github.com/ry-ht/cortex/internal/types"
)

// maxTraversalDepth is enforced server-side for every bounded traversal.
const maxTraversalDepth = 10

// GraphUnit is a traversal result: a unit summary plus its distance from
// the traversal origin.
type GraphUnit struct {
	ID            types.CodeUnitID `json:"id"`
	Name          string           `json:"name"`
	QualifiedName string           `json:"qualified_name"`
	UnitType      types.UnitType   `json:"unit_type"`
	FilePath      string           `json:"file_path"`
	Depth         int              `json:"depth"`
}

// GraphTotals summarizes the dependency graph of a workspace.
type GraphTotals struct {
	TotalUnits        int     `json:"total_units"`
	TotalDependencies int     `json:"total_dependencies"`
	TotalCalls        int     `json:"total_calls"`
	AvgOutDegree      float64 `json:"avg_out_degree"`
	AvgInDegree       float64 `json:"avg_in_degree"`
}

// unitSummaries loads the display fields for a set of unit ids.
func (s *Store) unitSummaries(ctx context.Context, ids map[types.CodeUnitID]int) ([]GraphUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]GraphUnit, 0, len(ids))
	err := s.pool.WithRetry(ctx, "unitSummaries", func(h *pool.Handle) error {
		out = out[:0]
		for id, depth := range ids {
			var gu GraphUnit
			var uid, unitType string
			err := h.QueryRow(ctx,
				"SELECT id, name, qualified_name, unit_type, file_path FROM code_unit WHERE id = ? AND deleted = 0",
				id.String()).Scan(&uid, &gu.Name, &gu.QualifiedName, &unitType, &gu.FilePath)
			if err != nil {
				// Edges to vanished units are skipped, not fatal.
				continue
			}
			gu.ID = types.CodeUnitID(uid)
			gu.UnitType = types.UnitType(unitType)
			gu.Depth = depth
			out = append(out, gu)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// workspaceOfUnit resolves a unit's workspace, NotFound when absent.
func (s *Store) workspaceOfUnit(ctx context.Context, unitID types.CodeUnitID) (types.WorkspaceID, error) {
	var ws string
	err := s.pool.WithRetry(ctx, "workspaceOfUnit", func(h *pool.Handle) error {
		return h.QueryRow(ctx,
			"SELECT workspace_id FROM code_unit WHERE (id = ? OR alias_of = ?) AND deleted = 0",
			unitID.String(), unitID.String()).Scan(&ws)
	})
	if err != nil {
		return "", types.NotFound("code_unit", unitID.String())
	}
	return types.WorkspaceID(ws), nil
}

// bfs runs a bounded breadth-first traversal over an adjacency map.
func bfs(adjacency map[types.CodeUnitID][]depEdge, start types.CodeUnitID, depth int) map[types.CodeUnitID]int {
	visited := map[types.CodeUnitID]int{}
	frontier := []types.CodeUnitID{start}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []types.CodeUnitID
		for _, id := range frontier {
			for _, e := range adjacency[id] {
				if e.Target == start {
					continue
				}
				if _, seen := visited[e.Target]; seen {
					continue
				}
				visited[e.Target] = d
				next = append(next, e.Target)
			}
		}
		frontier = next
	}
	return visited
}

// reverse inverts an adjacency map.
func reverse(adjacency map[types.CodeUnitID][]depEdge) map[types.CodeUnitID][]depEdge {
	rev := make(map[types.CodeUnitID][]depEdge, len(adjacency))
	for src, edges := range adjacency {
		for _, e := range edges {
			rev[e.Target] = append(rev[e.Target], depEdge{Source: e.Target, Target: src, Kind: e.Kind})
		}
	}
	return rev
}

// Dependencies runs a bounded BFS over depends_on from one unit.
// Depth outside [1,10] is rejected.
func (s *Store) Dependencies(ctx context.Context, unitID types.CodeUnitID, depth int) ([]GraphUnit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Dependencies")
	defer timer.Stop()

	if depth < 1 || depth > maxTraversalDepth {
		return nil, types.InvalidInput("traversal depth must be between 1 and 10")
	}

	wsID, err := s.workspaceOfUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	adjacency, err := s.edgesBySource(ctx, wsID, "")
	if err != nil {
		return nil, err
	}
	return s.unitSummaries(ctx, bfs(adjacency, unitID, depth))
}

// Dependents returns the reverse-dependency closure of one unit.
func (s *Store) Dependents(ctx context.Context, unitID types.CodeUnitID) ([]GraphUnit, error) {
	wsID, err := s.workspaceOfUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	adjacency, err := s.edgesBySource(ctx, wsID, "")
	if err != nil {
		return nil, err
	}
	return s.unitSummaries(ctx, bfs(reverse(adjacency), unitID, maxTraversalDepth))
}

// CallGraph returns the callees reachable from a unit over calls edges.
func (s *Store) CallGraph(ctx context.Context, unitID types.CodeUnitID, depth int) ([]GraphUnit, error) {
	if depth < 1 || depth > maxTraversalDepth {
		return nil, types.InvalidInput("traversal depth must be between 1 and 10")
	}
	wsID, err := s.workspaceOfUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	adjacency, err := s.edgesBySource(ctx, wsID, types.DepCalls)
	if err != nil {
		return nil, err
	}
	return s.unitSummaries(ctx, bfs(adjacency, unitID, depth))
}

// Callers returns the direct callers of a unit.
func (s *Store) Callers(ctx context.Context, unitID types.CodeUnitID) ([]GraphUnit, error) {
	wsID, err := s.workspaceOfUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	adjacency, err := s.edgesBySource(ctx, wsID, types.DepCalls)
	if err != nil {
		return nil, err
	}
	return s.unitSummaries(ctx, bfs(reverse(adjacency), unitID, 1))
}

// Impact computes the union of the dependents closures of a set of units:
// everything that could observe a change to any of them.
func (s *Store) Impact(ctx context.Context, unitIDs []types.CodeUnitID) ([]GraphUnit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Impact")
	defer timer.Stop()

	if len(unitIDs) == 0 {
		return nil, types.InvalidInput("impact analysis requires at least one unit")
	}

	wsID, err := s.workspaceOfUnit(ctx, unitIDs[0])
	if err != nil {
		return nil, err
	}
	adjacency, err := s.edgesBySource(ctx, wsID, "")
	if err != nil {
		return nil, err
	}
	rev := reverse(adjacency)

	changed := make(map[types.CodeUnitID]bool, len(unitIDs))
	for _, id := range unitIDs {
		changed[id] = true
	}

	union := map[types.CodeUnitID]int{}
	for _, id := range unitIDs {
		for target, depth := range bfs(rev, id, maxTraversalDepth) {
			if changed[target] {
				continue
			}
			if cur, ok := union[target]; !ok || depth < cur {
				union[target] = depth
			}
		}
	}
	return s.unitSummaries(ctx, union)
}

// Cycles enumerates simple cycles in depends_on up to maxLength, canonically
// rotated to start from the lowest unit id. Self-loops (forbidden by
// invariant) and unresolved edges are ignored.
func (s *Store) Cycles(ctx context.Context, wsID types.WorkspaceID, maxLength int) ([][]GraphUnit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Cycles")
	defer timer.Stop()

	if maxLength < 2 {
		maxLength = 2
	}
	if maxLength > maxTraversalDepth {
		return nil, types.InvalidInput("cycle length cap must be at most 10")
	}

	adjacency, err := s.edgesBySource(ctx, wsID, "")
	if err != nil {
		return nil, err
	}

	// Tarjan SCC restricts the cycle search to components that can contain
	// cycles at all.
	sccs := tarjanSCC(adjacency)

	var cycles [][]types.CodeUnitID
	for _, scc := range sccs {
		if len(scc) < 2 {
			continue
		}
		inSCC := make(map[types.CodeUnitID]bool, len(scc))
		for _, id := range scc {
			inSCC[id] = true
		}
		cycles = append(cycles, enumerateCycles(adjacency, scc, inSCC, maxLength)...)
	}

	// Resolve summaries per cycle, preserving order.
	var out [][]GraphUnit
	for _, cycle := range cycles {
		units := make([]GraphUnit, 0, len(cycle))
		ok := true
		for i, id := range cycle {
			got, err := s.unitSummaries(ctx, map[types.CodeUnitID]int{id: i})
			if err != nil || len(got) == 0 {
				ok = false
				break
			}
			units = append(units, got[0])
		}
		if ok {
			out = append(out, units)
		}
	}
	return out, nil
}

// tarjanSCC computes strongly connected components iteratively.
func tarjanSCC(adjacency map[types.CodeUnitID][]depEdge) [][]types.CodeUnitID {
	// Deterministic node order keeps results stable.
	nodes := make([]types.CodeUnitID, 0, len(adjacency))
	seen := map[types.CodeUnitID]bool{}
	addNode := func(id types.CodeUnitID) {
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	for src, edges := range adjacency {
		addNode(src)
		for _, e := range edges {
			addNode(e.Target)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	index := map[types.CodeUnitID]int{}
	lowlink := map[types.CodeUnitID]int{}
	onStack := map[types.CodeUnitID]bool{}
	var stack []types.CodeUnitID
	var sccs [][]types.CodeUnitID
	counter := 0

	var strongconnect func(v types.CodeUnitID)
	strongconnect = func(v types.CodeUnitID) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range adjacency[v] {
			w := e.Target
			if w == v {
				continue // self-loops are forbidden and ignored
			}
			if _, visited := index[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var scc []types.CodeUnitID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, v := range nodes {
		if _, visited := index[v]; !visited {
			strongconnect(v)
		}
	}
	return sccs
}

// enumerateCycles lists the simple cycles of one SCC with length <= maxLen.
// Paths only visit nodes >= the start node, so every cycle is found exactly
// once, already rotated to its lowest id.
func enumerateCycles(adjacency map[types.CodeUnitID][]depEdge, scc []types.CodeUnitID, inSCC map[types.CodeUnitID]bool, maxLen int) [][]types.CodeUnitID {
	ordered := append([]types.CodeUnitID(nil), scc...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var cycles [][]types.CodeUnitID
	for _, start := range ordered {
		path := []types.CodeUnitID{start}
		onPath := map[types.CodeUnitID]bool{start: true}

		var dfs func(current types.CodeUnitID)
		dfs = func(current types.CodeUnitID) {
			for _, e := range adjacency[current] {
				next := e.Target
				if !inSCC[next] || next < start {
					continue
				}
				if next == start {
					if len(path) >= 2 {
						cycles = append(cycles, append([]types.CodeUnitID(nil), path...))
					}
					continue
				}
				if onPath[next] || len(path) >= maxLen {
					continue
				}
				path = append(path, next)
				onPath[next] = true
				dfs(next)
				path = path[:len(path)-1]
				delete(onPath, next)
			}
		}
		dfs(start)
	}
	return cycles
}

// Hubs returns the top-N units by total degree (in + out). Each result's
// Depth field holds that degree.
func (s *Store) Hubs(ctx context.Context, wsID types.WorkspaceID, limit int) ([]GraphUnit, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []GraphUnit
	err := s.pool.WithRetry(ctx, "Hubs", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT cu.id, cu.name, cu.qualified_name, cu.unit_type, cu.file_path,
			(SELECT COUNT(*) FROM depends_on d WHERE d.source_unit_id = cu.id) +
			(SELECT COUNT(*) FROM depends_on d WHERE d.target_unit_id = cu.id) AS degree
			FROM code_unit cu
			WHERE cu.workspace_id = ? AND cu.deleted = 0
			ORDER BY degree DESC, cu.id
			LIMIT ?`, wsID.String(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var gu GraphUnit
			var id, unitType string
			var degree int
			if err := rows.Scan(&id, &gu.Name, &gu.QualifiedName, &unitType, &gu.FilePath, &degree); err != nil {
				return types.Transport(err)
			}
			gu.ID = types.CodeUnitID(id)
			gu.UnitType = types.UnitType(unitType)
			gu.Depth = degree
			out = append(out, gu)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leaves returns units with no outgoing dependency edges.
func (s *Store) Leaves(ctx context.Context, wsID types.WorkspaceID, limit int) ([]GraphUnit, error) {
	return s.degreeFilter(ctx, wsID, limit,
		`NOT EXISTS (SELECT 1 FROM depends_on d WHERE d.source_unit_id = cu.id AND d.target_unit_id != '')`)
}

// Roots returns units with no incoming dependency edges.
func (s *Store) Roots(ctx context.Context, wsID types.WorkspaceID, limit int) ([]GraphUnit, error) {
	return s.degreeFilter(ctx, wsID, limit,
		`NOT EXISTS (SELECT 1 FROM depends_on d WHERE d.target_unit_id = cu.id)`)
}

func (s *Store) degreeFilter(ctx context.Context, wsID types.WorkspaceID, limit int, cond string) ([]GraphUnit, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []GraphUnit
	err := s.pool.WithRetry(ctx, "degreeFilter", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT cu.id, cu.name, cu.qualified_name, cu.unit_type, cu.file_path
			FROM code_unit cu
			WHERE cu.workspace_id = ? AND cu.deleted = 0 AND `+cond+`
			ORDER BY cu.name LIMIT ?`, wsID.String(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var gu GraphUnit
			var id, unitType string
			if err := rows.Scan(&id, &gu.Name, &gu.QualifiedName, &unitType, &gu.FilePath); err != nil {
				return types.Transport(err)
			}
			gu.ID = types.CodeUnitID(id)
			gu.UnitType = types.UnitType(unitType)
			out = append(out, gu)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ComplexSymbols returns units whose derived complexity score exceeds the
// threshold, most complex first.
func (s *Store) ComplexSymbols(ctx context.Context, wsID types.WorkspaceID, threshold float64, limit int) ([]types.CodeUnit, error) {
	units, _, err := s.ListCodeUnits(ctx, wsID, UnitFilter{MinComplexity: threshold}, limit, "")
	if err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Complexity.Score() > units[j].Complexity.Score()
	})
	return units, nil
}

// UntestedSymbols returns units whose test coverage is below the threshold
// (including units with no recorded coverage), least covered first.
func (s *Store) UntestedSymbols(ctx context.Context, wsID types.WorkspaceID, threshold float64, limit int) ([]types.CodeUnit, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.CodeUnit
	err := s.pool.WithRetry(ctx, "UntestedSymbols", func(h *pool.Handle) error {
		rows, err := h.Query(ctx, `SELECT `+unitColumns+` FROM code_unit
			WHERE workspace_id = ? AND deleted = 0
			  AND (test_coverage IS NULL OR test_coverage < ?)
			ORDER BY COALESCE(test_coverage, 0), qualified_name
			LIMIT ?`, wsID.String(), threshold, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var u types.CodeUnit
			if err := scanCodeUnit(rows, &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GraphStats returns workspace-wide totals and average degrees.
func (s *Store) GraphStats(ctx context.Context, wsID types.WorkspaceID) (GraphTotals, error) {
	var totals GraphTotals
	err := s.pool.WithRetry(ctx, "GraphStats", func(h *pool.Handle) error {
		if err := h.QueryRow(ctx,
			"SELECT COUNT(*) FROM code_unit WHERE workspace_id = ? AND deleted = 0",
			wsID.String()).Scan(&totals.TotalUnits); err != nil {
			return err
		}
		if err := h.QueryRow(ctx,
			"SELECT COUNT(*) FROM depends_on WHERE workspace_id = ?",
			wsID.String()).Scan(&totals.TotalDependencies); err != nil {
			return err
		}
		return h.QueryRow(ctx,
			"SELECT COUNT(*) FROM depends_on WHERE workspace_id = ? AND kind = 'calls'",
			wsID.String()).Scan(&totals.TotalCalls)
	})
	if err != nil {
		return totals, types.Transport(err)
	}
	if totals.TotalUnits > 0 {
		avg := float64(totals.TotalDependencies) / float64(totals.TotalUnits)
		totals.AvgOutDegree = avg
		totals.AvgInDegree = avg
	}
	return totals, nil
}

// SymbolSnapshot is the one-transaction full view of a unit.
type SymbolSnapshot struct {
	Unit       types.CodeUnit     `json:"unit"`
	Outgoing   []types.Dependency `json:"outgoing"`
	Incoming   []types.Dependency `json:"incoming"`
	Docstrings []string           `json:"docstrings"`
	Lineage    []types.Episode    `json:"lineage"`
}

// GetSymbolFull returns the unit plus incident edges plus docs plus lineage.
func (s *Store) GetSymbolFull(ctx context.Context, unitID types.CodeUnitID) (*SymbolSnapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetSymbolFull")
	defer timer.Stop()

	unit, err := s.GetCodeUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	snap := &SymbolSnapshot{Unit: *unit}

	if snap.Outgoing, err = s.ListDependencies(ctx, unit.ID); err != nil {
		return nil, err
	}
	if snap.Incoming, err = s.ListDependents(ctx, unit.ID); err != nil {
		return nil, err
	}
	if unit.Docstring != "" {
		snap.Docstrings = append(snap.Docstrings, unit.Docstring)
	}
	if snap.Lineage, err = s.CodeLineage(ctx, unit.ID); err != nil {
		return nil, err
	}
	return snap, nil
}
