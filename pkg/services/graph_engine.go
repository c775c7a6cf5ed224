package services

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/strataforge/strata-engine/pkg/models"
)

// EntityGraph is the in-memory adjacency built from entity relationships.
// Edges are held both directed (for PageRank) and undirected (for component
// and degree analysis).
type EntityGraph struct {
	nodes     []uuid.UUID
	out       map[uuid.UUID][]uuid.UUID
	neighbors map[uuid.UUID][]uuid.UUID
}

// NewEntityGraph builds a graph from relationship edges.
func NewEntityGraph(edges []*models.EntityRelationship) *EntityGraph {
	g := &EntityGraph{
		out:       make(map[uuid.UUID][]uuid.UUID),
		neighbors: make(map[uuid.UUID][]uuid.UUID),
	}
	seen := make(map[uuid.UUID]bool)
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			g.nodes = append(g.nodes, id)
		}
	}
	for _, e := range edges {
		add(e.SourceID)
		add(e.TargetID)
		g.out[e.SourceID] = append(g.out[e.SourceID], e.TargetID)
		g.neighbors[e.SourceID] = append(g.neighbors[e.SourceID], e.TargetID)
		g.neighbors[e.TargetID] = append(g.neighbors[e.TargetID], e.SourceID)
	}
	return g
}

// Size returns the number of nodes with at least one relationship.
func (g *EntityGraph) Size() int {
	return len(g.nodes)
}

// CentralityScore is one entry of a centrality ranking.
type CentralityScore struct {
	EntityID uuid.UUID `json:"entity_id"`
	Score    float64   `json:"score"`
}

// GraphCapability describes what an engine can compute. Probed once at
// startup; engines are never swapped mid-call.
type GraphCapability struct {
	Name       string
	Available  bool
	Algorithms []string
}

// GraphEngine computes centrality and community assignments over an entity
// graph. Two implementations exist: the native algorithm engine and a
// degree/component fallback with the same ordering guarantees.
type GraphEngine interface {
	Capability() GraphCapability

	// Centrality returns a score per node, descending, covering every node
	// with at least one relationship.
	Centrality(ctx context.Context, g *EntityGraph) ([]CentralityScore, error)

	// Communities assigns each node a community id. Ids are arbitrary but
	// stable within one run.
	Communities(ctx context.Context, g *EntityGraph) (map[uuid.UUID]int, error)
}

// nativeGraphEngine runs PageRank power iteration and label-propagation
// community detection.
type nativeGraphEngine struct {
	damping    float64
	iterations int
}

// NewNativeGraphEngine creates the full algorithm engine.
func NewNativeGraphEngine(damping float64, iterations int) GraphEngine {
	if damping <= 0 || damping >= 1 {
		damping = 0.85
	}
	if iterations < 1 {
		iterations = 50
	}
	return &nativeGraphEngine{damping: damping, iterations: iterations}
}

var _ GraphEngine = (*nativeGraphEngine)(nil)

func (e *nativeGraphEngine) Capability() GraphCapability {
	return GraphCapability{
		Name:       "native",
		Available:  true,
		Algorithms: []string{"pagerank", "label_propagation"},
	}
}

func (e *nativeGraphEngine) Centrality(ctx context.Context, g *EntityGraph) ([]CentralityScore, error) {
	n := g.Size()
	if n == 0 {
		return nil, nil
	}

	rank := make(map[uuid.UUID]float64, n)
	for _, id := range g.nodes {
		rank[id] = 1.0 / float64(n)
	}

	for iter := 0; iter < e.iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := make(map[uuid.UUID]float64, n)
		base := (1 - e.damping) / float64(n)

		// Mass of dangling nodes is redistributed uniformly.
		var dangling float64
		for _, id := range g.nodes {
			if len(g.out[id]) == 0 {
				dangling += rank[id]
			}
		}
		base += e.damping * dangling / float64(n)

		for _, id := range g.nodes {
			next[id] = base
		}
		for _, id := range g.nodes {
			targets := g.out[id]
			if len(targets) == 0 {
				continue
			}
			share := e.damping * rank[id] / float64(len(targets))
			for _, t := range targets {
				next[t] += share
			}
		}
		rank = next
	}

	return sortedScores(rank), nil
}

func (e *nativeGraphEngine) Communities(ctx context.Context, g *EntityGraph) (map[uuid.UUID]int, error) {
	if g.Size() == 0 {
		return map[uuid.UUID]int{}, nil
	}

	// Label propagation: every node starts in its own community and
	// repeatedly adopts the most common label among its neighbors. Converges
	// quickly on the sparse graphs entities form.
	label := make(map[uuid.UUID]int, g.Size())
	for i, id := range g.nodes {
		label[id] = i
	}

	for iter := 0; iter < e.iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for _, id := range g.nodes {
			counts := make(map[int]int)
			for _, nb := range g.neighbors[id] {
				counts[label[nb]]++
			}
			if len(counts) == 0 {
				continue
			}
			best, bestCount := label[id], 0
			for l, c := range counts {
				if c > bestCount || (c == bestCount && l < best) {
					best, bestCount = l, c
				}
			}
			if best != label[id] {
				label[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return compactLabels(g, label), nil
}

// fallbackGraphEngine approximates centrality with degree counts and
// communities with connected components. Slower-converging algorithms are
// unavailable here, but the ranking over all connected nodes stays total.
type fallbackGraphEngine struct{}

// NewFallbackGraphEngine creates the in-memory fallback engine.
func NewFallbackGraphEngine() GraphEngine {
	return &fallbackGraphEngine{}
}

var _ GraphEngine = (*fallbackGraphEngine)(nil)

func (e *fallbackGraphEngine) Capability() GraphCapability {
	return GraphCapability{
		Name:       "fallback",
		Available:  false,
		Algorithms: []string{"degree", "connected_components"},
	}
}

func (e *fallbackGraphEngine) Centrality(ctx context.Context, g *EntityGraph) ([]CentralityScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rank := make(map[uuid.UUID]float64, g.Size())
	for _, id := range g.nodes {
		rank[id] = float64(len(g.neighbors[id]))
	}
	return sortedScores(rank), nil
}

func (e *fallbackGraphEngine) Communities(ctx context.Context, g *EntityGraph) (map[uuid.UUID]int, error) {
	visited := make(map[uuid.UUID]bool, g.Size())
	label := make(map[uuid.UUID]int, g.Size())
	component := 0

	for _, start := range g.nodes {
		if visited[start] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Iterative DFS over the undirected adjacency.
		stack := []uuid.UUID{start}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[current] {
				continue
			}
			visited[current] = true
			label[current] = component
			for _, nb := range g.neighbors[current] {
				if !visited[nb] {
					stack = append(stack, nb)
				}
			}
		}
		component++
	}

	return label, nil
}

// sortedScores orders a score map descending, ties broken by id for a stable
// total ordering.
func sortedScores(rank map[uuid.UUID]float64) []CentralityScore {
	out := make([]CentralityScore, 0, len(rank))
	for id, score := range rank {
		out = append(out, CentralityScore{EntityID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].EntityID.String() < out[j].EntityID.String()
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// compactLabels renumbers arbitrary labels into dense community ids.
func compactLabels(g *EntityGraph, label map[uuid.UUID]int) map[uuid.UUID]int {
	mapping := make(map[int]int)
	out := make(map[uuid.UUID]int, len(label))
	for _, id := range g.nodes {
		l := label[id]
		if _, ok := mapping[l]; !ok {
			mapping[l] = len(mapping)
		}
		out[id] = mapping[l]
	}
	return out
}
