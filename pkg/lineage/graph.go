// Package lineage records the directed graph of compression/continuation
// hops between sessions and answers ancestry queries over it. Edge identity
// is order-independent, so the same hop discovered from either direction
// merges into one record.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dan-solli/loom/pkg/identity"
	"github.com/dan-solli/loom/pkg/store"
)

// DefaultDepth bounds traversals when the caller passes no depth. The
// bound is the only termination guarantee on graphs with cycles introduced
// by data error, so it is mandatory, never skipped.
const DefaultDepth = 10

// Graph is the lineage graph over an injected store.
type Graph struct {
	store store.LineageStore
}

// New creates a lineage graph on the given store.
func New(st store.LineageStore) *Graph {
	return &Graph{store: st}
}

// Trace is the full ancestry picture around one session.
type Trace struct {
	SessionID   string               `json:"session_id"`
	Ancestors   []*store.LineageEdge `json:"ancestors,omitempty"`
	Descendants []*store.LineageEdge `json:"descendants,omitempty"`

	// Root is the deepest ancestor session reached within the depth bound;
	// Leaves are the frontier descendant sessions with no outgoing edge.
	Root   string   `json:"root"`
	Leaves []string `json:"leaves"`

	// CrossProject is true when the traced chain spans more than one
	// project.
	CrossProject bool     `json:"cross_project"`
	Projects     []string `json:"projects,omitempty"`
}

// AddEdge records one state-transfer hop from source to target. Idempotent
// upsert keyed by the order-independent edge id: repeated discovery of the
// same hop, from either direction, merges the carried and dropped sets
// rather than duplicating the edge.
func (g *Graph) AddEdge(ctx context.Context, source, target, tag, project string, carried, dropped []string) (*store.LineageEdge, error) {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("edge endpoints cannot be empty")
	}
	if source == target {
		return nil, fmt.Errorf("edge endpoints must differ")
	}

	edge := &store.LineageEdge{
		ID:       identity.EdgeID(source, target),
		SourceID: source,
		TargetID: target,
		Tag:      tag,
		Project:  project,
		Carried:  carried,
		Dropped:  dropped,
	}
	if err := g.store.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return g.store.GetEdge(ctx, edge.ID)
}

// Edge returns the hop between two sessions regardless of the direction it
// was recorded in, or store.ErrEdgeNotFound.
func (g *Graph) Edge(ctx context.Context, a, b string) (*store.LineageEdge, error) {
	return g.store.GetEdge(ctx, identity.EdgeID(a, b))
}

// Ancestors walks backwards from the session up to depth hops and returns
// the edges leading into it, nearest hop first. The depth bound guarantees
// termination even when bad data forms a cycle.
func (g *Graph) Ancestors(ctx context.Context, sessionID string, depth int) ([]*store.LineageEdge, error) {
	return g.walk(ctx, sessionID, depth, false)
}

// Descendants walks forward from the session up to depth hops and returns
// the outgoing edges in chronological order.
func (g *Graph) Descendants(ctx context.Context, sessionID string, depth int) ([]*store.LineageEdge, error) {
	edges, err := g.walk(ctx, sessionID, depth, true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].CreatedAt.Before(edges[j].CreatedAt)
	})
	return edges, nil
}

// walk is a breadth-first traversal over lineage edges. forward follows
// source->target; backward follows target->source. Visited sessions and
// edges are tracked so a cyclic graph cannot revisit, and the depth bound
// caps the frontier regardless.
func (g *Graph) walk(ctx context.Context, sessionID string, depth int, forward bool) ([]*store.LineageEdge, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	visited := map[string]bool{sessionID: true}
	seenEdges := make(map[string]bool)
	frontier := []string{sessionID}

	var collected []*store.LineageEdge
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, current := range frontier {
			edges, err := g.store.EdgesTouching(ctx, current)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				var neighbor string
				if forward && e.SourceID == current {
					neighbor = e.TargetID
				} else if !forward && e.TargetID == current {
					neighbor = e.SourceID
				} else {
					continue
				}
				if seenEdges[e.ID] {
					continue
				}
				seenEdges[e.ID] = true
				collected = append(collected, e)
				if !visited[neighbor] {
					visited[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}
	return collected, nil
}

// TraceSession returns the union of ancestors and descendants around the
// session, with the chain root, leaf set and cross-project flag.
func (g *Graph) TraceSession(ctx context.Context, sessionID string, depth int) (*Trace, error) {
	ancestors, err := g.Ancestors(ctx, sessionID, depth)
	if err != nil {
		return nil, err
	}
	descendants, err := g.Descendants(ctx, sessionID, depth)
	if err != nil {
		return nil, err
	}

	t := &Trace{
		SessionID:   sessionID,
		Ancestors:   ancestors,
		Descendants: descendants,
	}

	// Root: the ancestor session that nothing in the collected chain feeds
	// into. A merge in the ancestry can leave several such sources; the
	// lexicographically smallest wins so the root is stable across edge
	// orderings. Falls back to the session itself when it has no ancestors.
	incoming := make(map[string]bool)
	for _, e := range ancestors {
		incoming[e.TargetID] = true
	}
	t.Root = sessionID
	for _, e := range ancestors {
		if incoming[e.SourceID] {
			continue
		}
		if t.Root == sessionID || e.SourceID < t.Root {
			t.Root = e.SourceID
		}
	}

	// Leaves: descendant sessions with no outgoing edge in the chain.
	outgoing := make(map[string]bool)
	for _, e := range descendants {
		outgoing[e.SourceID] = true
	}
	leafSet := make(map[string]bool)
	for _, e := range descendants {
		if !outgoing[e.TargetID] {
			leafSet[e.TargetID] = true
		}
	}
	if len(leafSet) == 0 {
		leafSet[sessionID] = true
	}
	for leaf := range leafSet {
		t.Leaves = append(t.Leaves, leaf)
	}
	sort.Strings(t.Leaves)

	projects := make(map[string]bool)
	for _, e := range append(append([]*store.LineageEdge{}, ancestors...), descendants...) {
		if e.Project != "" {
			projects[e.Project] = true
		}
	}
	for p := range projects {
		t.Projects = append(t.Projects, p)
	}
	sort.Strings(t.Projects)
	t.CrossProject = len(t.Projects) > 1

	return t, nil
}

// IsNotFound reports whether err is the missing-edge sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrEdgeNotFound)
}
