// Package resolve computes, for one target package, which of its
// dependencies are satisfied by the stock distribution databases, which are
// satisfied by other managed packages, which would have to come from the
// upstream package index, and which are missing outright. Grounded on
// original_source's resolve/mod.rs AurResolver, simplified from a full
// aur_depends graph solve to a breadth-first walk over managed-package
// metadata, modeled with the same gonum directed-graph machinery the
// teacher's internal/batch/batch.go uses for its build graph.
package resolve

import (
	"context"

	"github.com/serene-build/serene/internal/source"
	"github.com/serene-build/serene/internal/store"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Mode selects how unresolved-against-distro-and-managed requirements are
// treated.
type Mode int

const (
	// ModeStub never queries the upstream index; every such requirement is
	// reported missing. Used by build sessions (spec §4.6).
	ModeStub Mode = iota
	// ModeLive queries the upstream index, used on package add to surface
	// useful errors to the user.
	ModeLive
)

// Info is the classification of one target package's requirements.
type Info struct {
	Missing []string
	AUR     map[string]bool
	Depend  map[string]bool
}

// Resolver resolves requirements against a fixed snapshot of the stock
// distribution databases and the managed package set's parsed metadata.
type Resolver struct {
	mode   Mode
	distro DistroSet
	index  source.Index // only consulted in ModeLive

	// managed maps every member package name to the base that owns it, so a
	// dependency on a split package's member resolves to its base.
	managed map[string]string
	meta    map[string]*store.RecipeMetadata // base -> metadata
}

// New returns a Resolver over packages (base -> parsed metadata). Resolve
// reads exactly these entries; it never re-reads a recipe from its source.
// index may be nil when mode is ModeStub.
func New(mode Mode, distro DistroSet, index source.Index, packages map[string]*store.RecipeMetadata) *Resolver {
	r := &Resolver{
		mode:    mode,
		distro:  distro,
		index:   index,
		managed: map[string]string{},
		meta:    packages,
	}
	for base, m := range packages {
		if m == nil {
			continue
		}
		for _, member := range m.Members {
			r.managed[member] = base
		}
	}
	return r
}

// Resolve classifies target's requirements, recursively pulling in the
// requirements of any managed package it transitively depends on (a managed
// dependency may itself need packages absent from the distribution).
func (r *Resolver) Resolve(ctx context.Context, target string) (Info, error) {
	meta, ok := r.meta[target]
	if !ok || meta == nil {
		return Info{}, xerrors.Errorf("no parsed metadata for package %s", target)
	}

	info := Info{AUR: map[string]bool{}, Depend: map[string]bool{}}
	missing := map[string]bool{}

	g := simple.NewDirectedGraph()
	visited := map[string]int64{} // base -> graph node id
	nodeID := func(base string) int64 {
		if id, ok := visited[base]; ok {
			return id
		}
		id := int64(len(visited))
		visited[base] = id
		g.AddNode(simple.Node(id))
		return id
	}
	nodeID(target)

	queue := []string{target}
	for len(queue) > 0 {
		base := queue[0]
		queue = queue[1:]

		m := r.meta[base]
		if m == nil {
			continue
		}

		for _, dep := range m.Depends {
			if dep == target {
				// split packages list their own base under missing; stripped
				// per spec §4.6's "important detail".
				continue
			}
			if r.distro.Has(dep) {
				continue
			}

			if depBase, ok := r.managed[dep]; ok {
				if depBase == base {
					continue // dependency on a sibling split package member
				}
				info.Depend[depBase] = true
				_, seen := visited[depBase]
				g.SetEdge(g.NewEdge(simple.Node(visited[base]), simple.Node(nodeID(depBase))))
				if !seen {
					queue = append(queue, depBase)
				}
				continue
			}

			if r.mode == ModeLive && r.index != nil {
				if ctx.Err() != nil {
					return Info{}, ctx.Err()
				}
				if _, found, err := r.index.RepositoryURL(ctx, dep); err == nil && found {
					info.AUR[dep] = true
					continue
				}
			}

			missing[dep] = true
		}
	}

	for dep := range missing {
		info.Missing = append(info.Missing, dep)
	}

	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return Info{}, xerrors.Errorf("sorting dependency graph for %s: %w", target, err)
		}
		idToBase := make(map[int64]string, len(visited))
		for base, id := range visited {
			idToBase[id] = base
		}
		var cycle []string
		for _, n := range uo[0] {
			cycle = append(cycle, idToBase[n.ID()])
		}
		return Info{}, xerrors.Errorf("dependency cycle among managed packages: %v", cycle)
	}

	return info, nil
}
