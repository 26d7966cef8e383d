package synth

import (
	"context"
	"strings"

	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/storage"
)

// expansion is a tree of relation paths: "books.reviews" and "books.tags"
// become books with children reviews and tags.
type expansion struct {
	name     string
	children []*expansion
}

func expansionTree(paths []string) []*expansion {
	var roots []*expansion
	for _, p := range paths {
		level := &roots
		for _, seg := range strings.Split(p, ".") {
			var node *expansion
			for _, n := range *level {
				if n.name == seg {
					node = n
					break
				}
			}
			if node == nil {
				node = &expansion{name: seg}
				*level = append(*level, node)
			}
			level = &node.children
		}
	}
	return roots
}

// expansionChecks returns one read check per entity reached by paths, in
// path order. Paths were checked against the graph by the validator.
func expansionChecks(e *entity.Compiled, paths []string) []Check {
	var checks []Check
	seen := map[string]bool{}
	for _, p := range paths {
		cur := e
		for _, seg := range strings.Split(p, ".") {
			r, ok := cur.Relation(seg)
			if !ok {
				break
			}
			cur = r.Target
			if !seen[cur.Name] {
				seen[cur.Name] = true
				checks = append(checks, check(cur, schema.OpRead))
			}
		}
	}
	return checks
}

// authorizeRead runs the checks of d, then the read checks of every
// entity an expansion of paths embeds.
func authorizeRead(ctx context.Context, d *Descriptor, e *entity.Compiled, paths []string) error {
	rc := policy.FromContext(ctx)
	if err := authorize(d.Auth, rc); err != nil {
		return err
	}
	return authorize(expansionChecks(e, paths), rc)
}

// expand embeds the requested relations into recs, one batched load per
// relation per level. Callers authorize the expansion with authorizeRead
// before any load.
func (s *Synthesizer) expand(ctx context.Context, e *entity.Compiled, recs []storage.Record, paths []string) error {
	if len(recs) == 0 || len(paths) == 0 {
		return nil
	}
	return s.expandLevel(ctx, e, recs, expansionTree(paths))
}

func (s *Synthesizer) expandLevel(ctx context.Context, e *entity.Compiled, recs []storage.Record, nodes []*expansion) error {
	for _, n := range nodes {
		r, ok := e.Relation(n.name)
		if !ok {
			continue
		}

		loaded, err := s.Store.Related(ctx, r, recs)
		if err != nil {
			return err
		}

		// Every embedded copy is expanded; Related batches by id.
		var next []storage.Record
		for _, rec := range recs {
			related := loaded[rec.ID()]
			if r.Many() {
				if related == nil {
					related = []storage.Record{}
				}
				rec[r.Name] = related
			} else if len(related) > 0 {
				rec[r.Name] = related[0]
			} else {
				rec[r.Name] = nil
			}
			next = append(next, related...)
		}

		if len(n.children) > 0 && len(next) > 0 {
			if err := s.expandLevel(ctx, r.Target, next, n.children); err != nil {
				return err
			}
		}
	}
	return nil
}
