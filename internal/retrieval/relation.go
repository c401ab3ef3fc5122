package retrieval

import (
	"context"
	"strings"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/planner"
	"github.com/joestump/memctl/internal/store"
)

type anchor struct {
	uri   string
	score float64
	kind  string
}

// inferKind guesses a context kind from a store uri's path, used for
// planner-seeded anchors that have no direct search hit to tag them.
func inferKind(uri string) string {
	switch {
	case strings.Contains(uri, "/skills/"):
		return "skill"
	case strings.Contains(uri, "/session/"), strings.Contains(uri, "/memories/"):
		return "memory"
	default:
		return "resource"
	}
}

// expandRelations implements phase F: anchor selection, budgeted BFS over
// C1.relations, and relation-origin candidate scoring.
func (p *Pipeline) expandRelations(ctx context.Context, direct []candidate, decision planner.Decision, searchResult store.SearchResult, search config.Search) ([]candidate, RelationExpansion) {
	diag := RelationExpansion{Enabled: true}
	diag.BoostApplied = search.RelationPriorityBudgetBoost && decision.Priority != "memory"

	maxDepth := search.RelationMaxDepth
	maxAnchors := search.RelationMaxAnchors
	maxExpandedEntries := search.RelationMaxExpandedEntries
	if diag.BoostApplied {
		maxDepth += search.RelationPriorityDepthBonus
		maxAnchors += search.RelationPriorityAnchorsBonus
		maxExpandedEntries += search.RelationPriorityExpandedBonus
	}
	diag.MaxDepth, diag.MaxAnchors, diag.MaxExpandedEntries = maxDepth, maxAnchors, maxExpandedEntries

	directURIs := map[string]bool{}
	ranked := append([]candidate{}, direct...)
	// Search passes direct in gather order (rankDirect does not sort), so
	// order it rank-then-score here before picking anchors.
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].rank > ranked[i].rank || (ranked[j].rank == ranked[i].rank && ranked[j].score > ranked[i].score) {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}

	var anchors []anchor
	seen := map[string]bool{}
	for _, c := range ranked {
		directURIs[c.ctx.URI] = true
		if len(anchors) >= maxAnchors || seen[c.ctx.URI] {
			continue
		}
		seen[c.ctx.URI] = true
		anchors = append(anchors, anchor{uri: c.ctx.URI, score: c.score, kind: c.kind})
	}
	diag.Anchors = len(anchors)

	if len(anchors) < maxAnchors && searchResult.QueryPlan != nil {
		for _, q := range searchResult.QueryPlan.Queries {
			for _, dir := range q.TargetDirectories {
				if len(anchors) >= maxAnchors {
					break
				}
				if seen[dir] || directURIs[dir] {
					continue
				}
				seen[dir] = true
				anchors = append(anchors, anchor{uri: dir, score: search.RelationSeedAnchorScore, kind: inferKind(dir)})
				diag.SeedAnchors++
				diag.Anchors++
			}
		}
	}

	queryLimit := max(maxAnchors, maxExpandedEntries*maxDepth)
	discovered := map[string]candidate{}
	queries := 0

	for _, a := range anchors {
		if queries >= queryLimit || len(discovered) >= maxExpandedEntries {
			break
		}
		frontier := []string{a.uri}
		for depth := 1; depth <= maxDepth; depth++ {
			if queries >= queryLimit || len(discovered) >= maxExpandedEntries || len(frontier) == 0 {
				break
			}
			var next []string
			for _, u := range frontier {
				if queries >= queryLimit {
					break
				}
				rels, err := p.client.Relations(ctx, u)
				queries++
				if err != nil {
					continue
				}
				for _, rel := range rels {
					if directURIs[rel.URI] {
						continue
					}
					if len(discovered) >= maxExpandedEntries {
						if _, ok := discovered[rel.URI]; !ok {
							continue
						}
					}
					score := a.score - float64(depth)*0.12 - 0.08
					if score < 0 {
						score = 0
					}
					candKind := inferKind(rel.URI)
					rank := score + bonus(candKind, decision.Priority) - 0.25 - float64(depth)*0.05
					cand := candidate{
						kind: candKind, ctx: store.Context{URI: rel.URI},
						score: score, rank: rank, origin: "relation",
						relationFrom: a.uri, relationDepth: depth, relationReason: rel.Reason,
					}
					if existing, ok := discovered[rel.URI]; !ok || cand.rank > existing.rank {
						discovered[rel.URI] = cand
					}
					next = append(next, rel.URI)
				}
			}
			frontier = next
		}
	}

	diag.RelationQueries = queries
	diag.DiscoveredURIs = len(discovered)

	out := make([]candidate, 0, len(discovered))
	for _, c := range discovered {
		out = append(out, c)
	}
	return out, diag
}
