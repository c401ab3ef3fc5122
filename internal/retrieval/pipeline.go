// Package retrieval implements the read pipeline (C6): primary search,
// planning, context gathering with fallback, direct ranking, optional
// relation expansion, filter/sort, and budgeted layered snippet assembly.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/planner"
	"github.com/joestump/memctl/internal/store"
)

// storeClient is the subset of *store.Client the read pipeline needs.
type storeClient interface {
	Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error)
	Find(ctx context.Context, req store.SearchRequest) (store.SearchResult, error)
	Relations(ctx context.Context, uri string) ([]store.Relation, error)
	Read(ctx context.Context, uri string) (store.Content, error)
	Abstract(ctx context.Context, uri string) (store.Content, error)
	Overview(ctx context.Context, uri string) (store.Content, error)
}

// Pipeline runs complete retrievals for one agent's search configuration.
type Pipeline struct {
	cfg      config.Config
	client   storeClient
	registry *linkregistry.Registry

	mu          sync.Mutex
	diagnostics Diagnostics
}

// New builds a Pipeline.
func New(cfg config.Config, client storeClient, registry *linkregistry.Registry) *Pipeline {
	return &Pipeline{cfg: cfg, client: client, registry: registry}
}

// LastDiagnostics returns the most recent search's diagnostics snapshot.
func (p *Pipeline) LastDiagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diagnostics
}

// Search runs one complete retrieval for query and returns ordered,
// ready-to-inject snippets.
func (p *Pipeline) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if !p.cfg.Enabled {
		return nil, nil
	}

	search := p.cfg.Search

	limit := search.Limit
	if opts.MaxResults != nil {
		limit = min(*opts.MaxResults, search.Limit)
	}
	var scoreThreshold *float64
	if opts.MinScore != nil {
		scoreThreshold = opts.MinScore
	} else if search.HasScoreFloor {
		t := search.ScoreThreshold
		scoreThreshold = &t
	}

	var storeSessionID string
	if opts.SessionKey != "" {
		if link, ok, err := p.registry.Get(opts.SessionKey); err == nil && ok {
			storeSessionID = link.StoreSessionID
		}
	}

	req := store.SearchRequest{
		Query:          query,
		TargetURI:      search.TargetURI,
		SessionID:      storeSessionID,
		Limit:          limit,
		ScoreThreshold: scoreThreshold,
	}

	result, err := p.client.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	decision := planner.Decide(search, query, opts.SessionKey != "", result.QueryPlan, result.QueryResults)

	diag := Diagnostics{Strategy: decision, Layering: Layering{PerLayerCounts: map[string]int{}}}
	diag.Explainability.ResultCount = len(result.Memories) + len(result.Resources) + len(result.Skills)
	if result.QueryPlan != nil {
		for _, q := range result.QueryPlan.Queries {
			diag.Explainability.TypedQueries = append(diag.Explainability.TypedQueries, q.ContextType)
		}
		top := result.QueryPlan.Queries
		if len(top) > 5 {
			top = top[:5]
		}
		diag.Explainability.TopPlannerQueries = top
	}

	tagged := gatherContexts(result, decision)

	if len(tagged) == 0 {
		findResult, ferr := p.client.Find(ctx, req)
		if ferr == nil {
			tagged = gatherContexts(findResult, decision)
			diag.Explainability.FallbackKind = "find"
			diag.Explainability.FallbackHits = len(tagged)
		}
	}

	direct := rankDirect(tagged, decision.Priority)
	diag.Ranking.DirectCandidates = len(direct)

	var relation []candidate
	if search.RelationExpansion {
		relation, diag.RelationExpansion = p.expandRelations(ctx, direct, decision, result, search)
	}
	diag.Ranking.RelationCandidates = len(relation)

	all := append(append([]candidate{}, direct...), relation...)
	diag.Ranking.TotalCandidates = len(all)

	if opts.MinScore != nil {
		filtered := all[:0:0]
		for _, c := range all {
			if c.score >= *opts.MinScore {
				filtered = append(filtered, c)
			}
		}
		all = filtered
	}
	diag.Ranking.FilteredCandidates = len(all)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].rank != all[j].rank {
			return all[i].rank > all[j].rank
		}
		return all[i].score > all[j].score
	})

	hardLimit := max(1, min(limit, search.MaxEntries))
	dropped := 0
	if len(all) > hardLimit {
		dropped = len(all) - hardLimit
		all = all[:hardLimit]
	}
	diag.Ranking.DroppedByMaxEntries = dropped
	diag.Ranking.SelectedCandidates = len(all)

	rows, layering, ranking := p.assembleSnippets(ctx, all, search)
	diag.Layering = layering
	diag.Ranking.EmittedCandidates = ranking.EmittedCandidates
	diag.Ranking.DroppedByBudget = ranking.DroppedByBudget
	diag.Ranking.SkippedEmptySnippet = ranking.SkippedEmptySnippet

	p.mu.Lock()
	p.diagnostics = diag
	p.mu.Unlock()

	return rows, nil
}

func gatherContexts(result store.SearchResult, decision planner.Decision) []candidate {
	var out []candidate
	for _, m := range result.Memories {
		out = append(out, candidate{kind: "memory", ctx: m})
	}
	if decision.IncludeResources {
		for _, r := range result.Resources {
			out = append(out, candidate{kind: "resource", ctx: r})
		}
	}
	if decision.IncludeSkills {
		for _, s := range result.Skills {
			out = append(out, candidate{kind: "skill", ctx: s})
		}
	}
	return out
}

func bonus(kind, priority string) float64 {
	switch {
	case kind == priority:
		return 0.15
	case kind == "memory":
		return 0.05
	default:
		return 0
	}
}

func rankDirect(tagged []candidate, priority string) []candidate {
	out := make([]candidate, 0, len(tagged))
	for _, c := range tagged {
		score := 0.0
		if c.ctx.Score != nil {
			score = *c.ctx.Score
		}
		c.score = score
		c.rank = score + bonus(c.kind, priority)
		c.origin = "direct"
		out = append(out, c)
	}
	return out
}

