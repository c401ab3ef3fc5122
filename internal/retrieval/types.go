package retrieval

import (
	"github.com/joestump/memctl/internal/planner"
	"github.com/joestump/memctl/internal/store"
)

// Result is one emitted, ready-to-inject snippet.
type Result struct {
	Path      string
	StartLine int
	EndLine   int
	Score     float64
	Snippet   string
	Source    string // "direct" or "relation"
}

// Options narrows a single search call.
type Options struct {
	MaxResults *int
	MinScore   *float64
	SessionKey string
}

// candidate is a transient, per-search ranking candidate (§3 Ranking
// Candidate).
type candidate struct {
	kind           string // "memory", "resource", "skill"
	ctx            store.Context
	score          float64
	rank           float64
	origin         string // "direct" or "relation"
	relationFrom   string
	relationDepth  int
	relationReason string
}

// Explainability reports what the primary search/fallback actually did.
type Explainability struct {
	TypedQueries       []string
	ResultCount        int
	TopPlannerQueries  []store.PlannedQuery
	FallbackKind       string
	FallbackHits       int
}

// Layering reports the layered snippet assembly phase's behavior.
type Layering struct {
	RequestedLayer    string
	Entries           int
	SnippetChars      int
	InjectedChars     int
	PerLayerCounts    map[string]int
	TruncatedByBudget bool
}

// RelationExpansion reports phase F's numbers.
type RelationExpansion struct {
	Enabled             bool
	BoostApplied        bool
	MaxDepth            int
	MaxAnchors          int
	MaxExpandedEntries  int
	Anchors             int
	SeedAnchors         int
	RelationQueries     int
	DiscoveredURIs      int
}

// Ranking reports phase G's candidate-count funnel.
type Ranking struct {
	TotalCandidates     int
	DirectCandidates    int
	RelationCandidates  int
	FilteredCandidates  int
	SelectedCandidates  int
	EmittedCandidates   int
	DroppedByMaxEntries int
	DroppedByBudget     int
	SkippedEmptySnippet int
}

// Diagnostics is the per-(agentId,endpoint) snapshot recorded after every
// search, for dashboards and troubleshooting.
type Diagnostics struct {
	Explainability    Explainability
	Strategy          planner.Decision
	Layering          Layering
	RelationExpansion RelationExpansion
	Ranking           Ranking
}
