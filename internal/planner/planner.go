// Package planner implements the retrieval planner (C5): a pure function
// deciding context-type priority from configured strategy, query lexicon,
// and optional store-returned planning signals.
package planner

import (
	"regexp"
	"strings"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/store"
)

// Decision is the planner's output for one query.
type Decision struct {
	Strategy         string
	Reason           string
	Priority         string // "memory", "resource", or "skill"
	IncludeResources bool
	IncludeSkills    bool
}

var tokenRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// RESOURCE_SIGNALS and SKILL_SIGNALS are the fixed lexicons the auto
// strategy falls back to when no planner signal dominates.
var resourceSignals = map[string]bool{
	"file": true, "path": true, "readme": true, "markdown": true,
	"resource": true, "code": true, "config": true, "api": true,
	"document": true, "docs": true, "documentation": true, "folder": true,
	"directory": true, "yaml": true, "json": true,
}

var skillSignals = map[string]bool{
	"how": true, "plan": true, "steps": true, "workflow": true,
	"playbook": true, "guide": true, "template": true, "skill": true,
	"strategy": true, "process": true, "tutorial": true, "procedure": true,
}

// planWeight maps a query_plan priority (1 highest) to a planner weight.
func planWeight(priority int) int {
	switch priority {
	case 1:
		return 5
	case 2:
		return 4
	case 3:
		return 3
	case 4:
		return 2
	default:
		return 1
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Decide computes a Decision from cfg, the raw query, whether a session key
// is present, and the store's plan/result signals (either may be nil).
func Decide(cfg config.Search, query string, hasSessionKey bool, plan *store.QueryPlan, results []store.QueryResult) Decision {
	switch cfg.Strategy {
	case config.StrategyMemoryFirst:
		return Decision{Strategy: string(cfg.Strategy), Reason: "configured-memory-first", Priority: "memory",
			IncludeResources: cfg.IncludeResources, IncludeSkills: cfg.IncludeSkills}
	case config.StrategyResourceFirst:
		return Decision{Strategy: string(cfg.Strategy), Reason: "configured-resource-first", Priority: "resource",
			IncludeResources: true, IncludeSkills: cfg.IncludeSkills}
	case config.StrategySkillFirst:
		return Decision{Strategy: string(cfg.Strategy), Reason: "configured-skill-first", Priority: "skill",
			IncludeResources: cfg.IncludeResources, IncludeSkills: true}
	}

	if d, ok := decideFromPlanner(cfg, plan, results, hasSessionKey); ok {
		return d
	}

	return decideFromLexicon(cfg, query, hasSessionKey)
}

func decideFromPlanner(cfg config.Search, plan *store.QueryPlan, results []store.QueryResult, hasSessionKey bool) (Decision, bool) {
	planWeights := map[string]int{}
	if plan != nil {
		for _, q := range plan.Queries {
			planWeights[q.ContextType] += planWeight(q.Priority)
		}
	}
	resultWeights := map[string]int{}
	for _, r := range results {
		resultWeights[r.ContextType] += clamp(r.MatchedContexts, 1, 5)
	}

	combined := map[string]int{}
	for k, v := range planWeights {
		combined[k] += v
	}
	for k, v := range resultWeights {
		combined[k] += v
	}

	dominant, ok := dominantKey(combined)
	if !ok {
		return Decision{}, false
	}

	source := "auto-planner-combined"
	if len(resultWeights) == 0 {
		source = "auto-planner-plan"
	} else if len(planWeights) == 0 {
		source = "auto-planner-results"
	}
	if hasSessionKey {
		source += "-session"
	}

	return Decision{
		Strategy:         string(config.StrategyAuto),
		Reason:           source,
		Priority:         dominant,
		IncludeResources: cfg.IncludeResources || combined["resource"] > 0,
		IncludeSkills:    cfg.IncludeSkills || combined["skill"] > 0,
	}, true
}

// dominantKey returns the unique strictly-greatest key, if any.
func dominantKey(weights map[string]int) (string, bool) {
	if len(weights) == 0 {
		return "", false
	}
	best := ""
	bestVal := -1
	tie := false
	for k, v := range weights {
		if v > bestVal {
			best, bestVal, tie = k, v, false
		} else if v == bestVal {
			tie = true
		}
	}
	if tie || bestVal <= 0 {
		return "", false
	}
	return best, true
}

func decideFromLexicon(cfg config.Search, query string, hasSessionKey bool) Decision {
	tokens := tokenRe.Split(strings.ToLower(query), -1)
	resourceHits, skillHits := 0, 0
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if resourceSignals[tok] {
			resourceHits++
		}
		if skillSignals[tok] {
			skillHits++
		}
	}

	var priority string
	switch {
	case resourceHits == 0 && skillHits == 0:
		priority = "memory"
	case resourceHits >= skillHits:
		priority = "resource"
	default:
		priority = "skill"
	}

	reason := "auto-lexical"
	if hasSessionKey {
		reason += "-session"
	}

	return Decision{
		Strategy:         string(config.StrategyAuto),
		Reason:           reason,
		Priority:         priority,
		IncludeResources: cfg.IncludeResources || resourceHits > 0,
		IncludeSkills:    cfg.IncludeSkills || skillHits > 0,
	}
}
