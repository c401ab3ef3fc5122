package planner

import (
	"strings"
	"testing"

	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/store"
)

func TestConfiguredStrategyFixesPriority(t *testing.T) {
	d := Decide(config.Search{Strategy: config.StrategyResourceFirst}, "anything", false, nil, nil)
	if d.Priority != "resource" {
		t.Fatalf("priority = %q", d.Priority)
	}
	if !strings.HasPrefix(d.Reason, "configured-") {
		t.Fatalf("reason = %q", d.Reason)
	}
	if !d.IncludeResources {
		t.Fatal("expected resource_first to force includeResources")
	}
}

func TestAutoStrategyPlannerOverride(t *testing.T) {
	plan := &store.QueryPlan{Queries: []store.PlannedQuery{
		{ContextType: "resource", Priority: 4},
		{ContextType: "skill", Priority: 1},
	}}
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "show config file documentation path", false, plan, nil)

	if d.Priority != "skill" {
		t.Fatalf("priority = %q, want skill", d.Priority)
	}
	if !strings.HasPrefix(d.Reason, "auto-planner-plan") {
		t.Fatalf("reason = %q", d.Reason)
	}
	if !d.IncludeResources || !d.IncludeSkills {
		t.Fatalf("IncludeResources=%v IncludeSkills=%v, want both true", d.IncludeResources, d.IncludeSkills)
	}
}

func TestAutoStrategyLexicalFallbackResourceWins(t *testing.T) {
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "where is the config file path", false, nil, nil)
	if d.Priority != "resource" {
		t.Fatalf("priority = %q, want resource", d.Priority)
	}
	if !d.IncludeResources {
		t.Fatal("expected includeResources true")
	}
}

func TestAutoStrategyLexicalFallbackSkillWins(t *testing.T) {
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "what is the workflow playbook for onboarding", false, nil, nil)
	if d.Priority != "skill" {
		t.Fatalf("priority = %q, want skill", d.Priority)
	}
}

func TestAutoStrategyLexicalTieGoesToResource(t *testing.T) {
	// "config" (resource) and "guide" (skill): one hit each -> tie -> resource.
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "config guide", false, nil, nil)
	if d.Priority != "resource" {
		t.Fatalf("priority = %q, want resource on tie", d.Priority)
	}
}

func TestAutoStrategyNoSignalsDefaultsMemory(t *testing.T) {
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "tell me about yesterday", false, nil, nil)
	if d.Priority != "memory" {
		t.Fatalf("priority = %q, want memory", d.Priority)
	}
}

func TestSessionKeyAppendsReasonSuffix(t *testing.T) {
	d := Decide(config.Search{Strategy: config.StrategyAuto}, "tell me about yesterday", true, nil, nil)
	if !strings.HasSuffix(d.Reason, "-session") {
		t.Fatalf("reason = %q, want -session suffix", d.Reason)
	}
}
