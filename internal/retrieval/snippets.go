package retrieval

import (
	"context"
	"strconv"

	"github.com/joestump/memctl/internal/config"
)

func (p *Pipeline) fetchAbstract(ctx context.Context, c candidate) string {
	if c.ctx.Abstract != "" {
		return c.ctx.Abstract
	}
	if c.ctx.MatchReason != "" {
		return c.ctx.MatchReason
	}
	res, err := p.client.Abstract(ctx, c.ctx.URI)
	if err != nil {
		return ""
	}
	return res.Text
}

func (p *Pipeline) fetchOverview(ctx context.Context, c candidate) string {
	if c.ctx.Overview != "" {
		return c.ctx.Overview
	}
	res, err := p.client.Overview(ctx, c.ctx.URI)
	if err != nil {
		return ""
	}
	return res.Text
}

func (p *Pipeline) fetchRead(ctx context.Context, c candidate) string {
	res, err := p.client.Read(ctx, c.ctx.URI)
	if err != nil {
		return ""
	}
	return res.Text
}

// resolveLayer picks the content layer driven by readLayer, falling back
// through the other layers as described in §4.6 phase H.1, preferring
// fields already present on the candidate's context over extra HTTP calls.
func (p *Pipeline) resolveLayer(ctx context.Context, c candidate, search config.Search) (layer, text string) {
	switch search.ReadLayer {
	case config.LayerFull:
		if t := p.fetchRead(ctx, c); t != "" {
			return "l2", t
		}
		if t := p.fetchOverview(ctx, c); t != "" {
			return "l1", t
		}
		return "l0", p.fetchAbstract(ctx, c)

	case config.LayerOverview:
		if t := p.fetchOverview(ctx, c); t != "" {
			return "l1", t
		}
		if t := p.fetchAbstract(ctx, c); t != "" {
			return "l0", t
		}
		return "l2", p.fetchRead(ctx, c)

	case config.LayerAbstract:
		if t := p.fetchAbstract(ctx, c); t != "" {
			return "l0", t
		}
		if t := p.fetchOverview(ctx, c); t != "" {
			return "l1", t
		}
		return "l2", p.fetchRead(ctx, c)

	default: // progressive
		threshold := max(40, search.MaxSnippetChars/6)
		overview := p.fetchOverview(ctx, c)
		if len(overview) >= threshold {
			return "l1", overview
		}
		abstract := p.fetchAbstract(ctx, c)
		if len(abstract) >= threshold {
			return "l0", abstract
		}
		if read := p.fetchRead(ctx, c); read != "" {
			return "l2", read
		}
		if len(overview) >= len(abstract) && overview != "" {
			return "l1", overview
		}
		if abstract != "" {
			return "l0", abstract
		}
		return "progressive", ""
	}
}

func trimTo(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// trimWithEllipsis trims text to max chars, appending "..." when max allows
// at least 4 characters of room for it.
func trimWithEllipsis(text string, max int) string {
	if len(text) <= max {
		return text
	}
	if max >= 4 {
		return text[:max-3] + "..."
	}
	if max <= 0 {
		return ""
	}
	return text[:max]
}

// assembleSnippets implements phase H: layer resolution, snippet trimming,
// origin-tagging, and budget-aware truncation.
func (p *Pipeline) assembleSnippets(ctx context.Context, selected []candidate, search config.Search) ([]Result, Layering, Ranking) {
	layering := Layering{RequestedLayer: string(search.ReadLayer), PerLayerCounts: map[string]int{}}
	ranking := Ranking{}

	remaining := search.MaxInjectedChars
	var rows []Result

	for i, c := range selected {
		layer, text := p.resolveLayer(ctx, c, search)
		text = trimTo(text, search.MaxSnippetChars)

		if search.RelationExpansion {
			prefix := "[direct-hit] "
			if c.origin == "relation" {
				prefix = "[relation-expanded d" + strconv.Itoa(c.relationDepth) + " from " + c.relationFrom + "] "
			}
			text = trimTo(prefix+text, search.MaxSnippetChars)
		}

		if text == "" {
			ranking.SkippedEmptySnippet++
			continue
		}

		if remaining <= 0 {
			layering.TruncatedByBudget = true
			ranking.DroppedByBudget = len(selected) - i
			break
		}

		if len(text) > remaining {
			text = trimWithEllipsis(text, remaining)
			if text == "" {
				layering.TruncatedByBudget = true
				ranking.DroppedByBudget = len(selected) - i
				break
			}
		}

		rows = append(rows, Result{
			Path:      c.ctx.URI,
			StartLine: 1,
			EndLine:   1,
			Score:     c.score,
			Snippet:   text,
			Source:    c.origin,
		})
		remaining -= len(text)
		layering.Entries++
		layering.SnippetChars += len(text)
		layering.InjectedChars += len(text)
		layering.PerLayerCounts[layer]++
		ranking.EmittedCandidates++
	}

	return rows, layering, ranking
}
