// Package pipeline applies the deterministic text transformation run on
// every fetched chapter: an optional regex filter, then an ordered list of
// string substitutions. Order is fixed and significant.
package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

type substitution struct {
	find    string
	pattern *regexp.Regexp
	replace string
}

// Pipeline is an immutable, reusable transformation compiled from a rule
// set. It is safe for concurrent use across download workers.
type Pipeline struct {
	filter *regexp.Regexp
	subs   []substitution
	logger *zap.Logger
}

// New compiles the filter and substitutions. An unparsable filter pattern or
// an empty find string is a configuration error, not something to discover
// chapter by chapter mid-run.
func New(rules book.RuleSet, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{logger: logger}

	if strings.TrimSpace(rules.FilterPattern) != "" {
		// (?ms) mirrors the multiline+dotall semantics the filter patterns
		// are written against.
		re, err := regexp.Compile("(?ms)" + rules.FilterPattern)
		if err != nil {
			return nil, fmt.Errorf("compile filter pattern: %w", err)
		}
		p.filter = re
	}

	for i, rep := range rules.Replacements {
		if rep.Find == "" {
			return nil, fmt.Errorf("replacement %d: find string must not be empty", i)
		}
		sub := substitution{find: rep.Find, replace: rep.Replace}
		if !rules.CaseSensitive {
			re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(rep.Find))
			if err != nil {
				return nil, fmt.Errorf("replacement %d: %w", i, err)
			}
			sub.pattern = re
		}
		p.subs = append(p.subs, sub)
	}

	return p, nil
}

// Process runs the filter, then the substitutions, in that order. A filter
// with zero matches is advisory: the raw text passes through unchanged with
// a warning.
func (p *Pipeline) Process(raw string) string {
	text := p.applyFilter(raw)
	for _, sub := range p.subs {
		if sub.pattern != nil {
			text = sub.pattern.ReplaceAllLiteralString(text, sub.replace)
		} else {
			text = strings.ReplaceAll(text, sub.find, sub.replace)
		}
	}
	return text
}

func (p *Pipeline) applyFilter(raw string) string {
	if p.filter == nil {
		return raw
	}
	matches := p.filter.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		p.logger.Warn("filter pattern matched nothing, passing content through unfiltered",
			zap.String("pattern", p.filter.String()))
		return raw
	}

	groups := p.filter.NumSubexp()
	var parts []string
	for _, m := range matches {
		var piece string
		switch {
		case groups == 1:
			piece = m[1]
		case groups > 1:
			// Several capture groups: keep the non-empty ones per match.
			var joined strings.Builder
			for _, g := range m[1:] {
				joined.WriteString(g)
			}
			piece = joined.String()
		default:
			piece = m[0]
		}
		piece = strings.TrimSpace(piece)
		if piece != "" {
			parts = append(parts, piece)
		}
	}
	if len(parts) == 0 {
		p.logger.Warn("filter pattern matched only empty text, passing content through unfiltered",
			zap.String("pattern", p.filter.String()))
		return raw
	}
	return strings.Join(parts, "\n")
}
