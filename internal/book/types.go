// Package book defines core types shared across subsystems.
package book

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleSet describes how to locate chapter links, content blocks, and
// pagination links on a site. The XPath expressions are opaque to the engine;
// they are validated for non-emptiness and compilability only and interpreted
// by the Extractor collaborator.
type RuleSet struct {
	// ChapterXPath selects chapter links on a chapter-list page.
	ChapterXPath string `json:"chapter_xpath" mapstructure:"chapter_xpath"`
	// ContentXPath selects the content block(s) on a chapter page.
	ContentXPath string `json:"content_xpath" mapstructure:"content_xpath"`
	// ListPaginationXPath selects the "next page" link on a chapter-list
	// page. Empty means the chapter list is a single page.
	ListPaginationXPath string `json:"list_pagination_xpath,omitempty" mapstructure:"list_pagination_xpath"`
	// ContentPaginationXPath selects the "next page" link within a chapter.
	// Empty means chapters are single pages.
	ContentPaginationXPath string `json:"content_pagination_xpath,omitempty" mapstructure:"content_pagination_xpath"`
	// FilterPattern optionally re-derives chapter text as the concatenation
	// of this regular expression's matches.
	FilterPattern string `json:"filter_pattern,omitempty" mapstructure:"filter_pattern"`
	// Replacements are ordered (find, replace) pairs applied after filtering.
	Replacements []Replacement `json:"replacements,omitempty" mapstructure:"replacements"`
	// CaseSensitive switches replacement matching from the case-insensitive
	// default to exact matching.
	CaseSensitive bool `json:"case_sensitive,omitempty" mapstructure:"case_sensitive"`
}

// Replacement is a single ordered find/replace pair.
type Replacement struct {
	Find    string `json:"find" mapstructure:"find"`
	Replace string `json:"replace" mapstructure:"replace"`
}

// Validate enforces the minimal structural requirements on a rule set.
// XPath compilability is checked separately by the Extractor.
func (r RuleSet) Validate() error {
	if strings.TrimSpace(r.ChapterXPath) == "" {
		return errors.New("chapter_xpath is required")
	}
	if strings.TrimSpace(r.ContentXPath) == "" {
		return errors.New("content_xpath is required")
	}
	for i, rep := range r.Replacements {
		if rep.Find == "" {
			return fmt.Errorf("replacement %d: find string must not be empty", i)
		}
	}
	return nil
}

// ChapterRecord is one discovered content unit. Index is the 1-based
// insertion order from discovery; it defines reading order and is never
// re-sorted. Done is mutated only by the download scheduler.
type ChapterRecord struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Done     bool   `json:"done,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// WorkSnapshot is the persisted unit of the metadata store: one per work
// identity, carrying the rule set that produced it and the ordered chapter
// list.
type WorkSnapshot struct {
	Identity   string          `json:"identity"`
	DerivedKey string          `json:"derived_key"`
	MenuURL    string          `json:"menu_url"`
	Rules      RuleSet         `json:"rules"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Chapters   []ChapterRecord `json:"chapters"`
}

// Pending returns the chapters not yet marked complete, in ordinal order.
func (s WorkSnapshot) Pending() []ChapterRecord {
	var out []ChapterRecord
	for _, ch := range s.Chapters {
		if !ch.Done {
			out = append(out, ch)
		}
	}
	return out
}

// Page is the rendered document returned by a Renderer.
type Page struct {
	URL      string
	FinalURL string
	Body     []byte
}

// Link pairs a resolved address with its display text.
type Link struct {
	Href string
	Text string
}

// RunSummary reports end-of-run chapter counts for a download run.
type RunSummary struct {
	Fetched  int
	Skipped  int
	Failed   int
	Degraded int
}

// Total returns the number of chapters the run considered.
func (s RunSummary) Total() int {
	return s.Fetched + s.Skipped + s.Failed
}

func (s RunSummary) String() string {
	return fmt.Sprintf("fetched=%d skipped=%d failed=%d degraded=%d",
		s.Fetched, s.Skipped, s.Failed, s.Degraded)
}
