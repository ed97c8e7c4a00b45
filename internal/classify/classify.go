// Package classify maps free-text notice titles and download labels to an
// article category and optional status using ordered keyword rules.
package classify

import (
	"strings"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

// Rule assigns an article (and optionally a status) when Keyword occurs in the text
type Rule struct {
	Keyword string
	Article model.Article
	Status  model.Status // empty leaves the status to the hints
}

// StatusHint infers a status when the winning rule did not pin one
type StatusHint struct {
	Keyword string
	Status  model.Status
}

// Result is the outcome of classification; Status is nil when none was inferred
type Result struct {
	Article model.Article
	Status  *model.Status
}

// Classifier is an ordered rule list. The first matching rule wins, so specific
// keywords must come before the general ones they contain.
type Classifier struct {
	rules          []Rule
	hints          []StatusHint
	defaultArticle model.Article
	defaultStatus  model.Status
}

// New builds a classifier; keywords are folded once here
func New(rules []Rule, hints []StatusHint, defaultArticle model.Article, defaultStatus model.Status) *Classifier {
	c := &Classifier{
		rules:          make([]Rule, len(rules)),
		hints:          make([]StatusHint, len(hints)),
		defaultArticle: defaultArticle,
		defaultStatus:  defaultStatus,
	}
	for i, r := range rules {
		r.Keyword = util.Fold(r.Keyword)
		c.rules[i] = r
	}
	for i, h := range hints {
		h.Keyword = util.Fold(h.Keyword)
		c.hints[i] = h
	}
	return c
}

// Classify is pure and total: every input yields exactly one result
func (c *Classifier) Classify(text string) Result {
	t := util.Fold(text)

	res := Result{Article: c.defaultArticle}
	var status model.Status

	for _, r := range c.rules {
		if r.Keyword != "" && strings.Contains(t, r.Keyword) {
			res.Article = r.Article
			status = r.Status
			break
		}
	}

	if status == "" {
		status = c.StatusOf(t)
	}
	if status == "" {
		status = c.defaultStatus
	}
	res.Status = model.StatusPtr(status)
	return res
}

// StatusOf returns the first hinted status found in text, or ""
func (c *Classifier) StatusOf(text string) model.Status {
	t := util.Fold(text)
	for _, h := range c.hints {
		if h.Keyword != "" && strings.Contains(t, h.Keyword) {
			return h.Status
		}
	}
	return ""
}

// Rules returns a copy of the ordered rules
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
