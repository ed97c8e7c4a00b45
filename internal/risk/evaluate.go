// Package risk resolves a taxpayer's evidence into findings and a fixed
// severity level, and resweeps every tracked identifier.
package risk

import (
	"sort"
	"strings"

	"github.com/ppiankov/vigia/internal/model"
)

// art69BRank orders class-B list states; higher is more severe
var art69BRank = map[model.Status]int{
	model.StatusSentenciaFavorable: 1,
	model.StatusDesvirtuado:        2,
	model.StatusPresunto:           3,
	model.StatusDefinitivo:         4,
}

// art69Levels maps Art. 69 sub-reasons to their level. Sub-reasons not
// listed here are LOW.
var art69Levels = map[model.Status]model.RiskLevel{
	model.StatusSentenciaCondenatoria: model.RiskCritical,
	model.StatusNoLocalizado:          model.RiskMedium,
	model.StatusCreditoFirme:          model.RiskLow,
	model.StatusCSDSinEfectos:         model.RiskLow,
	model.StatusCreditoCancelado:      model.RiskLow,
}

// Evaluate applies the severity table. The most severe finding wins; no
// numeric accumulation takes place.
func Evaluate(f model.Findings) model.RiskLevel {
	level := model.RiskClear

	switch f.Art69BStatus {
	case model.StatusDefinitivo, model.StatusPresunto:
		level = level.Max(model.RiskHigh)
	}
	if f.Art69BisFound || f.Art49BisFound {
		level = level.Max(model.RiskHigh)
	}
	for _, c := range f.Art69Categories {
		l, ok := art69Levels[c]
		if !ok {
			l = model.RiskLow
		}
		level = level.Max(l)
	}
	switch f.Certificate {
	case model.CertificateRevoked, model.CertificateExpired:
		level = level.Max(model.RiskLow)
	}
	return level
}

// Art69BStatusOf normalizes a class-B record's status. Blank and unknown
// states count as alleged; not_found is no finding.
func Art69BStatusOf(r model.EvidenceRecord) (model.Status, bool) {
	s := model.Status(strings.ToLower(strings.TrimSpace(string(r.StatusValue()))))
	if s == model.StatusNotFound {
		return "", false
	}
	if _, known := art69BRank[s]; !known {
		return model.StatusPresunto, true
	}
	return s, true
}

// Art69CategoryOf is the sub-reason of a class-A record: its category, else
// its status
func Art69CategoryOf(r model.EvidenceRecord) model.Status {
	raw := ""
	if r.Category != nil {
		raw = *r.Category
	}
	if strings.TrimSpace(raw) == "" {
		raw = string(r.StatusValue())
	}
	return model.Status(strings.ToLower(strings.TrimSpace(raw)))
}

// Resolve folds per-article evidence into findings
func Resolve(evidence map[model.Article][]model.EvidenceRecord) model.Findings {
	var f model.Findings

	best := 0
	for _, r := range evidence[model.ArticleArt69B] {
		s, ok := Art69BStatusOf(r)
		if !ok {
			continue
		}
		if rank := art69BRank[s]; rank > best {
			best = rank
			f.Art69BStatus = s
		}
	}

	seen := make(map[model.Status]bool)
	for _, r := range evidence[model.ArticleArt69] {
		c := Art69CategoryOf(r)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		f.Art69Categories = append(f.Art69Categories, c)
	}
	sort.Slice(f.Art69Categories, func(i, j int) bool { return f.Art69Categories[i] < f.Art69Categories[j] })

	f.Art69BisFound = len(evidence[model.ArticleArt69Bis]) > 0
	f.Art49BisFound = len(evidence[model.ArticleArt49Bis]) > 0

	for _, a := range model.ScreeningArticles {
		f.Evidence = append(f.Evidence, evidence[a]...)
	}
	return f
}
