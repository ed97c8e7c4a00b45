package risk

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		f    model.Findings
		want model.RiskLevel
	}{
		{"nothing", model.Findings{}, model.RiskClear},
		{"definitivo", model.Findings{Art69BStatus: model.StatusDefinitivo}, model.RiskHigh},
		{"presunto", model.Findings{Art69BStatus: model.StatusPresunto}, model.RiskHigh},
		{"desvirtuado", model.Findings{Art69BStatus: model.StatusDesvirtuado}, model.RiskClear},
		{"sentencia favorable", model.Findings{Art69BStatus: model.StatusSentenciaFavorable}, model.RiskClear},
		{"69-B Bis", model.Findings{Art69BisFound: true}, model.RiskHigh},
		{"49 Bis", model.Findings{Art49BisFound: true}, model.RiskHigh},
		{"condena", model.Findings{Art69Categories: []model.Status{model.StatusSentenciaCondenatoria}}, model.RiskCritical},
		{"no localizado", model.Findings{Art69Categories: []model.Status{model.StatusNoLocalizado}}, model.RiskMedium},
		{"firme", model.Findings{Art69Categories: []model.Status{model.StatusCreditoFirme}}, model.RiskLow},
		{"csd", model.Findings{Art69Categories: []model.Status{model.StatusCSDSinEfectos}}, model.RiskLow},
		{"cancelado", model.Findings{Art69Categories: []model.Status{model.StatusCreditoCancelado}}, model.RiskLow},
		{"unknown sub-reason", model.Findings{Art69Categories: []model.Status{"retorno_de_inversiones"}}, model.RiskLow},
		{"revoked certificate", model.Findings{Certificate: model.CertificateRevoked}, model.RiskLow},
		{"expired certificate", model.Findings{Certificate: model.CertificateExpired}, model.RiskLow},
		{"active certificate", model.Findings{Certificate: model.CertificateActive}, model.RiskClear},
		{"confirmed B dominates firm debt", model.Findings{
			Art69BStatus:    model.StatusDefinitivo,
			Art69Categories: []model.Status{model.StatusCreditoFirme},
		}, model.RiskHigh},
		{"condena dominates everything", model.Findings{
			Art69BStatus:    model.StatusDefinitivo,
			Art69BisFound:   true,
			Art69Categories: []model.Status{model.StatusNoLocalizado, model.StatusSentenciaCondenatoria},
		}, model.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.f))
		})
	}
}

func TestResolve(t *testing.T) {
	ev := map[model.Article][]model.EvidenceRecord{
		model.ArticleArt69B: {
			{Status: model.StatusPtr(model.StatusDesvirtuado)},
			{Status: model.StatusPtr(model.StatusDefinitivo)},
			{Status: model.StatusPtr(model.StatusPresunto)},
		},
		model.ArticleArt69: {
			{Status: model.StatusPtr(model.StatusNoLocalizado)},
			{Category: util.StrPtr("CREDITO_FIRME"), Status: model.StatusPtr(model.StatusCreditoFirme)},
			{Status: model.StatusPtr(model.StatusNoLocalizado)},
			{},
		},
		model.ArticleArt49Bis: {{}},
	}

	f := Resolve(ev)
	assert.Equal(t, model.StatusDefinitivo, f.Art69BStatus, "most severe, not latest")
	assert.Equal(t, []model.Status{model.StatusCreditoFirme, model.StatusNoLocalizado}, f.Art69Categories)
	assert.False(t, f.Art69BisFound)
	assert.True(t, f.Art49BisFound)
	assert.Len(t, f.Evidence, 8)
}

func TestArt69BStatusOf(t *testing.T) {
	s, ok := Art69BStatusOf(model.EvidenceRecord{})
	assert.True(t, ok)
	assert.Equal(t, model.StatusPresunto, s, "blank counts as alleged")

	s, ok = Art69BStatusOf(model.EvidenceRecord{Status: model.StatusPtr("en_revision")})
	assert.True(t, ok)
	assert.Equal(t, model.StatusPresunto, s)

	s, ok = Art69BStatusOf(model.EvidenceRecord{Status: model.StatusPtr(" Definitivo ")})
	assert.True(t, ok)
	assert.Equal(t, model.StatusDefinitivo, s)

	_, ok = Art69BStatusOf(model.EvidenceRecord{Status: model.StatusPtr(model.StatusNotFound)})
	assert.False(t, ok)
}

// catalog holds one record per kind of finding the property draws from
var catalog = []struct {
	article model.Article
	rec     model.EvidenceRecord
}{
	{model.ArticleArt69B, model.EvidenceRecord{Status: model.StatusPtr(model.StatusDefinitivo)}},
	{model.ArticleArt69B, model.EvidenceRecord{Status: model.StatusPtr(model.StatusPresunto)}},
	{model.ArticleArt69B, model.EvidenceRecord{Status: model.StatusPtr(model.StatusDesvirtuado)}},
	{model.ArticleArt69B, model.EvidenceRecord{Status: model.StatusPtr(model.StatusSentenciaFavorable)}},
	{model.ArticleArt69B, model.EvidenceRecord{Status: model.StatusPtr(model.StatusNotFound)}},
	{model.ArticleArt69B, model.EvidenceRecord{}},
	{model.ArticleArt69, model.EvidenceRecord{Status: model.StatusPtr(model.StatusSentenciaCondenatoria)}},
	{model.ArticleArt69, model.EvidenceRecord{Status: model.StatusPtr(model.StatusNoLocalizado)}},
	{model.ArticleArt69, model.EvidenceRecord{Status: model.StatusPtr(model.StatusCreditoFirme)}},
	{model.ArticleArt69, model.EvidenceRecord{Category: util.StrPtr("credito_cancelado")}},
	{model.ArticleArt69Bis, model.EvidenceRecord{}},
	{model.ArticleArt49Bis, model.EvidenceRecord{}},
}

func evidenceOf(picks []int) map[model.Article][]model.EvidenceRecord {
	ev := make(map[model.Article][]model.EvidenceRecord)
	for _, p := range picks {
		c := catalog[p]
		ev[c.article] = append(ev[c.article], c.rec)
	}
	return ev
}

func TestEvaluate_MonotonicProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	pick := gen.IntRange(0, len(catalog)-1)

	properties.Property("adding evidence never lowers the level", prop.ForAll(
		func(base []int, extra int) bool {
			before := Evaluate(Resolve(evidenceOf(base)))
			after := Evaluate(Resolve(evidenceOf(append(append([]int{}, base...), extra))))
			return after.Rank() >= before.Rank()
		},
		gen.SliceOf(pick),
		pick,
	))

	properties.Property("evidence order does not matter", prop.ForAll(
		func(picks []int) bool {
			reversed := make([]int, len(picks))
			for i, p := range picks {
				reversed[len(picks)-1-i] = p
			}
			return Evaluate(Resolve(evidenceOf(picks))) == Evaluate(Resolve(evidenceOf(reversed)))
		},
		gen.SliceOf(pick),
	))

	properties.TestingRun(t)
}
