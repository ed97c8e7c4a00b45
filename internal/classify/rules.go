package classify

import (
	"strings"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

// noticeRules classify DOF/SIDOF notice titles. 69-B Bis must precede 69-B.
var noticeRules = []Rule{
	{"69-b bis", model.ArticleArt69Bis, ""},
	{"69 b bis", model.ArticleArt69Bis, ""},
	{"pérdidas fiscales", model.ArticleArt69Bis, ""},

	{"69-b", model.ArticleArt69B, ""},
	{"efos", model.ArticleArt69B, ""},
	{"operaciones presuntamente inexistentes", model.ArticleArt69B, ""},
	{"operaciones simuladas", model.ArticleArt69B, ""},
	{"operaciones inexistentes", model.ArticleArt69B, ""},

	{"49 bis", model.ArticleArt49Bis, ""},
	{"49-bis", model.ArticleArt49Bis, ""},

	{"artículo 69", model.ArticleArt69, ""},
	{"contribuyentes incumplidos", model.ArticleArt69, ""},
	{"no localizado", model.ArticleArt69, model.StatusNoLocalizado},
	{"crédito fiscal firme", model.ArticleArt69, model.StatusCreditoFirme},
	{"créditos fiscales", model.ArticleArt69, model.StatusCreditoFirme},
	{"sello digital", model.ArticleArt69, model.StatusCSDSinEfectos},
}

var noticeHints = []StatusHint{
	{"presunto", model.StatusPresunto},
	{"definitivo", model.StatusDefinitivo},
	{"desvirtuado", model.StatusDesvirtuado},
	{"sentencia favorable", model.StatusSentenciaFavorable},
	{"sentencias favorable", model.StatusSentenciaFavorable},
	{"sentencia condenatoria", model.StatusSentenciaCondenatoria},
	{"no localizado", model.StatusNoLocalizado},
	{"cancelado", model.StatusCreditoCancelado},
	{"firme", model.StatusCreditoFirme},
}

// fileRules classify SAT open-data download labels
var fileRules = []Rule{
	{"definitivo", model.ArticleArt69B, model.StatusDefinitivo},
	{"presunto", model.ArticleArt69B, model.StatusPresunto},
	{"desvirtuado", model.ArticleArt69B, model.StatusDesvirtuado},
	{"sentencia favorable", model.ArticleArt69B, model.StatusSentenciaFavorable},
	{"sentencias favorable", model.ArticleArt69B, model.StatusSentenciaFavorable},
	{"listado completo", model.ArticleArt69B, ""},

	{"listado global", model.ArticleArt69Bis, model.StatusDefinitivo},
	{"69-b bis", model.ArticleArt69Bis, ""},

	{"firme", model.ArticleArt69, model.StatusCreditoFirme},
	{"no localizado", model.ArticleArt69, model.StatusNoLocalizado},
	{"cancelado", model.ArticleArt69, model.StatusCreditoCancelado},
	{"sentencia", model.ArticleArt69, model.StatusSentenciaCondenatoria},
	{"exigible", model.ArticleArt69, model.StatusCreditoFirme},
	{"csd sin efecto", model.ArticleArt69, ""},
	{"entes públicos", model.ArticleArt69, ""},
	{"gobierno omisos", model.ArticleArt69, ""},
	{"omisos", model.ArticleArt69, ""},
	{"retorno", model.ArticleArt69, ""},
	{"inversiones", model.ArticleArt69, ""},
	{"condonado", model.ArticleArt69, model.StatusCreditoCancelado},
	{"concurso mercantil", model.ArticleArt69, model.StatusCreditoCancelado},
	{"146b", model.ArticleArt69, model.StatusCreditoCancelado},
	{"por decreto", model.ArticleArt69, model.StatusCreditoCancelado},
	{"146a", model.ArticleArt69, model.StatusCreditoCancelado},
	{"reducción de multa", model.ArticleArt69, model.StatusCreditoCancelado},
	{"reducción de recargo", model.ArticleArt69, model.StatusCreditoCancelado},
	{"artículo 74", model.ArticleArt69, model.StatusCreditoCancelado},
	{"artículo 21", model.ArticleArt69, model.StatusCreditoCancelado},
}

// stageRules classify Gaceta Parlamentaria titles
var stageRules = []Rule{
	{"dictamen", model.ArticleLegislative, model.StatusDictamen},
	{"decreto", model.ArticleLegislative, model.StatusReformaAprobada},
	{"reforma", model.ArticleLegislative, model.StatusReformaAprobada},
	{"minuta", model.ArticleLegislative, model.StatusMinuta},
	{"iniciativa", model.ArticleLegislative, model.StatusIniciativa},
	{"comunicación", model.ArticleLegislative, model.StatusComunicacion},
	{"proposición", model.ArticleLegislative, model.StatusProposicion},
	{"punto de acuerdo", model.ArticleLegislative, model.StatusPuntoDeAcuerdo},
}

// rowStatusHints normalize the free-text status column of SAT lists
var rowStatusHints = []StatusHint{
	{"sentencia favorable", model.StatusSentenciaFavorable},
	{"sentencias favorable", model.StatusSentenciaFavorable},
	{"sentencia condenatoria", model.StatusSentenciaCondenatoria},
	{"desvirtuado", model.StatusDesvirtuado},
	{"definitivo", model.StatusDefinitivo},
	{"presunto", model.StatusPresunto},
	{"no localizado", model.StatusNoLocalizado},
	{"cancelado", model.StatusCreditoCancelado},
	{"firme", model.StatusCreditoFirme},
	{"exigible", model.StatusCreditoFirme},
}

// Notices classifies gazette notice titles; unmatched titles are Art. 69-B
func Notices() *Classifier {
	return New(noticeRules, noticeHints, model.ArticleArt69B, "")
}

// OpenDataFiles classifies SAT download labels; unmatched labels are Art. 69-B
func OpenDataFiles() *Classifier {
	return New(fileRules, nil, model.ArticleArt69B, "")
}

// LegislativeStages classifies Gaceta titles; unmatched titles are initiatives
func LegislativeStages() *Classifier {
	return New(stageRules, nil, model.ArticleLegislative, model.StatusIniciativa)
}

var rowStatuses = New(nil, rowStatusHints, "", "")

// RowStatus maps a list's status cell to the status vocabulary. Unknown text
// is kept as a lower snake_case token so nothing is silently dropped.
func RowStatus(text string) model.Status {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if s := rowStatuses.StatusOf(text); s != "" {
		return s
	}
	return model.Status(strings.Join(strings.Fields(util.Fold(text)), "_"))
}

// NoticeKeywords pre-filter gazette links before any detail fetch
var NoticeKeywords = []string{
	"SAT", "69-B", "69 BIS", "EFOS", "operaciones presuntamente inexistentes",
	"contribuyentes publicados", "artículo 69", "artículo 69-B", "SHCP", "Hacienda",
	"incumplido", "no localizado", "crédito fiscal", "pérdidas fiscales",
	"49 bis", "facturación", "operaciones simuladas", "sello digital",
}

// FiscalKeywords pre-filter legislative entries
var FiscalKeywords = []string{
	"SAT", "fiscal", "CFF", "69-B", "contribuyente", "EFOS",
	"SHCP", "tributari", "impuesto", "recaudaci", "Hacienda",
	"código fiscal", "facturación", "evasión", "defraudación",
	"operaciones simuladas", "operaciones inexistentes",
	"lavado de dinero", "procedencia ilícita",
	"ISR", "IVA", "IEPS", "aduaner", "contrabando",
	"69 bis", "49 bis", "artículo 69", "artículo 49",
}

// MatchesAny reports whether text contains any keyword, ignoring case and accents
func MatchesAny(text string, keywords []string) bool {
	t := util.Fold(text)
	for _, kw := range keywords {
		if strings.Contains(t, util.Fold(kw)) {
			return true
		}
	}
	return false
}
