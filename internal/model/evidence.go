package model

import "time"

// Source identifies the public system an evidence record was scraped from
type Source string

const (
	SourceDOF    Source = "dof"                // Diario Oficial de la Federación
	SourceSIDOF  Source = "sidof"              // SIDOF mirror of the DOF (SEGOB)
	SourceSAT    Source = "sat_datos_abiertos" // SAT open-data taxpayer lists
	SourceGaceta Source = "gaceta_diputados"   // Gaceta Parlamentaria
	SourceLeyes  Source = "leyes_federales"    // LeyesBiblio statute index
	SourceNews   Source = "news_api"           // NewsAPI (company news only, never evidence)
)

// EvidenceSources lists every source that writes evidence records, in batch-0 order
var EvidenceSources = []Source{SourceDOF, SourceSIDOF, SourceGaceta, SourceLeyes, SourceSAT}

// Article is the statutory category an evidence record falls under
type Article string

const (
	ArticleArt69B      Article = "art_69b"     // EFOS lists (alleged/confirmed/rebutted/favorable)
	ArticleArt69       Article = "art_69"      // non-compliant taxpayers, see Art69 categories
	ArticleArt69Bis    Article = "art_69_bis"  // transferred tax losses
	ArticleArt49Bis    Article = "art_49_bis"  // Art. 49 Bis
	ArticleLegislative Article = "legislative" // Gaceta Parlamentaria entries
	ArticleLawReform   Article = "law_reform"  // federal statute reforms
)

// ScreeningArticles are the categories the risk engine queries per identifier
var ScreeningArticles = []Article{ArticleArt69B, ArticleArt69, ArticleArt69Bis, ArticleArt49Bis}

// Status is the state or sub-reason attached to an evidence record
type Status string

const (
	// Art. 69-B list states
	StatusPresunto           Status = "presunto"
	StatusDefinitivo         Status = "definitivo"
	StatusDesvirtuado        Status = "desvirtuado"
	StatusSentenciaFavorable Status = "sentencia_favorable"
	StatusNotFound           Status = "not_found"

	// Art. 69 sub-reasons
	StatusCreditoFirme          Status = "credito_firme"
	StatusNoLocalizado          Status = "no_localizado"
	StatusCreditoCancelado      Status = "credito_cancelado"
	StatusSentenciaCondenatoria Status = "sentencia_condenatoria"
	StatusCSDSinEfectos         Status = "csd_sin_efectos"

	// Law reform states
	StatusReformaReciente Status = "reforma_reciente"
	StatusVigente         Status = "vigente"

	// Legislative stages
	StatusIniciativa      Status = "iniciativa"
	StatusDictamen        Status = "dictamen"
	StatusReformaAprobada Status = "reforma_aprobada"
	StatusMinuta          Status = "minuta"
	StatusComunicacion    Status = "comunicacion"
	StatusProposicion     Status = "proposicion"
	StatusPuntoDeAcuerdo  Status = "punto_de_acuerdo"
)

// StatusPtr returns a pointer to s, or nil for the empty status
func StatusPtr(s Status) *Status {
	if s == "" {
		return nil
	}
	return &s
}

// Field bounds applied before persistence
const (
	MaxEntityNameLen = 300
	MaxReasonLen     = 500
	MaxSnippetLen    = 1000
)

// EvidenceRecord is one normalized unit of regulatory evidence
type EvidenceRecord struct {
	ID              int64      `db:"id" json:"id,omitempty"`
	Source          Source     `db:"source" json:"source"`
	SourceURL       string     `db:"source_url" json:"source_url"`
	SecondaryURL    *string    `db:"secondary_url" json:"secondary_url,omitempty"` // canonical DOF link for mirrored notices
	TaxpayerID      *string    `db:"taxpayer_id" json:"taxpayer_id,omitempty"`     // RFC; nil when the document lists none
	EntityName      *string    `db:"entity_name" json:"entity_name,omitempty"`
	Article         Article    `db:"article" json:"article"`
	Status          *Status    `db:"status" json:"status,omitempty"`
	Category        *string    `db:"category" json:"category,omitempty"` // law code, or Art. 69 sub-reason copy
	ReferenceNumber *string    `db:"reference_number" json:"reference_number,omitempty"`
	Authority       string     `db:"authority" json:"authority"`
	ReasonText      string     `db:"reason_text" json:"reason_text"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at,omitempty"`
	IndexedAt       time.Time  `db:"indexed_at" json:"indexed_at"`
	LastSeenAt      time.Time  `db:"last_seen_at" json:"last_seen_at"`
	RawSnippet      string     `db:"raw_snippet" json:"raw_snippet,omitempty"`
}

// DedupKey identifies records that are the same observation within one batch
func (r EvidenceRecord) DedupKey() string {
	return string(r.Source) + "|" + r.SourceURL + "|" + deref(r.TaxpayerID) + "|" +
		string(r.Article) + "|" + string(derefStatus(r.Status)) + "|" + deref(r.Category)
}

// StatusValue returns the status or "" when absent
func (r EvidenceRecord) StatusValue() Status {
	return derefStatus(r.Status)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefStatus(s *Status) Status {
	if s == nil {
		return ""
	}
	return *s
}

// NewsArticle is a press mention of a tracked company
type NewsArticle struct {
	ID          int64      `db:"id" json:"id,omitempty"`
	TaxpayerID  *string    `db:"taxpayer_id" json:"rfc,omitempty"`
	EntityName  string     `db:"entity_name" json:"razon_social"`
	WatchlistID *int64     `db:"watchlist_id" json:"watchlist_id,omitempty"`
	Source      string     `db:"source" json:"source"`
	Title       string     `db:"title" json:"title"`
	URL         string     `db:"url" json:"url"`
	Summary     string     `db:"summary" json:"summary,omitempty"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	IndexedAt   time.Time  `db:"indexed_at" json:"indexed_at"`
}

// DedupKey is destination URL plus identifier (or name when no identifier)
func (n NewsArticle) DedupKey() string {
	who := deref(n.TaxpayerID)
	if who == "" {
		who = n.EntityName
	}
	return n.URL + "|" + who
}

// NewsTarget is a watchlist company searched in the press
type NewsTarget struct {
	TaxpayerID  *string `db:"rfc"`
	EntityName  string  `db:"razon_social"`
	WatchlistID *int64  `db:"watchlist_id"`
}
