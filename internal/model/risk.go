package model

import "time"

// RiskLevel is the fixed severity scale written back to tracked identifiers
type RiskLevel string

const (
	RiskClear    RiskLevel = "CLEAR"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders levels; unknown levels rank below CLEAR
func (l RiskLevel) Rank() int {
	switch l {
	case RiskClear:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return -1
	}
}

// Score is the presentational integer shown by the UI
func (l RiskLevel) Score() int {
	switch l {
	case RiskLow:
		return 25
	case RiskMedium:
		return 50
	case RiskHigh:
		return 80
	case RiskCritical:
		return 100
	default:
		return 0
	}
}

// Max returns the more severe of two levels
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

// CertificateStatus is the state of a taxpayer's CSD/e.firma certificate
type CertificateStatus string

const (
	CertificateUnknown CertificateStatus = ""
	CertificateActive  CertificateStatus = "active"
	CertificateRevoked CertificateStatus = "revoked"
	CertificateExpired CertificateStatus = "expired"
)

// TrackedIdentifier is a watchlist company pair read from the externally owned table
type TrackedIdentifier struct {
	TaxpayerID string  `db:"rfc" json:"rfc"`
	EntityName *string `db:"razon_social" json:"razon_social,omitempty"`
}

// Name returns the display name or ""
func (t TrackedIdentifier) Name() string {
	return deref(t.EntityName)
}

// Findings is everything the resweep resolved for one identifier
type Findings struct {
	Art69BStatus    Status            `json:"art_69b_status,omitempty"` // most severe class-B status
	Art69Categories []Status          `json:"art_69_categories"`        // distinct sub-reasons, sorted
	Art69BisFound   bool              `json:"art_69_bis_found"`
	Art49BisFound   bool              `json:"art_49_bis_found"`
	Certificate     CertificateStatus `json:"certificate,omitempty"`
	Evidence        []EvidenceRecord  `json:"evidence,omitempty"`
}

// HasArt69 reports whether the sub-reason was found
func (f Findings) HasArt69(s Status) bool {
	for _, c := range f.Art69Categories {
		if c == s {
			return true
		}
	}
	return false
}

// RiskSnapshot is the full set of risk fields written for one identifier
type RiskSnapshot struct {
	TaxpayerID      string    `json:"rfc"`
	Level           RiskLevel `json:"risk_level"`
	Score           int       `json:"risk_score"`
	Art69BStatus    *Status   `json:"art_69b_status,omitempty"`
	Art69Categories []Status  `json:"art_69_categories"`
	Art69BisFound   bool      `json:"art_69_bis_found"`
	Art49BisFound   bool      `json:"art_49_bis_found"`
	ScreenedAt      time.Time `json:"last_screened_at"`
}

// Transition is a risk level change detected by a resweep
type Transition struct {
	CycleID    string    `json:"cycle_id"`
	TaxpayerID string    `json:"rfc"`
	EntityName string    `json:"razon_social,omitempty"`
	From       RiskLevel `json:"from"` // empty when never screened
	To         RiskLevel `json:"to"`
	Score      int       `json:"score"`
	At         time.Time `json:"at"`
}

// SweepCursor is the single-row progress record of the daily cycle
type SweepCursor struct {
	LastCompletedAt *time.Time `db:"last_completed_at" json:"last_completed_at,omitempty"`
	TotalFiles      int        `db:"total_files" json:"total_files"`
	TotalRows       int        `db:"total_rows" json:"total_rows"`
	LastBatch       int        `db:"last_batch" json:"last_batch"`
}

// SourceFreshness records when a source last landed records
type SourceFreshness struct {
	Source      Source    `db:"source" json:"source"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
	RowCount    int       `db:"row_count" json:"row_count"`
}

// Freshness is the health view of ingestion
type Freshness struct {
	Cursor  SweepCursor       `json:"cursor"`
	Sources []SourceFreshness `json:"sources"`
}
