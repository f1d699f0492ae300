package model

import "time"

// Result tiers persisted for a processed tender.
const (
	TierFull float64 = 100
	TierGood float64 = 85
	TierNone float64 = 0
)

// TierFor collapses a best match score into its persisted tier.
func TierFor(bestScore float64) float64 {
	switch {
	case bestScore >= TierFull:
		return TierFull
	case bestScore >= TierGood:
		return TierGood
	default:
		return TierNone
	}
}

// RowContext carries the quantity and cost columns found on a matched row.
type RowContext struct {
	Quantity  string `json:"quantity,omitempty"`
	UnitCost  string `json:"unit_cost,omitempty"`
	TotalCost string `json:"total_cost,omitempty"`
}

// MatchCandidate is one scored hit for a catalog product in a document.
type MatchCandidate struct {
	Product            string      `json:"product"`
	Score              float64     `json:"score"`
	FileName           string      `json:"file_name"`
	Sheet              string      `json:"sheet,omitempty"`
	CellAddress        string      `json:"cell_address,omitempty"`
	Row                int         `json:"row"`
	Column             int         `json:"column,omitempty"`
	MatchedText        string      `json:"matched_text"`
	IsAdditionalPhrase bool        `json:"is_additional_phrase"`
	RowContext         *RowContext `json:"row_context,omitempty"`
}

// ProcessingResult is the persisted outcome for one tender run.
type ProcessingResult struct {
	ID             int64            `json:"id,omitempty"`
	TenderID       int64            `json:"tender_id"`
	Registry       RegistryType     `json:"registry_type"`
	UserID         int64            `json:"user_id"`
	Tier           float64          `json:"tier"`
	MatchCount     int              `json:"match_count"`
	IsInteresting  bool             `json:"is_interesting"`
	ErrorReason    string           `json:"error_reason,omitempty"`
	FilesProcessed int              `json:"files_processed"`
	TotalBytes     int64            `json:"total_bytes"`
	ProcessingTime time.Duration    `json:"processing_time"`
	CompletedAt    time.Time        `json:"completed_at"`
	Matches        []MatchCandidate `json:"matches,omitempty"`
}

// Interesting reports whether a result should be flagged for review.
func (r ProcessingResult) Interesting() bool {
	return r.Tier >= TierGood && r.MatchCount > 0
}
