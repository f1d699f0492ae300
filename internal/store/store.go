// Package store persists tender processing outcomes. A result row keyed by
// (tender_id, registry_type) is the unit of idempotency: once present, the
// tender is done and later runs skip it.
package store

import (
	"context"
	"time"

	"github.com/wanga1712/tendermatch/internal/model"
)

// TenderFilter narrows which tenders a run picks up.
type TenderFilter struct {
	Registry model.RegistryType `json:"registry_type,omitempty"`
	Kind     model.TenderKind   `json:"kind,omitempty"`
	UserID   int64              `json:"user_id,omitempty"`
	IDs      []int64            `json:"ids,omitempty"`
	// Unprocessed excludes tenders that already have a result row.
	Unprocessed bool `json:"unprocessed,omitempty"`
	Limit       int  `json:"limit,omitempty"`
}

// RunStats aggregates persisted results for the status command.
type RunStats struct {
	TotalResults   int           `json:"total_results"`
	Interesting    int           `json:"interesting"`
	Errored        int           `json:"errored"`
	TotalMatches   int           `json:"total_matches"`
	AvgProcessTime time.Duration `json:"avg_process_time"`
}

// Store is the persistence interface of the matching pipeline.
type Store interface {
	// Tenders and documents
	ListTenders(ctx context.Context, filter TenderFilter) ([]model.TenderRef, error)
	GetDocuments(ctx context.Context, tender model.TenderRef) ([]model.DocumentMeta, error)
	ImportDocuments(ctx context.Context, registry model.RegistryType, docs []model.DocumentMeta) (int64, error)

	// Catalog
	GetCatalog(ctx context.Context) ([]string, error)

	// Results
	IsProcessed(ctx context.Context, tender model.TenderRef) (bool, error)
	// GetResults bulk-loads existing result IDs for the given tender IDs
	// in one query, so a run can pre-check a whole batch at once.
	GetResults(ctx context.Context, registry model.RegistryType, ids []int64) (map[int64]int64, error)
	SaveResult(ctx context.Context, res *model.ProcessingResult) (int64, error)
	SaveMatchDetails(ctx context.Context, resultID int64, matches []model.MatchCandidate) error
	AverageProcessingTime(ctx context.Context) (time.Duration, error)
	Stats(ctx context.Context) (RunStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
