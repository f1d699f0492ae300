package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// RegistryType identifies which procurement registry a tender belongs to.
type RegistryType string

const (
	Registry44FZ  RegistryType = "44fz"
	Registry223FZ RegistryType = "223fz"
)

// ParseRegistryType validates a registry type string.
func ParseRegistryType(s string) (RegistryType, error) {
	switch RegistryType(s) {
	case Registry44FZ, Registry223FZ:
		return RegistryType(s), nil
	}
	return "", eris.Errorf("model: unknown registry type %q", s)
}

// TenderKind distinguishes the lifecycle stage of a tender.
type TenderKind string

const (
	TenderKindNew        TenderKind = "new"
	TenderKindWon        TenderKind = "won"
	TenderKindCommission TenderKind = "commission"
)

// TenderState tracks a tender through the processing pipeline.
type TenderState string

const (
	TenderStatePending          TenderState = "pending"
	TenderStateDownloading      TenderState = "downloading"
	TenderStateExtracting       TenderState = "extracting"
	TenderStateMatchingFiles    TenderState = "matching_files"
	TenderStatePersisting       TenderState = "persisting"
	TenderStateDone             TenderState = "done"
	TenderStateSkippedNoDocs    TenderState = "skipped_no_documents"
	TenderStateSkippedProcessed TenderState = "skipped_already_processed"
	TenderStateFailed           TenderState = "failed"
)

// TenderRef identifies a single tender to process.
type TenderRef struct {
	ID       int64        `json:"id"`
	Registry RegistryType `json:"registry_type"`
	Kind     TenderKind   `json:"kind"`
}

// FolderName returns the on-disk folder name for this tender's documents.
// Won tenders carry a suffix so a re-listed tender gets a fresh folder.
func (t TenderRef) FolderName() string {
	name := fmt.Sprintf("%s_%d", t.Registry, t.ID)
	if t.Kind == TenderKindWon {
		name += "_won"
	}
	return name
}

// Key returns the idempotency key for result persistence.
func (t TenderRef) Key() string {
	return fmt.Sprintf("%s:%d", t.Registry, t.ID)
}
