package model

import (
	"path/filepath"
	"strings"
)

// DocumentMeta describes a tender attachment as listed in the registry.
type DocumentMeta struct {
	ID        int64  `json:"id"`
	TenderID  int64  `json:"tender_id"`
	FileName  string `json:"file_name"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

// Ext returns the lowercased file extension, including the dot.
func (d DocumentMeta) Ext() string {
	return strings.ToLower(filepath.Ext(d.FileName))
}

// DownloadOrigin records how a local file came to exist.
type DownloadOrigin string

const (
	OriginFreshDownload DownloadOrigin = "fresh_download"
	OriginExisting      DownloadOrigin = "existing_on_disk"
	OriginPrefetch      DownloadOrigin = "prefetch"
	OriginRedownload    DownloadOrigin = "re_download"
)

// DownloadRecord tracks one locally materialized document.
type DownloadRecord struct {
	Doc     DocumentMeta   `json:"doc"`
	Path    string         `json:"path"`
	Origin  DownloadOrigin `json:"origin"`
	Retries int            `json:"retries"`
}

// WorkbookFile is one spreadsheet-like file queued for matching.
type WorkbookFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// WorkbookSet is the canonicalized set of files to match for one tender.
// Files are deduplicated by resolved path, so the same on-disk workbook
// reached twice (a re-walk, a symlinked directory) is processed once while
// distinct files that happen to share a name and size both survive.
type WorkbookSet struct {
	TenderDir string         `json:"tender_dir"`
	Files     []WorkbookFile `json:"files"`
	Dropped   int            `json:"dropped,omitempty"`
}

// Add appends a file unless one at the same resolved path is already
// present. Duplicates are counted in Dropped and reported as false.
func (w *WorkbookSet) Add(f WorkbookFile) bool {
	key := canonicalPath(f.Path)
	for _, have := range w.Files {
		if canonicalPath(have.Path) == key {
			w.Dropped++
			return false
		}
	}
	w.Files = append(w.Files, f)
	return true
}

// canonicalPath resolves symlinks and relative segments so two routes to
// the same file compare equal. Resolution failures leave the path as-is.
func canonicalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}
