// Package selector decides which of a tender's attached documents are worth
// downloading and in what order. Cost spreadsheets come first, split
// archives are grouped so only the first volume drives extraction, and
// duplicate listings collapse to one download.
package selector

import (
	"sort"
	"strings"

	"github.com/wanga1712/tendermatch/internal/archive"
	"github.com/wanga1712/tendermatch/internal/model"
)

// Document is one selected download. Part volumes beyond the first carry
// ExtractRoot=false: they are fetched but consumed during multi-part
// combination rather than extracted on their own.
type Document struct {
	Meta        model.DocumentMeta
	Group       string // multi-part group key, empty for standalone files
	Part        int
	ExtractRoot bool
}

// estimate documents get downloaded ahead of everything else.
var preferredNameHints = []string{"смета", "расчет", "расчёт", "спецификация", "ведомост"}

// Select filters a tender's document list down to parseable or extractable
// files, orders them most-promising first, and groups split archives.
// An empty result means the tender has nothing usable.
func Select(docs []model.DocumentMeta) []Document {
	seen := make(map[string]struct{})
	var picked []Document

	for _, doc := range docs {
		if !usable(doc) {
			continue
		}
		key := strings.ToLower(doc.FileName)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		sel := Document{Meta: doc, Part: 1, ExtractRoot: true}
		if info, ok := archive.ParseName(doc.FileName); ok {
			sel.Group = strings.ToLower(info.Base) + "." + info.Ext
			sel.Part = info.Part
		}
		picked = append(picked, sel)
	}

	// Within a multi-part group only the lowest-numbered volume is the
	// extraction root.
	rootPart := make(map[string]int)
	for _, d := range picked {
		if d.Group == "" {
			continue
		}
		if cur, ok := rootPart[d.Group]; !ok || d.Part < cur {
			rootPart[d.Group] = d.Part
		}
	}
	for i := range picked {
		if g := picked[i].Group; g != "" {
			picked[i].ExtractRoot = picked[i].Part == rootPart[g]
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		pi, pj := priority(picked[i].Meta), priority(picked[j].Meta)
		if pi != pj {
			return pi < pj
		}
		if picked[i].Group == picked[j].Group && picked[i].Group != "" {
			return picked[i].Part < picked[j].Part
		}
		return strings.ToLower(picked[i].Meta.FileName) < strings.ToLower(picked[j].Meta.FileName)
	})
	return picked
}

// usable reports whether the document could contain matchable content, by
// extension alone; content sniffing happens after download.
func usable(doc model.DocumentMeta) bool {
	switch doc.Ext() {
	case ".xlsx", ".xlsm", ".xls", ".docx", ".pdf", ".zip", ".rar", ".7z":
		return true
	}
	return false
}

// priority ranks a document for download ordering. Lower runs first.
func priority(doc model.DocumentMeta) int {
	rank := extRank(doc.Ext())
	name := strings.ToLower(doc.FileName)
	for _, hint := range preferredNameHints {
		if strings.Contains(name, hint) {
			return rank - 10
		}
	}
	return rank
}

func extRank(ext string) int {
	switch ext {
	case ".xlsx", ".xlsm":
		return 0
	case ".xls":
		return 1
	case ".zip", ".rar", ".7z":
		return 2
	case ".docx":
		return 3
	case ".pdf":
		return 4
	}
	return 5
}
