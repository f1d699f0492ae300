package archive

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// partNameRe parses archive file names with an optional part suffix:
// "смета.part2.rar", "docs_3.zip", "архив 2.7z". The base is the name with
// the part marker stripped.
var partNameRe = regexp.MustCompile(`(?i)^(.+?)(?:[._ -]*(?:part)?(\d+))?\.(rar|zip|7z)$`)

// PartInfo describes one parsed archive file name.
type PartInfo struct {
	Base string // name without part suffix or extension
	Part int    // 1 when no part suffix is present
	Ext  string // lowercased extension without dot
}

// ParseName parses an archive file name. ok is false when the name does not
// carry an archive extension.
func ParseName(name string) (PartInfo, bool) {
	m := partNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return PartInfo{}, false
	}
	info := PartInfo{
		Base: m[1],
		Part: 1,
		Ext:  strings.ToLower(m[3]),
	}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			info.Part = n
		}
	}
	return info, true
}

// GroupParts buckets archive paths by their multi-part base, each group
// sorted by part number. Single archives form one-element groups.
func GroupParts(paths []string) map[string][]string {
	type entry struct {
		path string
		part int
	}
	groups := make(map[string][]entry)
	for _, p := range paths {
		info, ok := ParseName(p)
		if !ok {
			continue
		}
		key := strings.ToLower(info.Base) + "." + info.Ext
		groups[key] = append(groups[key], entry{path: p, part: info.Part})
	}

	out := make(map[string][]string, len(groups))
	for key, entries := range groups {
		sort.Slice(entries, func(i, j int) bool { return entries[i].part < entries[j].part })
		paths := make([]string, len(entries))
		for i, e := range entries {
			paths[i] = e.path
		}
		out[key] = paths
	}
	return out
}

// CombineMultiPart concatenates split archive volumes, in the given order,
// into a single file next to the first part. Returns the combined path.
// The volumes must already be sorted by part number.
func CombineMultiPart(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", eris.New("archive: no parts to combine")
	}
	if len(paths) == 1 {
		return paths[0], nil
	}

	first := paths[0]
	info, ok := ParseName(first)
	if !ok {
		return "", eris.Errorf("archive: %q is not an archive name", first)
	}
	combined := filepath.Join(filepath.Dir(first), info.Base+"_combined."+info.Ext)

	out, err := os.Create(combined)
	if err != nil {
		return "", eris.Wrap(err, "archive: create combined file")
	}
	defer out.Close() //nolint:errcheck

	for _, p := range paths {
		in, err := os.Open(p)
		if err != nil {
			os.Remove(combined)
			return "", eris.Wrapf(err, "archive: open part %s", p)
		}
		_, err = io.Copy(out, in)
		in.Close() //nolint:errcheck
		if err != nil {
			os.Remove(combined)
			return "", eris.Wrapf(err, "archive: append part %s", p)
		}
	}

	return combined, nil
}
