package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCorrupted marks archives that could not be read. The caller is expected
// to force-delete the file and re-download it once.
var ErrCorrupted = eris.New("archive is corrupted")

// IsCorrupted reports whether err stems from a corrupted archive.
func IsCorrupted(err error) bool {
	return eris.Is(err, ErrCorrupted)
}

// maxNestingDepth bounds recursive extraction of archives inside archives.
const maxNestingDepth = 3

// Extract unpacks the archive at path into destDir and returns the extracted
// file paths. The format is sniffed from content, never from the extension.
func Extract(path, destDir string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "archive: create dest dir")
	}

	switch format {
	case FormatZIP:
		return extractZIP(path, destDir)
	case FormatRAR:
		return extractRAR(path, destDir)
	case Format7z:
		return extract7z(path, destDir)
	}
	return nil, eris.Wrapf(ErrCorrupted, "unrecognized archive content in %s", filepath.Base(path))
}

// ExtractAll unpacks the archive and recursively extracts any archives found
// inside it, each into an "extract_<base>" directory next to the nested
// archive. Returns every extracted non-archive file path.
func ExtractAll(path, destDir string) ([]string, error) {
	return extractRecursive(path, destDir, 0)
}

func extractRecursive(path, destDir string, depth int) ([]string, error) {
	if depth > maxNestingDepth {
		zap.L().Warn("archive nesting too deep, skipping",
			zap.String("path", path),
			zap.Int("depth", depth),
		)
		return nil, nil
	}

	extracted, err := Extract(path, destDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, p := range extracted {
		nested, err := IsArchive(p)
		if err != nil {
			zap.L().Warn("cannot sniff extracted file", zap.String("path", p), zap.Error(err))
			files = append(files, p)
			continue
		}
		if !nested {
			files = append(files, p)
			continue
		}

		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		nestedDir := filepath.Join(filepath.Dir(p), "extract_"+base)
		inner, err := extractRecursive(p, nestedDir, depth+1)
		if err != nil {
			// A broken nested archive should not sink the outer one.
			zap.L().Warn("nested archive extraction failed",
				zap.String("path", p),
				zap.Error(err),
			)
			continue
		}
		files = append(files, inner...)
	}
	return files, nil
}

func extractZIP(path, destDir string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(ErrCorrupted, "open zip %s: %v", filepath.Base(path), err)
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath, err := entryPath(destDir, f.Name)
		if err != nil {
			return extracted, err
		}
		rc, err := f.Open()
		if err != nil {
			return extracted, eris.Wrapf(ErrCorrupted, "open zip entry %s: %v", f.Name, err)
		}
		err = writeEntry(destPath, rc)
		rc.Close() //nolint:errcheck
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, destPath)
	}

	return extracted, nil
}

func extractRAR(path, destDir string) ([]string, error) {
	r, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(ErrCorrupted, "open rar %s: %v", filepath.Base(path), err)
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, eris.Wrapf(ErrCorrupted, "read rar %s: %v", filepath.Base(path), err)
		}
		if hdr.IsDir {
			continue
		}
		destPath, err := entryPath(destDir, hdr.Name)
		if err != nil {
			return extracted, err
		}
		if err := writeEntry(destPath, r); err != nil {
			return extracted, err
		}
		extracted = append(extracted, destPath)
	}

	return extracted, nil
}

func extract7z(path, destDir string) ([]string, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(ErrCorrupted, "open 7z %s: %v", filepath.Base(path), err)
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath, err := entryPath(destDir, f.Name)
		if err != nil {
			return extracted, err
		}
		rc, err := f.Open()
		if err != nil {
			return extracted, eris.Wrapf(ErrCorrupted, "open 7z entry %s: %v", f.Name, err)
		}
		err = writeEntry(destPath, rc)
		rc.Close() //nolint:errcheck
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, destPath)
	}

	return extracted, nil
}

// entryPath joins an archive member name onto destDir, rejecting traversal.
func entryPath(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("archive: illegal member path %q", name)
	}
	return destPath, nil
}

func writeEntry(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return eris.Wrap(err, "archive: create parent directory")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrap(err, "archive: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, r); err != nil {
		return eris.Wrapf(ErrCorrupted, "write %s: %v", filepath.Base(destPath), err)
	}
	return nil
}
