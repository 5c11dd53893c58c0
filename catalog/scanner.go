package catalog

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// FileStat is one candidate audio file found during a walk.
type FileStat struct {
	Path    string // absolute
	RelPath string // root-relative, forward slashes
	Size    int64
	Mtime   time.Time
}

// Scanner walks a library subtree and returns every audio file matching the
// extension allowlist. Hidden files and directories are skipped. Walk and
// stat errors on individual entries are logged and skipped, never fatal.
type Scanner struct {
	fs         afero.Fs
	extensions map[string]struct{}
}

// NewScanner creates a Scanner over the given filesystem. Extensions are
// lowercase and dot-prefixed, e.g. ".mp3".
func NewScanner(fsys afero.Fs, extensions []string) *Scanner {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Scanner{fs: fsys, extensions: exts}
}

// Scan walks root and returns stats keyed by relative path.
func (s *Scanner) Scan(root string) (map[string]FileStat, error) {
	l := logging.Sub("scanner")
	l.Debug("scan start", "root", root)
	result := make(map[string]FileStat)

	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			l.Warn("scan walk error", "path", path, "err", err)
			return nil
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(info.Name()))
		if _, ok := s.extensions[ext]; !ok {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			l.Warn("scan rel error", "path", path, "err", err)
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		result[relPath] = FileStat{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			Mtime:   info.ModTime(),
		}
		return nil
	})

	l.Debug("scan complete", "root", root, "files", len(result))
	return result, err
}
