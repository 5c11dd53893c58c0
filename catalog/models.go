// Package catalog maintains the incremental library cache: scanning the
// library subtree, fingerprinting files by (size, mtime), and persisting
// extracted tags so unchanged files are never re-parsed.
package catalog

import (
	"encoding/json"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// TrackInfo is the extracted tag metadata for one audio file. Zero values
// mean the tag was absent.
type TrackInfo struct {
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album"`
	Genre    string        `json:"genre,omitempty"`
	Year     int           `json:"year,omitempty"`
	TrackNo  int           `json:"trackNo,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Encode serializes the info for the cache blob column.
func (t TrackInfo) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTrackInfo parses a cache blob back into TrackInfo.
func DecodeTrackInfo(blob string) (TrackInfo, error) {
	var t TrackInfo
	err := json.Unmarshal([]byte(blob), &t)
	return t, err
}

// LibraryFile is the scan-time projection of one audio file: the cache row
// plus the live filesystem stat. It is derived each scan, never persisted.
type LibraryFile struct {
	Path    string    // absolute
	RelPath string    // root-relative, forward slashes
	Size    int64
	Mtime   time.Time
	Info    TrackInfo
	Hash    string // sha256, empty until computed on demand
}

// Progress is published once per extraction batch boundary.
type Progress struct {
	Processed int
	Total     int
}

// TagWriter writes tag updates back to an audio file. The byte-level tag
// format is someone else's problem; the cache only invalidates the entry
// after a successful write.
type TagWriter interface {
	WriteTags(path string, info TrackInfo) error
}
