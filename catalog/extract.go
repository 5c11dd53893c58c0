package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/redshiftplayer/redshift-sync/logging"
)

// Extractor reads tag metadata from audio files.
type Extractor interface {
	Extract(path string) (TrackInfo, error)
}

// TagExtractor reads ID3/MP4/Vorbis tags from the file itself.
type TagExtractor struct{}

// Extract parses the file's tags.
func (TagExtractor) Extract(path string) (TrackInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return TrackInfo{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return TrackInfo{}, err
	}

	trackNo, _ := m.Track()
	return TrackInfo{
		Title:   strings.TrimSpace(m.Title()),
		Artist:  strings.TrimSpace(m.Artist()),
		Album:   strings.TrimSpace(m.Album()),
		Genre:   strings.TrimSpace(m.Genre()),
		Year:    m.Year(),
		TrackNo: trackNo,
	}, nil
}

// FallbackInfo derives minimal metadata from the filename when extraction
// fails. "Artist - Title.mp3" is split on the first separator; anything else
// becomes the title verbatim.
func FallbackInfo(path string) TrackInfo {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if artist, title, found := strings.Cut(base, " - "); found {
		return TrackInfo{
			Artist: strings.TrimSpace(artist),
			Title:  strings.TrimSpace(title),
		}
	}
	logging.Sub("extract").Debug("no separator in filename, using as title", "path", path)
	return TrackInfo{Title: base}
}
