package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/store"
)

// countingExtractor records how many files it was asked to parse.
type countingExtractor struct {
	calls atomic.Int64
	fail  map[string]bool
}

func (c *countingExtractor) Extract(path string) (TrackInfo, error) {
	c.calls.Add(1)
	if c.fail[path] {
		return TrackInfo{}, errors.New("unreadable tags")
	}
	return TrackInfo{Title: "title of " + path, Artist: "someone"}, nil
}

func writeAudio(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

func setupCache(t *testing.T, fsys afero.Fs, ex Extractor) *Cache {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scanner := NewScanner(fsys, []string{".mp3", ".m4a", ".flac"})
	return NewCache(store.NewCacheStore(db), scanner, ex, nil, 50, 4)
}

func TestScanner_AllowlistAndHidden(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/Album/one.mp3", "a")
	writeAudio(t, fsys, "/lib/Album/two.M4A", "b") // extension match is case-insensitive
	writeAudio(t, fsys, "/lib/cover.jpg", "c")
	writeAudio(t, fsys, "/lib/.hidden.mp3", "d")
	writeAudio(t, fsys, "/lib/.git/three.mp3", "e")

	s := NewScanner(fsys, []string{".mp3", ".m4a"})
	stats, err := s.Scan("/lib")
	require.NoError(t, err)

	assert.Len(t, stats, 2)
	assert.Contains(t, stats, "Album/one.mp3")
	assert.Contains(t, stats, "Album/two.M4A")

	st := stats["Album/one.mp3"]
	assert.Equal(t, "/lib/Album/one.mp3", st.Path)
	assert.Equal(t, int64(1), st.Size)
}

func TestScanner_MissingRoot(t *testing.T) {
	s := NewScanner(afero.NewMemMapFs(), []string{".mp3"})
	stats, err := s.Scan("/nowhere")
	// Walk errors on individual entries are non-fatal.
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestCache_SecondScanExtractsNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/a.mp3", "aaa")
	writeAudio(t, fsys, "/lib/b.mp3", "bbb")

	ex := &countingExtractor{}
	c := setupCache(t, fsys, ex)

	files, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, int64(2), ex.calls.Load())

	// Nothing changed, so the second scan is served from the cache.
	files, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, int64(2), ex.calls.Load())
	assert.Equal(t, "title of /lib/a.mp3", files[0].Info.Title)
}

func TestCache_ProgressPerBatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeAudio(t, fsys, "/lib/"+name+".mp3", "x")
	}

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus[Progress]()
	ch := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(ch) })

	scanner := NewScanner(fsys, []string{".mp3"})
	c := NewCache(store.NewCacheStore(db), scanner, &countingExtractor{}, bus, 2, 2)

	_, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)

	// One event per batch boundary: five stale files in batches of two.
	var got []Progress
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	assert.Equal(t, []Progress{
		{Processed: 2, Total: 5},
		{Processed: 4, Total: 5},
		{Processed: 5, Total: 5},
	}, got)

	// An unchanged rescan has no stale batches and publishes nothing.
	_, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	assert.Empty(t, ch)
}

func TestCache_ChangedFileReExtracted(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/a.mp3", "aaa")
	writeAudio(t, fsys, "/lib/b.mp3", "bbb")

	ex := &countingExtractor{}
	c := setupCache(t, fsys, ex)

	_, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)

	// A size change invalidates the fingerprint for that file only.
	writeAudio(t, fsys, "/lib/a.mp3", "aaaa-longer")

	_, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	assert.Equal(t, int64(3), ex.calls.Load())
}

func TestCache_DeletedFilePruned(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/a.mp3", "aaa")
	writeAudio(t, fsys, "/lib/b.mp3", "bbb")

	ex := &countingExtractor{}
	c := setupCache(t, fsys, ex)

	_, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)

	require.NoError(t, fsys.Remove("/lib/b.mp3"))

	files, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.mp3", files[0].RelPath)
}

func TestCache_ExtractionFailureFallsBack(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/Daft Punk - Around the World.mp3", "x")

	ex := &countingExtractor{fail: map[string]bool{
		"/lib/Daft Punk - Around the World.mp3": true,
	}}
	c := setupCache(t, fsys, ex)

	files, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 1)

	// Failed extraction still yields an entry, derived from the filename.
	assert.Equal(t, "Daft Punk", files[0].Info.Artist)
	assert.Equal(t, "Around the World", files[0].Info.Title)

	// The fallback is cached like any other result.
	files, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(1), ex.calls.Load())
}

func TestCache_NaturalOrder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/track10.mp3", "x")
	writeAudio(t, fsys, "/lib/track2.mp3", "x")
	writeAudio(t, fsys, "/lib/track1.mp3", "x")

	c := setupCache(t, fsys, &countingExtractor{})
	files, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "track1.mp3", files[0].RelPath)
	assert.Equal(t, "track2.mp3", files[1].RelPath)
	assert.Equal(t, "track10.mp3", files[2].RelPath)
}

func TestCache_CanceledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/a.mp3", "x")

	c := setupCache(t, fsys, &countingExtractor{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scan(ctx, "/lib")
	require.ErrorIs(t, err, context.Canceled)
}

type recordingTagWriter struct {
	path string
	info TrackInfo
}

func (w *recordingTagWriter) WriteTags(path string, info TrackInfo) error {
	w.path, w.info = path, info
	return nil
}

func TestCache_UpdateTagsInvalidatesEntry(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeAudio(t, fsys, "/lib/a.mp3", "x")

	ex := &countingExtractor{}
	c := setupCache(t, fsys, ex)

	_, err := c.Scan(context.Background(), "/lib")
	require.NoError(t, err)

	w := &recordingTagWriter{}
	require.NoError(t, c.UpdateTags(w, "/lib/a.mp3", TrackInfo{Title: "New"}))
	assert.Equal(t, "/lib/a.mp3", w.path)

	// The dropped row forces re-extraction on the next scan.
	_, err = c.Scan(context.Background(), "/lib")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ex.calls.Load())
}

func TestFallbackInfo(t *testing.T) {
	info := FallbackInfo("/lib/Artist Name - Some Song.mp3")
	assert.Equal(t, "Artist Name", info.Artist)
	assert.Equal(t, "Some Song", info.Title)

	info = FallbackInfo("/lib/loose-file.flac")
	assert.Empty(t, info.Artist)
	assert.Equal(t, "loose-file", info.Title)
}

func TestTrackInfoRoundTrip(t *testing.T) {
	orig := TrackInfo{Title: "T", Artist: "A", Album: "B", Year: 2001, TrackNo: 7, Duration: 3 * time.Minute}
	blob, err := orig.Encode()
	require.NoError(t, err)
	got, err := DecodeTrackInfo(blob)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}
