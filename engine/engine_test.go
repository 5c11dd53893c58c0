package engine

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/store"
)

// harness is the shared engine test fixture: a real library root on disk, a
// real database, and the stores the engine composes.
type harness struct {
	root      string
	cache     *catalog.Cache
	transfers *store.TransferStore
	playlists *store.PlaylistStore
	songs     *store.SongStore
	sessions  *store.SessionStore
	analyzer  *Analyzer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scanner := catalog.NewScanner(afero.NewOsFs(), []string{".mp3"})
	cache := catalog.NewCache(store.NewCacheStore(db), scanner, catalog.TagExtractor{}, nil, 50, 4)
	transfers := store.NewTransferStore(db)

	return &harness{
		root:      root,
		cache:     cache,
		transfers: transfers,
		playlists: store.NewPlaylistStore(db),
		songs:     store.NewSongStore(db),
		sessions:  store.NewSessionStore(db),
		analyzer:  NewAnalyzer(cache, transfers, root),
	}
}

func (h *harness) writeFile(t *testing.T, relPath, content string) {
	t.Helper()
	p := filepath.Join(h.root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// fakeTransport scripts push/pull behavior for engine tests.
type fakeTransport struct {
	mu       sync.Mutex
	pushed   []string          // remote paths of confirmed pushes
	failWith map[string]error  // remote base name -> push error
	manifest []byte            // served on manifest pulls, nil means no manifest
	listing  []device.RemoteFile
	listErr  error             // returned by ListDirectory when set
	pulls    map[string][]byte // remote path -> content

	enterOnce sync.Once
	entered   chan struct{} // closed on first push when set
	release   chan struct{} // first push blocks on this when set
}

func (f *fakeTransport) Name() string { return "usb" }

func (f *fakeTransport) PushFile(_ context.Context, _, remotePath string) error {
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[path.Base(remotePath)]; ok {
		return err
	}
	f.pushed = append(f.pushed, remotePath)
	return nil
}

func (f *fakeTransport) PullFile(_ context.Context, remotePath, localPath string) error {
	if remotePath == manifestName {
		if f.manifest == nil {
			return errors.New("manifest not found")
		}
		return os.WriteFile(localPath, f.manifest, 0o644)
	}
	f.mu.Lock()
	data, ok := f.pulls[remotePath]
	f.mu.Unlock()
	if !ok {
		return errors.New("no such remote file")
	}
	return os.WriteFile(localPath, data, 0o644)
}

// ListDirectory returns the scripted listing plus everything pushed so far,
// the way a real device's music directory would look.
func (f *fakeTransport) ListDirectory(context.Context, string) ([]device.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]device.RemoteFile(nil), f.listing...)
	for _, p := range f.pushed {
		out = append(out, device.RemoteFile{Name: path.Base(p)})
	}
	return out, nil
}

func (f *fakeTransport) QueryDeviceInfo(context.Context) (device.Info, error) {
	return device.Info{}, nil
}

func (f *fakeTransport) pushedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed...)
}
