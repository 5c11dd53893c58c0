package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openAt(filepath.Join(t.TempDir(), "test-sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{
		"cache_entries", "transferred_files", "sync_sessions",
		"songs", "playlists", "playlist_tracks", "paired_devices", "meta",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	var version string
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sync.db")

	db1, err := openAt(dbPath)
	require.NoError(t, err)
	db1.Close()

	db2, err := openAt(dbPath)
	require.NoError(t, err)
	db2.Close()
}

func TestCacheStore_UpsertAndFingerprint(t *testing.T) {
	s := NewCacheStore(setupTestDB(t))

	require.NoError(t, s.Upsert(CacheEntry{
		Path: "/music/a.mp3", Size: 100, MtimeNS: 1000, Metadata: `{"title":"A"}`,
	}))

	e, err := s.Get("/music/a.mp3")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(100), e.Size)
	assert.Equal(t, int64(1000), e.MtimeNS)
	created := e.CreatedAt

	// Upsert with a new fingerprint replaces size/mtime but keeps created.
	require.NoError(t, s.Upsert(CacheEntry{
		Path: "/music/a.mp3", Size: 200, MtimeNS: 2000, Metadata: `{"title":"A2"}`,
	}))
	e, err = s.Get("/music/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(200), e.Size)
	assert.Equal(t, `{"title":"A2"}`, e.Metadata)
	assert.Equal(t, created, e.CreatedAt)
}

func TestCacheStore_GetMissing(t *testing.T) {
	s := NewCacheStore(setupTestDB(t))
	e, err := s.Get("/nope.mp3")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCacheStore_Prune(t *testing.T) {
	s := NewCacheStore(setupTestDB(t))
	require.NoError(t, s.Upsert(CacheEntry{Path: "/music/a.mp3", Size: 1, MtimeNS: 1, Metadata: "{}"}))
	require.NoError(t, s.Upsert(CacheEntry{Path: "/music/b.mp3", Size: 1, MtimeNS: 1, Metadata: "{}"}))

	removed, err := s.Prune(map[string]struct{}{"/music/a.mp3": {}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransferStore_MarkAndHashLookup(t *testing.T) {
	s := NewTransferStore(setupTestDB(t))

	require.NoError(t, s.Mark(TransferRecord{
		RelPath: "Album/song.mp3", Hash: "abc123", Size: 10, MtimeNS: 5, Method: "usb",
	}))

	r, err := s.Get("Album/song.mp3")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, StatusTransferred, r.Status)
	assert.NotZero(t, r.TransferredAt)

	known, err := s.HashKnown("abc123")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = s.HashKnown("other")
	require.NoError(t, err)
	assert.False(t, known)

	// Empty hashes never match anything.
	known, err = s.HashKnown("")
	require.NoError(t, err)
	assert.False(t, known)

	// A record whose remote copy vanished no longer vouches for the hash.
	require.NoError(t, s.SetStatus("Album/song.mp3", StatusMissingRemote))
	known, err = s.HashKnown("abc123")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestTransferStore_SetStatusAndDelete(t *testing.T) {
	s := NewTransferStore(setupTestDB(t))
	require.NoError(t, s.Mark(TransferRecord{RelPath: "x.mp3", Hash: "h", Method: "usb"}))

	require.NoError(t, s.SetStatus("x.mp3", StatusMissingRemote))
	r, err := s.Get("x.mp3")
	require.NoError(t, err)
	assert.Equal(t, StatusMissingRemote, r.Status)

	require.NoError(t, s.Delete("x.mp3"))
	r, err = s.Get("x.mp3")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestSessionStore_AppendAndRecent(t *testing.T) {
	s := NewSessionStore(setupTestDB(t))

	require.NoError(t, s.Append(SyncSession{
		ID: "s1", StartedAt: 100, Method: "usb", FilesQueued: 3, FilesTransferred: 2,
		TotalBytes: 999, DurationMS: 50, Errors: []string{"x.mp3: rejected"},
	}))
	require.NoError(t, s.Append(SyncSession{ID: "s2", StartedAt: 200, Method: "wifi"}))

	recent, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s2", recent[0].ID, "newest first")
	assert.Equal(t, []string{"x.mp3: rejected"}, recent[1].Errors)
	assert.Empty(t, recent[0].Errors)
}

func TestSongStore_RecordPlay(t *testing.T) {
	s := NewSongStore(setupTestDB(t))

	require.NoError(t, s.RecordPlay("/music/a.mp3", 1000))
	require.NoError(t, s.RecordPlay("/music/a.mp3", 2000))

	song, err := s.Get("/music/a.mp3")
	require.NoError(t, err)
	require.NotNil(t, song)
	assert.Equal(t, 2, song.PlayCount)
	assert.Equal(t, int64(2000), song.LastPlayedNS)
}

func TestPlaylistStore_CreateAndGetByName(t *testing.T) {
	s := NewPlaylistStore(setupTestDB(t))

	id, err := s.Create(Playlist{
		Name: "Road Trip", ModifiedNS: 400, SyncEnabled: true,
		Tracks: []string{"/m/a.mp3", "/m/b.mp3"},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	// Lookup is case-insensitive: name is the merge identity.
	p, err := s.GetByName("road trip")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Road Trip", p.Name)
	assert.Equal(t, []string{"/m/a.mp3", "/m/b.mp3"}, p.Tracks)
}

func TestPlaylistStore_ReplaceTracks(t *testing.T) {
	s := NewPlaylistStore(setupTestDB(t))
	id, err := s.Create(Playlist{Name: "Mix", ModifiedNS: 100, Tracks: []string{"/m/a.mp3"}})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceTracks(id, []string{"/m/c.mp3", "/m/d.mp3"}, 500))

	p, err := s.GetByName("Mix")
	require.NoError(t, err)
	assert.Equal(t, []string{"/m/c.mp3", "/m/d.mp3"}, p.Tracks)
	assert.Equal(t, int64(500), p.ModifiedNS)
}

func TestPlaylistStore_DeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	s := NewPlaylistStore(db)
	id, err := s.Create(Playlist{Name: "Gone", Tracks: []string{"/m/a.mp3"}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?", id).Scan(&n))
	assert.Zero(t, n)
}

func TestDeviceStore_SaveGetDelete(t *testing.T) {
	s := NewDeviceStore(setupTestDB(t))

	require.NoError(t, s.Save(PairedDevice{
		UDID: "00008110-X", Name: "Kim's iPhone", AuthToken: "tok", LANAddress: "http://10.0.0.2:8765",
	}))

	d, err := s.Get("00008110-X")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "tok", d.AuthToken)
	assert.NotZero(t, d.PairedAt)

	require.NoError(t, s.Delete("00008110-X"))
	d, err = s.Get("00008110-X")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeviceStore_Touch(t *testing.T) {
	s := NewDeviceStore(setupTestDB(t))
	require.NoError(t, s.Save(PairedDevice{UDID: "00008110-X", AuthToken: "tok"}))

	require.NoError(t, s.Touch("00008110-X", 12345))
	d, err := s.Get("00008110-X")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, int64(12345), d.LastSeenNS)

	// Touching an unknown device is a no-op, not an error.
	require.NoError(t, s.Touch("never-paired", 12345))
}
