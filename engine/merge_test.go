package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redshiftplayer/redshift-sync/store"
)

// memSource is an in-memory ReplicaSource.
type memSource struct {
	replica  Replica
	fetchErr error
	pushed   *Replica
}

func (s *memSource) Fetch(context.Context) (Replica, error) {
	return s.replica, s.fetchErr
}

func (s *memSource) Push(_ context.Context, r Replica) error {
	s.pushed = &r
	return nil
}

func TestMerger_MetadataArithmetic(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.songs.Upsert(store.Song{
		Path: "/lib/Album/Song.mp3", Title: "Song",
		PlayCount: 3, LastPlayedNS: 1000, Favorite: false, Rating: 0,
	}))

	src := &memSource{replica: Replica{Tracks: []RemoteTrackState{{
		Filename: "song.mp3", PlayCount: 2, LastPlayedNS: 5000, Favorite: true, Rating: 4,
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	merged, err := m.MergeMetadata(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	got, err := h.songs.Get("/lib/Album/Song.mp3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.PlayCount, "play counts add")
	assert.Equal(t, int64(5000), got.LastPlayedNS, "last played takes the max")
	assert.True(t, got.Favorite, "favorite is a monotonic OR")
	assert.Equal(t, 4, got.Rating, "rating takes the max")
}

func TestMerger_MetadataLocalWins(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.songs.Upsert(store.Song{
		Path: "/lib/a.mp3", PlayCount: 1, LastPlayedNS: 9000, Favorite: true, Rating: 5,
	}))

	src := &memSource{replica: Replica{Tracks: []RemoteTrackState{{
		Filename: "a.mp3", PlayCount: 0, LastPlayedNS: 100, Favorite: false, Rating: 2,
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	_, err := m.MergeMetadata(context.Background(), src.replica)
	require.NoError(t, err)

	got, err := h.songs.Get("/lib/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlayCount)
	assert.Equal(t, int64(9000), got.LastPlayedNS)
	assert.True(t, got.Favorite)
	assert.Equal(t, 5, got.Rating)
}

func TestMerger_MetadataUnknownTrackSkipped(t *testing.T) {
	h := newHarness(t)
	src := &memSource{replica: Replica{Tracks: []RemoteTrackState{{
		Filename: "nobody-has-this.mp3", PlayCount: 7,
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	merged, err := m.MergeMetadata(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Zero(t, merged)
}

func TestMerger_PlaylistImport(t *testing.T) {
	h := newHarness(t)
	src := &memSource{replica: Replica{Playlists: []RemotePlaylist{{
		ID: "r1", Name: "Workout", ModifiedNS: 700, Tracks: []string{"a.mp3", "b.mp3"},
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	changed, err := m.MergePlaylists(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	p, err := h.playlists.GetByName("workout")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, p.Tracks)
	assert.Equal(t, "r1", p.RemoteID)
	assert.Equal(t, int64(700), p.ModifiedNS)
}

func TestMerger_PlaylistNewerDeviceWins(t *testing.T) {
	h := newHarness(t)
	_, err := h.playlists.Create(store.Playlist{
		Name: "Road Trip", ModifiedNS: 400, Tracks: []string{"/lib/local.mp3"},
	})
	require.NoError(t, err)

	src := &memSource{replica: Replica{Playlists: []RemotePlaylist{{
		Name: "road trip", ModifiedNS: 500, Tracks: []string{"device.mp3"},
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	changed, err := m.MergePlaylists(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// The device copy is strictly newer: track list replaced wholesale.
	p, err := h.playlists.GetByName("Road Trip")
	require.NoError(t, err)
	assert.Equal(t, []string{"device.mp3"}, p.Tracks)
	assert.Equal(t, int64(500), p.ModifiedNS)
}

func TestMerger_PlaylistOlderDeviceIgnored(t *testing.T) {
	h := newHarness(t)
	_, err := h.playlists.Create(store.Playlist{
		Name: "Road Trip", ModifiedNS: 400, Tracks: []string{"/lib/local.mp3"},
	})
	require.NoError(t, err)

	src := &memSource{replica: Replica{Playlists: []RemotePlaylist{{
		Name: "Road Trip", ModifiedNS: 300, Tracks: []string{"device.mp3"},
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	changed, err := m.MergePlaylists(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Zero(t, changed)

	p, err := h.playlists.GetByName("Road Trip")
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib/local.mp3"}, p.Tracks)
}

func TestMerger_PlaylistTieFavorsLocal(t *testing.T) {
	h := newHarness(t)
	_, err := h.playlists.Create(store.Playlist{
		Name: "Mix", ModifiedNS: 400, Tracks: []string{"/lib/local.mp3"},
	})
	require.NoError(t, err)

	src := &memSource{replica: Replica{Playlists: []RemotePlaylist{{
		Name: "Mix", ModifiedNS: 400, Tracks: []string{"device.mp3"},
	}}}}
	m := NewMerger(h.playlists, h.songs, src)

	changed, err := m.MergePlaylists(context.Background(), src.replica)
	require.NoError(t, err)
	assert.Zero(t, changed)

	p, err := h.playlists.GetByName("Mix")
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib/local.mp3"}, p.Tracks)
}

func TestMerger_PushLocalState(t *testing.T) {
	h := newHarness(t)
	_, err := h.playlists.Create(store.Playlist{
		Name: "Mix", ModifiedNS: 400, RemoteID: "r9",
		Tracks: []string{"/lib/Album/one.mp3"},
	})
	require.NoError(t, err)
	require.NoError(t, h.songs.Upsert(store.Song{Path: "/lib/Album/one.mp3", PlayCount: 2}))

	src := &memSource{}
	m := NewMerger(h.playlists, h.songs, src)
	require.NoError(t, m.PushLocalState(context.Background()))

	require.NotNil(t, src.pushed)
	require.Len(t, src.pushed.Playlists, 1)
	assert.Equal(t, "Mix", src.pushed.Playlists[0].Name)
	// Device-side track references are flat filenames.
	assert.Equal(t, []string{"one.mp3"}, src.pushed.Playlists[0].Tracks)
	require.Len(t, src.pushed.Tracks, 1)
	assert.Equal(t, "one.mp3", src.pushed.Tracks[0].Filename)
}

func TestMerger_FetchError(t *testing.T) {
	h := newHarness(t)
	src := &memSource{fetchErr: errors.New("manifest not found")}
	m := NewMerger(h.playlists, h.songs, src)

	_, err := m.Fetch(context.Background())
	assert.Error(t, err)
}
