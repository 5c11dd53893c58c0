package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// RemotePlaylist is the device replica of one playlist.
type RemotePlaylist struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ModifiedNS  int64    `json:"modifiedNs"`
	Tracks      []string `json:"tracks"` // device-side filenames
}

// RemoteTrackState is the device replica of one track's listening state.
type RemoteTrackState struct {
	Filename     string `json:"filename"`
	PlayCount    int    `json:"playCount"`
	LastPlayedNS int64  `json:"lastPlayedNs"`
	Favorite     bool   `json:"favorite"`
	Rating       int    `json:"rating"`
}

// Replica is the device-side library state the merge engine reconciles
// against.
type Replica struct {
	Playlists []RemotePlaylist   `json:"playlists"`
	Tracks    []RemoteTrackState `json:"tracks"`
}

// ReplicaSource fetches and stores the device replica.
type ReplicaSource interface {
	Fetch(ctx context.Context) (Replica, error)
	Push(ctx context.Context, r Replica) error
}

// manifestName is the library manifest the companion app maintains in its
// container root.
const manifestName = "Documents/redshift_library.json"

// ManifestSource reads and writes the replica as a JSON manifest through a
// device transport.
type ManifestSource struct {
	Transport device.Transport
	TempDir   string // defaults to os.TempDir()
}

func (m ManifestSource) tempPath() string {
	dir := m.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "redshift_library.json")
}

// Fetch implements ReplicaSource.
func (m ManifestSource) Fetch(ctx context.Context) (Replica, error) {
	local := m.tempPath()
	defer os.Remove(local) //nolint:errcheck
	if err := m.Transport.PullFile(ctx, manifestName, local); err != nil {
		return Replica{}, fmt.Errorf("pull manifest: %w", err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return Replica{}, fmt.Errorf("read manifest: %w", err)
	}
	var r Replica
	if err := json.Unmarshal(data, &r); err != nil {
		return Replica{}, fmt.Errorf("parse manifest: %w", err)
	}
	return r, nil
}

// Push implements ReplicaSource.
func (m ManifestSource) Push(ctx context.Context, r Replica) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	local := m.tempPath()
	defer os.Remove(local) //nolint:errcheck
	if err := os.WriteFile(local, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := m.Transport.PushFile(ctx, local, manifestName); err != nil {
		return fmt.Errorf("push manifest: %w", err)
	}
	return nil
}

// Merger reconciles playlists and per-track listening state between the
// local replica and the device replica. Both sides mutate independently, so
// neither is authoritative; each field has its own rule.
type Merger struct {
	playlists *store.PlaylistStore
	songs     *store.SongStore
	source    ReplicaSource
}

// NewMerger wires a Merger.
func NewMerger(playlists *store.PlaylistStore, songs *store.SongStore, source ReplicaSource) *Merger {
	return &Merger{playlists: playlists, songs: songs, source: source}
}

// Fetch retrieves the current device replica.
func (m *Merger) Fetch(ctx context.Context) (Replica, error) {
	return m.source.Fetch(ctx)
}

// MergePlaylists reconciles playlist state and returns how many device
// playlists were imported or adopted locally.
//
// Identity is the lowercase name. A device playlist with no local
// counterpart is imported verbatim. When both sides have one, the strictly
// newer modified timestamp wins in full — track list replaced wholesale.
// Ties favor the local copy.
func (m *Merger) MergePlaylists(ctx context.Context, replica Replica) (int, error) {
	l := logging.Sub("merge")
	changed := 0

	for _, remote := range replica.Playlists {
		local, err := m.playlists.GetByName(remote.Name)
		if err != nil {
			return changed, err
		}

		if local == nil {
			if _, err := m.playlists.Create(store.Playlist{
				Name:        remote.Name,
				Description: remote.Description,
				ModifiedNS:  remote.ModifiedNS,
				SyncEnabled: true,
				RemoteID:    remote.ID,
				Tracks:      remote.Tracks,
			}); err != nil {
				return changed, fmt.Errorf("import playlist %q: %w", remote.Name, err)
			}
			l.Info("playlist imported from device", "name", remote.Name, "tracks", len(remote.Tracks))
			changed++
			continue
		}

		if remote.ModifiedNS > local.ModifiedNS {
			if err := m.playlists.ReplaceTracks(local.ID, remote.Tracks, remote.ModifiedNS); err != nil {
				return changed, fmt.Errorf("adopt playlist %q: %w", remote.Name, err)
			}
			if remote.ID != "" && local.RemoteID == "" {
				if err := m.playlists.SetRemoteID(local.ID, remote.ID); err != nil {
					return changed, err
				}
			}
			l.Info("device playlist adopted", "name", remote.Name, "localModified", local.ModifiedNS, "deviceModified", remote.ModifiedNS)
			changed++
		} else {
			l.Debug("local playlist kept", "name", remote.Name)
		}
	}

	return changed, nil
}

// MergeMetadata reconciles per-track listening state and returns how many
// tracks were merged. Identity is the filename after path normalization.
//
// Field rules: play counts add (both sides record plays independently),
// last-played takes the max, favorite is a monotonic OR, rating takes the
// max known explicit value. Device tracks with no local catalog entry are
// skipped with a warning — metadata merge assumes a pre-existing local
// entry.
func (m *Merger) MergeMetadata(ctx context.Context, replica Replica) (int, error) {
	l := logging.Sub("merge")

	songs, err := m.songs.All()
	if err != nil {
		return 0, err
	}
	byName := make(map[string]store.Song, len(songs))
	for _, s := range songs {
		byName[normalizeTrackName(s.Path)] = s
	}

	merged := 0
	for _, remote := range replica.Tracks {
		name := normalizeTrackName(remote.Filename)
		local, ok := byName[name]
		if !ok {
			l.Warn("device track has no local catalog entry, skipped", "filename", remote.Filename)
			continue
		}

		local.PlayCount += remote.PlayCount
		local.LastPlayedNS = max(local.LastPlayedNS, remote.LastPlayedNS)
		local.Favorite = local.Favorite || remote.Favorite
		local.Rating = max(local.Rating, remote.Rating)

		if err := m.songs.Upsert(local); err != nil {
			return merged, fmt.Errorf("merge track %q: %w", remote.Filename, err)
		}
		merged++
	}

	l.Info("metadata merged", "tracks", merged, "deviceTracks", len(replica.Tracks))
	return merged, nil
}

// PushLocalState writes the merged local replica back to the device so both
// sides converge.
func (m *Merger) PushLocalState(ctx context.Context) error {
	playlists, err := m.playlists.All()
	if err != nil {
		return err
	}
	songs, err := m.songs.All()
	if err != nil {
		return err
	}

	replica := Replica{
		Playlists: lo.Map(playlists, func(p store.Playlist, _ int) RemotePlaylist {
			return RemotePlaylist{
				ID:          p.RemoteID,
				Name:        p.Name,
				Description: p.Description,
				ModifiedNS:  p.ModifiedNS,
				Tracks: lo.Map(p.Tracks, func(t string, _ int) string {
					return path.Base(filepath.ToSlash(t))
				}),
			}
		}),
		Tracks: lo.MapToSlice(songs, func(_ string, s store.Song) RemoteTrackState {
			return RemoteTrackState{
				Filename:     path.Base(filepath.ToSlash(s.Path)),
				PlayCount:    s.PlayCount,
				LastPlayedNS: s.LastPlayedNS,
				Favorite:     s.Favorite,
				Rating:       s.Rating,
			}
		}),
	}
	return m.source.Push(ctx, replica)
}

// normalizeTrackName reduces a path from either replica to the merge
// identity: the lowercase base filename.
func normalizeTrackName(p string) string {
	return strings.ToLower(path.Base(filepath.ToSlash(p)))
}
