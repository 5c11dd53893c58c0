package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/maruel/natural"
)

// PlaylistStore provides CRUD on playlists and their ordered tracks.
// Playlist names are unique by convention; merge identity is the lowercase
// name.
type PlaylistStore struct {
	db *sql.DB
}

// NewPlaylistStore creates a PlaylistStore backed by the given database.
func NewPlaylistStore(db *sql.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

// Create inserts a playlist with its tracks and returns its id.
func (s *PlaylistStore) Create(p Playlist) (int64, error) {
	if p.ModifiedNS == 0 {
		p.ModifiedNS = nowFunc().UnixNano()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`
		INSERT INTO playlists (name, description, modified_ns, sync_enabled, remote_id)
		VALUES (?, ?, ?, ?, ?)
	`, p.Name, p.Description, p.ModifiedNS, p.SyncEnabled, p.RemoteID)
	if err != nil {
		return 0, fmt.Errorf("insert playlist: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("playlist id: %w", err)
	}
	if err := insertTracks(tx, id, p.Tracks); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit playlist: %w", err)
	}
	return id, nil
}

func insertTracks(tx *sql.Tx, playlistID int64, tracks []string) error {
	for i, path := range tracks {
		if _, err := tx.Exec(`
			INSERT INTO playlist_tracks (playlist_id, position, file_path) VALUES (?, ?, ?)
		`, playlistID, i, path); err != nil {
			return fmt.Errorf("insert playlist track: %w", err)
		}
	}
	return nil
}

// ReplaceTracks swaps the playlist's track list wholesale and bumps the
// modified timestamp.
func (s *PlaylistStore) ReplaceTracks(playlistID int64, tracks []string, modifiedNS int64) error {
	if modifiedNS == 0 {
		modifiedNS = nowFunc().UnixNano()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM playlist_tracks WHERE playlist_id = ?", playlistID); err != nil {
		return fmt.Errorf("clear playlist tracks: %w", err)
	}
	if err := insertTracks(tx, playlistID, tracks); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE playlists SET modified_ns = ? WHERE id = ?", modifiedNS, playlistID); err != nil {
		return fmt.Errorf("bump playlist modified: %w", err)
	}
	return tx.Commit()
}

// SetRemoteID stores the external playlist identifier assigned on first
// successful push. It does not bump the modified timestamp.
func (s *PlaylistStore) SetRemoteID(playlistID int64, remoteID string) error {
	if _, err := s.db.Exec("UPDATE playlists SET remote_id = ? WHERE id = ?", remoteID, playlistID); err != nil {
		return fmt.Errorf("set playlist remote id: %w", err)
	}
	return nil
}

// Delete removes a playlist and, via cascade, its tracks.
func (s *PlaylistStore) Delete(playlistID int64) error {
	if _, err := s.db.Exec("DELETE FROM playlists WHERE id = ?", playlistID); err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	return nil
}

// GetByName retrieves a playlist by case-insensitive name, or nil.
func (s *PlaylistStore) GetByName(name string) (*Playlist, error) {
	p := &Playlist{}
	err := s.db.QueryRow(`
		SELECT id, name, description, modified_ns, sync_enabled, remote_id
		FROM playlists WHERE LOWER(name) = LOWER(?)
	`, name).Scan(&p.ID, &p.Name, &p.Description, &p.ModifiedNS, &p.SyncEnabled, &p.RemoteID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}
	tracks, err := s.tracks(p.ID)
	if err != nil {
		return nil, err
	}
	p.Tracks = tracks
	return p, nil
}

// All returns every playlist with tracks, in natural name order.
func (s *PlaylistStore) All() ([]Playlist, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, modified_ns, sync_enabled, remote_id FROM playlists
	`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var out []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ModifiedNS, &p.SyncEnabled, &p.RemoteID); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		tracks, err := s.tracks(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tracks = tracks
	}
	sort.Slice(out, func(i, j int) bool {
		return natural.Less(strings.ToLower(out[i].Name), strings.ToLower(out[j].Name))
	})
	return out, nil
}

func (s *PlaylistStore) tracks(playlistID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT file_path FROM playlist_tracks WHERE playlist_id = ? ORDER BY position
	`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("list playlist tracks: %w", err)
	}
	defer rows.Close()

	var tracks []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan playlist track: %w", err)
		}
		tracks = append(tracks, path)
	}
	return tracks, rows.Err()
}
