package store

import (
	"database/sql"
	"fmt"
)

// SongStore provides CRUD on the local per-track listening state.
type SongStore struct {
	db *sql.DB
}

// NewSongStore creates a SongStore backed by the given database.
func NewSongStore(db *sql.DB) *SongStore {
	return &SongStore{db: db}
}

// Upsert inserts or replaces the song row for its path.
func (s *SongStore) Upsert(song Song) error {
	_, err := s.db.Exec(`
		INSERT INTO songs (file_path, title, artist, album, play_count, last_played_ns, favorite, rating, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			title          = excluded.title,
			artist         = excluded.artist,
			album          = excluded.album,
			play_count     = excluded.play_count,
			last_played_ns = excluded.last_played_ns,
			favorite       = excluded.favorite,
			rating         = excluded.rating,
			updated_at     = excluded.updated_at
	`, song.Path, song.Title, song.Artist, song.Album, song.PlayCount,
		song.LastPlayedNS, song.Favorite, song.Rating, nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert song: %w", err)
	}
	return nil
}

// Get retrieves the song for an absolute path, or nil when absent.
func (s *SongStore) Get(path string) (*Song, error) {
	song := &Song{}
	err := s.db.QueryRow(`
		SELECT file_path, title, artist, album, play_count, last_played_ns, favorite, rating, updated_at
		FROM songs WHERE file_path = ?
	`, path).Scan(&song.Path, &song.Title, &song.Artist, &song.Album, &song.PlayCount,
		&song.LastPlayedNS, &song.Favorite, &song.Rating, &song.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get song: %w", err)
	}
	return song, nil
}

// All returns every song keyed by absolute path.
func (s *SongStore) All() (map[string]Song, error) {
	rows, err := s.db.Query(`
		SELECT file_path, title, artist, album, play_count, last_played_ns, favorite, rating, updated_at
		FROM songs
	`)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Song)
	for rows.Next() {
		var song Song
		if err := rows.Scan(&song.Path, &song.Title, &song.Artist, &song.Album, &song.PlayCount,
			&song.LastPlayedNS, &song.Favorite, &song.Rating, &song.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		out[song.Path] = song
	}
	return out, rows.Err()
}

// RecordPlay bumps the play count and last-played timestamp for a path,
// creating the row if needed.
func (s *SongStore) RecordPlay(path string, playedAtNS int64) error {
	_, err := s.db.Exec(`
		INSERT INTO songs (file_path, play_count, last_played_ns, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			play_count     = play_count + 1,
			last_played_ns = MAX(last_played_ns, excluded.last_played_ns),
			updated_at     = excluded.updated_at
	`, path, playedAtNS, nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("record play: %w", err)
	}
	return nil
}
