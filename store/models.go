package store

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// CacheEntry is one persisted library-cache row, keyed by absolute path.
// The (Size, MtimeNS) pair is the staleness fingerprint: when it differs
// from the current filesystem stat, the entry is re-extracted wholesale.
type CacheEntry struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	MtimeNS   int64  `json:"mtimeNs"`
	Metadata  string `json:"metadata"` // serialized catalog.TrackInfo
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Transfer record statuses.
const (
	StatusTransferred   = "transferred"
	StatusMissingRemote = "missing_remote"
)

// TransferRecord says the engine believes this content was pushed to the
// device. It is not proof the remote copy still exists.
type TransferRecord struct {
	RelPath       string `json:"relPath"`
	Hash          string `json:"hash"`
	Size          int64  `json:"size"`
	MtimeNS       int64  `json:"mtimeNs"`
	TransferredAt int64  `json:"transferredAt"`
	Method        string `json:"method"`
	DeviceUDID    string `json:"deviceUdid,omitempty"`
	Status        string `json:"status"`
}

// SyncSession is one append-only session record, sealed at session end.
type SyncSession struct {
	ID               string   `json:"id"`
	StartedAt        int64    `json:"startedAt"`
	Method           string   `json:"method"`
	FilesQueued      int      `json:"filesQueued"`
	FilesTransferred int      `json:"filesTransferred"`
	TotalBytes       int64    `json:"totalBytes"`
	DurationMS       int64    `json:"durationMs"`
	Errors           []string `json:"errors"`
}

// Song is the local replica of per-track listening state, keyed by absolute
// path. It is merged against the device replica during sync and never
// deleted automatically.
type Song struct {
	Path         string `json:"path"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Album        string `json:"album"`
	PlayCount    int    `json:"playCount"`
	LastPlayedNS int64  `json:"lastPlayedNs"`
	Favorite     bool   `json:"favorite"`
	Rating       int    `json:"rating"` // 0–5
	UpdatedAt    int64  `json:"updatedAt"`
}

// Playlist identity for merge purposes is the lowercase name.
type Playlist struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ModifiedNS  int64    `json:"modifiedNs"`
	SyncEnabled bool     `json:"syncEnabled"`
	RemoteID    string   `json:"remoteId"`
	Tracks      []string `json:"tracks"` // ordered file paths
}

// PairedDevice persists the Wi-Fi pairing result so later sessions can
// reconnect without re-pairing.
type PairedDevice struct {
	UDID       string `json:"udid"`
	Name       string `json:"name"`
	AuthToken  string `json:"authToken"`
	LANAddress string `json:"lanAddress"`
	PairedAt   int64  `json:"pairedAt"`
	LastSeenNS int64  `json:"lastSeenNs"`
}
