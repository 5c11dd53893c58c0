package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// Pauser is the discovery loop surface the controller needs: suspend
// polling for the duration of a session so transport contention is not
// misread as disconnection.
type Pauser interface {
	Pause()
	Resume()
}

// SessionEvent is published when a session starts and when it seals.
type SessionEvent struct {
	Stage   string // "started" | "completed"
	Session store.SyncSession
}

// Controller composes analyze → transfer → cleanup → merge → record into a
// single end-to-end session. At most one session runs system-wide.
type Controller struct {
	root      string
	cache     *catalog.Cache
	analyzer  *Analyzer
	orch      *Orchestrator
	merger    func(t device.Transport) *Merger
	sessions  *store.SessionStore
	discovery Pauser
	bus       *events.Bus[SessionEvent]

	mu    sync.Mutex
	state sessionState
}

// NewController wires a Controller. discovery and bus may be nil (tests,
// one-shot CLI runs).
func NewController(root string, cache *catalog.Cache, analyzer *Analyzer, orch *Orchestrator,
	playlists *store.PlaylistStore, songs *store.SongStore,
	sessions *store.SessionStore, discovery Pauser, bus *events.Bus[SessionEvent]) *Controller {
	return &Controller{
		root:     root,
		cache:    cache,
		analyzer: analyzer,
		orch:     orch,
		merger: func(t device.Transport) *Merger {
			return NewMerger(playlists, songs, ManifestSource{Transport: t})
		},
		sessions:  sessions,
		discovery: discovery,
		bus:       bus,
	}
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return ErrSyncInProgress
	}
	c.state = stateRunning
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.state = stateCompleting
	c.state = stateIdle
	c.mu.Unlock()
}

// RunSession executes one end-to-end sync session over the given transport.
//
// Configuration problems (no library root, no transport) surface before the
// session starts and record nothing. A concurrent invocation fails
// immediately with ErrSyncInProgress and leaves the active session alone.
// Everything after start is recorded — success or failure, with its error
// list; silent partial failure is not a thing.
func (c *Controller) RunSession(ctx context.Context, t device.Transport, deviceUDID string) (*store.SyncSession, error) {
	if c.root == "" {
		return nil, ErrNoLibraryRoot
	}
	if t == nil {
		return nil, fmt.Errorf("%w: no transport for session", device.ErrNotPaired)
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()

	l := logging.Sub("session")

	if c.discovery != nil {
		c.discovery.Pause()
		defer c.discovery.Resume()
	}

	sess := store.SyncSession{
		ID:        uuid.NewString(),
		StartedAt: nowFunc().Unix(),
		Method:    t.Name(),
		Errors:    []string{},
	}
	started := nowFunc()
	l.Info("session starting", "id", sess.ID, "method", sess.Method)
	if c.bus != nil {
		c.bus.Publish(SessionEvent{Stage: "started", Session: sess})
	}

	// seal records the session no matter how it ended.
	seal := func() {
		sess.DurationMS = nowFunc().Sub(started).Milliseconds()
		if err := c.sessions.Append(sess); err != nil {
			l.Error("session record failed", "id", sess.ID, "err", err)
		}
		if c.bus != nil {
			c.bus.Publish(SessionEvent{Stage: "completed", Session: sess})
		}
		l.Info("session sealed", "id", sess.ID,
			"queued", sess.FilesQueued, "transferred", sess.FilesTransferred,
			"bytes", sess.TotalBytes, "errors", len(sess.Errors))
	}
	defer seal()

	c.confirmRemote(ctx, t, &sess)

	report, err := c.analyzer.Analyze(ctx)
	if err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("analyze: %v", err))
		return &sess, fmt.Errorf("analyze: %w", err)
	}
	sess.FilesQueued = len(report.NewFiles)

	res, err := c.orch.Transfer(ctx, report.NewFiles, t, deviceUDID)
	sess.FilesTransferred = res.Transferred
	sess.TotalBytes = res.TotalBytes
	sess.Errors = append(sess.Errors, res.Errors...)
	if err != nil {
		// Connection-class abort: the batch rolled back, the session is
		// still sealed, and the caller gets a retryable condition.
		return &sess, fmt.Errorf("transfer: %w", err)
	}

	if _, err := c.analyzer.CleanupOrphans(report.OrphanedFiles); err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("cleanup: %v", err))
	}

	c.merge(ctx, t, &sess)

	return &sess, nil
}

// confirmRemote reconciles transfer records against the device's actual
// music listing before analysis, so files whose remote copy vanished are
// re-offered within the same session. A failed listing leaves the records
// untouched; belief in past transfers stays probabilistic until the next
// successful listing.
func (c *Controller) confirmRemote(ctx context.Context, t device.Transport, sess *store.SyncSession) {
	remote, err := t.ListDirectory(ctx, RemoteMusicDir)
	if err != nil {
		logging.Sub("session").Warn("remote listing unavailable, confirmation skipped", "err", err)
		sess.Errors = append(sess.Errors, fmt.Sprintf("confirm remote: %v", err))
		return
	}
	names := make(map[string]struct{}, len(remote))
	for _, rf := range remote {
		names[rf.Name] = struct{}{}
	}
	if _, err := c.analyzer.ConfirmRemote(names); err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("confirm remote: %v", err))
	}
}

// merge runs the bidirectional reconciliation. Merge failures degrade the
// session rather than aborting it: files already pushed stay pushed.
func (c *Controller) merge(ctx context.Context, t device.Transport, sess *store.SyncSession) {
	m := c.merger(t)

	replica, err := m.Fetch(ctx)
	if err != nil {
		logging.Sub("session").Warn("device manifest unavailable, merge skipped", "err", err)
		sess.Errors = append(sess.Errors, fmt.Sprintf("merge: fetch replica: %v", err))
		return
	}

	if _, err := m.MergePlaylists(ctx, replica); err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("merge playlists: %v", err))
	}
	if _, err := m.MergeMetadata(ctx, replica); err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("merge metadata: %v", err))
	}
	if err := m.PushLocalState(ctx); err != nil {
		sess.Errors = append(sess.Errors, fmt.Sprintf("merge push: %v", err))
	}
}

// ImportFromDevice pulls device-side music files absent from the local
// library into the library root, then rescans. Returns how many files were
// imported.
func (c *Controller) ImportFromDevice(ctx context.Context, t device.Transport) (int, error) {
	if c.root == "" {
		return 0, ErrNoLibraryRoot
	}
	if err := c.begin(); err != nil {
		return 0, err
	}
	defer c.finish()

	l := logging.Sub("session")

	remote, err := t.ListDirectory(ctx, RemoteMusicDir)
	if err != nil {
		return 0, fmt.Errorf("list device music: %w", err)
	}

	files, err := c.cache.Scan(ctx, c.root)
	if err != nil {
		return 0, fmt.Errorf("scan library: %w", err)
	}
	localNames := make(map[string]struct{}, len(files))
	for _, f := range files {
		localNames[normalizeTrackName(f.RelPath)] = struct{}{}
	}

	imported := 0
	for _, rf := range remote {
		// The listing comes from the device and is untrusted: only flat
		// file names may be joined under the library root.
		if rf.Name == "" || rf.Name == "." || rf.Name == ".." || strings.ContainsAny(rf.Name, `/\`) {
			l.Warn("remote file name rejected", "name", rf.Name)
			continue
		}
		if _, ok := localNames[normalizeTrackName(rf.Name)]; ok {
			continue
		}
		dest := filepath.Join(c.root, rf.Name)
		if err := t.PullFile(ctx, RemoteMusicDir+"/"+rf.Name, dest); err != nil {
			// Same containment rule as transfers: one bad file does not
			// sink the import.
			l.Warn("pull failed", "name", rf.Name, "err", err)
			continue
		}
		imported++
		l.Debug("imported from device", "name", rf.Name)
	}

	if imported > 0 {
		if _, err := c.cache.Scan(ctx, c.root); err != nil {
			return imported, fmt.Errorf("rescan after import: %w", err)
		}
	}
	l.Info("device import complete", "imported", imported, "remote", len(remote))
	return imported, nil
}
