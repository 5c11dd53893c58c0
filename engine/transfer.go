package engine

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// RemoteMusicDir is where the companion app keeps its library inside the
// app container.
const RemoteMusicDir = "Documents/Music"

// remoteName maps a library-relative path to its flat device-side filename.
func remoteName(relPath string) string {
	return path.Base(relPath)
}

// sessionState is the orchestrator's explicit state machine. Concurrent
// start attempts are rejected at this boundary.
type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateCompleting
)

// Result summarizes one transfer batch.
type Result struct {
	Transferred int
	Failed      int
	TotalBytes  int64
	Errors      []string
}

// Orchestrator pushes queued files through a device transport, one file at
// a time. The transport is single-connection; sequential pushes keep the
// partial-failure boundary deterministic.
type Orchestrator struct {
	transfers *store.TransferStore

	mu    sync.Mutex
	state sessionState
}

// NewOrchestrator creates an Orchestrator over the transfer records.
func NewOrchestrator(transfers *store.TransferStore) *Orchestrator {
	return &Orchestrator{transfers: transfers}
}

// begin moves Idle→Running, rejecting concurrent invocations.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateIdle {
		return ErrSyncInProgress
	}
	o.state = stateRunning
	return nil
}

// finish moves Running→Completing→Idle.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.state = stateCompleting
	o.state = stateIdle
	o.mu.Unlock()
}

// Busy reports whether a transfer is currently running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state != stateIdle
}

// Transfer pushes the files sequentially through the transport.
//
// Two failure classes apply: connection-class failures abort the remaining
// queue and roll back everything marked within this batch, so the next
// session retries the whole batch; per-file failures are recorded and the
// queue continues — partial success is the normal outcome. A file is marked
// transferred only after the transport confirms the push.
func (o *Orchestrator) Transfer(ctx context.Context, files []catalog.LibraryFile, t device.Transport, deviceUDID string) (Result, error) {
	if err := o.begin(); err != nil {
		return Result{}, err
	}
	defer o.finish()

	l := logging.Sub("transfer")
	l.Info("transfer starting", "queued", len(files), "method", t.Name())

	var res Result
	var marked []string // rel paths marked within this batch, for rollback

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		remotePath := path.Join(RemoteMusicDir, remoteName(f.RelPath))
		err := t.PushFile(ctx, f.Path, remotePath)
		if err != nil {
			if isConnectionError(err) {
				l.Error("connection lost, aborting batch", "path", f.RelPath, "err", err)
				if rbErr := o.rollback(marked); rbErr != nil {
					l.Error("rollback failed", "err", rbErr)
				}
				res.Transferred = 0
				res.TotalBytes = 0
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.RelPath, err))
				return res, fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			// Application-class failure: record and keep going.
			l.Warn("file rejected", "path", f.RelPath, "err", err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.RelPath, err))
			continue
		}

		hash := f.Hash
		if hash == "" {
			if hash, err = HashFile(f.Path); err != nil {
				l.Warn("hash after push failed, record stored without hash", "path", f.RelPath, "err", err)
				hash = ""
			}
		}

		// Marking and the push are not atomic across a crash; the next
		// analysis pass simply re-offers the file.
		if err := o.transfers.Mark(store.TransferRecord{
			RelPath:    f.RelPath,
			Hash:       hash,
			Size:       f.Size,
			MtimeNS:    f.Mtime.UnixNano(),
			Method:     t.Name(),
			DeviceUDID: deviceUDID,
		}); err != nil {
			return res, fmt.Errorf("mark transferred: %w", err)
		}
		marked = append(marked, f.RelPath)
		res.Transferred++
		res.TotalBytes += f.Size
		l.Debug("transferred", "path", f.RelPath, "bytes", f.Size)
	}

	l.Info("transfer complete", "transferred", res.Transferred, "failed", res.Failed, "bytes", res.TotalBytes)
	return res, nil
}

// rollback deletes every record marked within the aborted batch. Nothing in
// an aborted batch stays marked, regardless of how many pushes succeeded
// before the connection dropped.
func (o *Orchestrator) rollback(marked []string) error {
	for _, relPath := range marked {
		if err := o.transfers.Delete(relPath); err != nil {
			return fmt.Errorf("unmark %s: %w", relPath, err)
		}
	}
	if len(marked) > 0 {
		logging.Sub("transfer").Info("batch rolled back", "unmarked", len(marked))
	}
	return nil
}
