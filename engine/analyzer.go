// Package engine contains the sync core: the status analyzer, the transfer
// orchestrator, the bidirectional merge engine, and the session controller
// composing them.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Report is the result of one analysis pass.
type Report struct {
	NewFiles      []catalog.LibraryFile
	OrphanedFiles []store.TransferRecord

	LocalCount       int
	TransferredCount int
	OrphanedCount    int

	// HealthScore is a 0–100 heuristic summarizing sync completeness and
	// orphan burden.
	HealthScore int
}

// Analyzer diffs the current library against the transfer records.
type Analyzer struct {
	cache     *catalog.Cache
	transfers *store.TransferStore
	root      string
}

// NewAnalyzer wires an Analyzer over the library root.
func NewAnalyzer(cache *catalog.Cache, transfers *store.TransferStore, root string) *Analyzer {
	return &Analyzer{cache: cache, transfers: transfers, root: root}
}

// Analyze scans the library and computes the new-file set, the orphan set,
// and the health score. With no intervening filesystem or record change,
// repeated calls yield identical sets.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	files, err := a.cache.Scan(ctx, a.root)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	return a.analyzeFiles(files)
}

// analyzeFiles is the diff core, split out so the controller can reuse an
// already-completed scan.
func (a *Analyzer) analyzeFiles(files []catalog.LibraryFile) (*Report, error) {
	l := logging.Sub("analyzer")

	records, err := a.transfers.All()
	if err != nil {
		return nil, fmt.Errorf("load transfer records: %w", err)
	}

	report := &Report{
		LocalCount:       len(files),
		TransferredCount: len(records),
	}

	for i := range files {
		f := &files[i]
		if rec, ok := records[f.RelPath]; ok && rec.Status != store.StatusMissingRemote {
			// A record downgraded by ConfirmRemote no longer counts: the
			// remote copy is gone and the file must be offered again.
			continue
		}
		// No path match. A content-hash match means the file was already
		// transferred under a different path (renamed locally) and must
		// not be re-offered.
		hash, err := HashFile(f.Path)
		if err != nil {
			// Non-fatal: still new, just without hash-based dedup.
			l.Warn("hash failed, file treated as new", "path", f.Path, "err", err)
			report.NewFiles = append(report.NewFiles, *f)
			continue
		}
		f.Hash = hash
		known, err := a.transfers.HashKnown(hash)
		if err != nil {
			return nil, err
		}
		if known {
			l.Debug("content already transferred under another path", "path", f.RelPath)
			continue
		}
		report.NewFiles = append(report.NewFiles, *f)
	}

	localByRel := lo.KeyBy(files, func(f catalog.LibraryFile) string { return f.RelPath })
	for relPath, rec := range records {
		if _, ok := localByRel[relPath]; !ok {
			report.OrphanedFiles = append(report.OrphanedFiles, rec)
		}
	}
	report.OrphanedCount = len(report.OrphanedFiles)
	report.HealthScore = healthScore(report.LocalCount, report.TransferredCount, report.OrphanedCount)

	l.Info("analysis complete",
		"local", report.LocalCount,
		"transferred", report.TransferredCount,
		"new", len(report.NewFiles),
		"orphaned", report.OrphanedCount,
		"health", report.HealthScore,
	)
	return report, nil
}

// healthScore summarizes completeness minus orphan burden on a 0–100 scale.
// An empty library is trivially healthy.
func healthScore(local, transferred, orphaned int) int {
	if local == 0 {
		return 100
	}
	completeness := math.Min(float64(transferred)/float64(local), 1)
	denom := transferred
	if denom < 1 {
		denom = 1
	}
	burden := math.Min(float64(orphaned)/float64(denom), 0.5)
	score := int(math.Round((completeness - burden) * 100))
	if score < 0 {
		return 0
	}
	return score
}

// CleanupOrphans deletes the transfer records in the given orphan set and
// returns how many were removed.
func (a *Analyzer) CleanupOrphans(orphans []store.TransferRecord) (int, error) {
	removed := 0
	for _, rec := range orphans {
		if err := a.transfers.Delete(rec.RelPath); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		logging.Sub("analyzer").Info("orphaned transfer records removed", "count", removed)
	}
	return removed, nil
}

// ConfirmRemote downgrades transfer records whose remote file is missing
// from a device-side listing. Reconciliation is probabilistic until a scan
// like this one; a downgraded record makes the file eligible for
// re-transfer.
func (a *Analyzer) ConfirmRemote(remote map[string]struct{}) (int, error) {
	records, err := a.transfers.All()
	if err != nil {
		return 0, err
	}
	downgraded := 0
	for relPath, rec := range records {
		if rec.Status != store.StatusTransferred {
			continue
		}
		if _, ok := remote[remoteName(relPath)]; ok {
			continue
		}
		if err := a.transfers.SetStatus(relPath, store.StatusMissingRemote); err != nil {
			return downgraded, err
		}
		downgraded++
	}
	if downgraded > 0 {
		logging.Sub("analyzer").Warn("remote copies missing", "count", downgraded)
	}
	return downgraded, nil
}

// HashFile computes the sha256 content hash used for rename detection. The
// same digest the previous desktop releases recorded, so existing transfer
// databases keep matching.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
