package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marusama/semaphore/v2"
	"github.com/maruel/natural"

	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// Cache is the incremental library cache. A file whose (size, mtime)
// fingerprint matches its cache row is served from the row without touching
// file contents; everything else is re-extracted and the row replaced.
type Cache struct {
	entries   *store.CacheStore
	scanner   *Scanner
	extractor Extractor
	progress  *events.Bus[Progress]

	batchSize   int
	concurrency int
}

// NewCache wires a Cache. batchSize bounds how many stale files form one
// extraction batch; concurrency caps parallel tag reads within a batch.
func NewCache(entries *store.CacheStore, scanner *Scanner, extractor Extractor, progress *events.Bus[Progress], batchSize, concurrency int) *Cache {
	if batchSize <= 0 {
		batchSize = 50
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Cache{
		entries:     entries,
		scanner:     scanner,
		extractor:   extractor,
		progress:    progress,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Scan walks root and returns every audio file with metadata, re-extracting
// only files whose fingerprint changed. Cache rows for paths no longer on
// disk are pruned. Individual extraction failures degrade to filename-derived
// metadata and never fail the scan.
func (c *Cache) Scan(ctx context.Context, root string) ([]LibraryFile, error) {
	l := logging.Sub("cache")

	stats, err := c.scanner.Scan(root)
	if err != nil {
		return nil, fmt.Errorf("walk library: %w", err)
	}

	cached, err := c.entries.All()
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	var fresh, stale []FileStat
	for _, st := range stats {
		entry, ok := cached[st.Path]
		if ok && entry.Size == st.Size && entry.MtimeNS == st.Mtime.UnixNano() {
			fresh = append(fresh, st)
		} else {
			stale = append(stale, st)
		}
	}
	l.Info("library scanned", "root", root, "files", len(stats), "fresh", len(fresh), "stale", len(stale))

	files := make([]LibraryFile, 0, len(stats))

	for _, st := range fresh {
		info, err := DecodeTrackInfo(cached[st.Path].Metadata)
		if err != nil {
			// Corrupt blob: treat as stale rather than failing the scan.
			l.Warn("cache blob unreadable, re-extracting", "path", st.Path, "err", err)
			stale = append(stale, st)
			continue
		}
		files = append(files, LibraryFile{
			Path: st.Path, RelPath: st.RelPath, Size: st.Size, Mtime: st.Mtime, Info: info,
		})
	}

	processed, err := c.processStale(ctx, stale, len(stats))
	if err != nil {
		return nil, err
	}
	files = append(files, processed...)

	keep := make(map[string]struct{}, len(stats))
	for _, st := range stats {
		keep[st.Path] = struct{}{}
	}
	if _, err := c.entries.Prune(keep); err != nil {
		return nil, fmt.Errorf("prune cache: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return natural.Less(files[i].RelPath, files[j].RelPath)
	})
	return files, nil
}

// processStale extracts metadata for stale files in bounded-concurrency
// batches. Each file's cache row is upserted as soon as its extraction
// finishes, so a crash mid-scan loses at most the in-flight batch.
func (c *Cache) processStale(ctx context.Context, stale []FileStat, total int) ([]LibraryFile, error) {
	if len(stale) == 0 {
		return nil, nil
	}
	l := logging.Sub("cache")

	var (
		mu    sync.Mutex
		files = make([]LibraryFile, 0, len(stale))
	)
	sem := semaphore.New(c.concurrency)
	done := 0

	for start := 0; start < len(stale); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + c.batchSize
		if end > len(stale) {
			end = len(stale)
		}
		batch := stale[start:end]

		var wg sync.WaitGroup
		for _, st := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return nil, err
			}
			wg.Add(1)
			go func(st FileStat) {
				defer wg.Done()
				defer sem.Release(1)

				info, err := c.extractor.Extract(st.Path)
				if err != nil {
					l.Warn("extraction failed, using filename metadata", "path", st.Path, "err", err)
					info = FallbackInfo(st.Path)
				}

				blob, err := info.Encode()
				if err != nil {
					l.Error("metadata encode failed", "path", st.Path, "err", err)
					return
				}
				if err := c.entries.Upsert(store.CacheEntry{
					Path:     st.Path,
					Size:     st.Size,
					MtimeNS:  st.Mtime.UnixNano(),
					Metadata: blob,
				}); err != nil {
					l.Error("cache upsert failed", "path", st.Path, "err", err)
					return
				}

				mu.Lock()
				files = append(files, LibraryFile{
					Path: st.Path, RelPath: st.RelPath, Size: st.Size, Mtime: st.Mtime, Info: info,
				})
				mu.Unlock()
			}(st)
		}
		wg.Wait()

		done += len(batch)
		if c.progress != nil {
			c.progress.Publish(Progress{Processed: total - len(stale) + done, Total: total})
		}
		l.Debug("batch complete", "processed", done, "stale", len(stale))
	}

	return files, nil
}

// UpdateTags writes new tags through the TagWriter, then refreshes the cache
// row from the rewritten file. The entry is replaced wholesale, never
// partially patched.
func (c *Cache) UpdateTags(w TagWriter, path string, info TrackInfo) error {
	if err := w.WriteTags(path, info); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}
	// The write changed size/mtime; drop the row so the next scan
	// re-extracts from the rewritten file.
	if err := c.entries.Delete(path); err != nil {
		return fmt.Errorf("invalidate cache entry: %w", err)
	}
	return nil
}
