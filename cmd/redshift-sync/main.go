// Command redshift-sync keeps a local audio library in sync with the
// RedShift Mobile companion app.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/engine"
	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/settings"
	"github.com/redshiftplayer/redshift-sync/store"
	"github.com/spf13/afero"
)

// app holds everything a command needs once the database is open.
type app struct {
	cfg settings.Settings
	db  *sql.DB

	cache     *store.CacheStore
	transfers *store.TransferStore
	sessions  *store.SessionStore
	songs     *store.SongStore
	playlists *store.PlaylistStore
	devices   *store.DeviceStore

	library  *catalog.Cache
	progress *events.Bus[catalog.Progress]
}

// openApp loads settings, initializes logging, and opens the store.
func openApp(cfgFile string) (*app, error) {
	cfg, err := settings.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogDir)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		cache:     store.NewCacheStore(db),
		transfers: store.NewTransferStore(db),
		sessions:  store.NewSessionStore(db),
		songs:     store.NewSongStore(db),
		playlists: store.NewPlaylistStore(db),
		devices:   store.NewDeviceStore(db),
		progress:  events.NewBus[catalog.Progress](),
	}
	a.library = catalog.NewCache(
		a.cache,
		catalog.NewScanner(afero.NewOsFs(), cfg.AudioExtensions),
		catalog.TagExtractor{},
		a.progress,
		cfg.ExtractBatchSize,
		cfg.ExtractConcurrency,
	)
	return a, nil
}

func (a *app) close() {
	a.db.Close()
}

func (a *app) analyzer() *engine.Analyzer {
	return engine.NewAnalyzer(a.library, a.transfers, a.cfg.LibraryRoot)
}

func (a *app) controller(discovery engine.Pauser) *engine.Controller {
	return engine.NewController(
		a.cfg.LibraryRoot,
		a.library,
		a.analyzer(),
		engine.NewOrchestrator(a.transfers),
		a.playlists,
		a.songs,
		a.sessions,
		discovery,
		events.NewBus[engine.SessionEvent](),
	)
}

// usbTransport builds the helper-backed transport for the given method.
func (a *app) usbTransport(udid, method string) device.Transport {
	return device.NewHelperTransport(a.cfg.HelperDir, udid, method)
}

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:           "redshift-sync",
		Short:         "Sync a local audio library with RedShift Mobile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.redshift-sync/config.yaml)")

	root.AddCommand(
		newScanCmd(&cfgFile),
		newAnalyzeCmd(&cfgFile),
		newSyncCmd(&cfgFile),
		newDevicesCmd(&cfgFile),
		newPairCmd(&cfgFile),
		newImportCmd(&cfgFile),
		newHistoryCmd(&cfgFile),
		newDaemonCmd(&cfgFile),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
