package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redshiftplayer/redshift-sync/catalog"
	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/engine"
	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/logging"
)

func newDaemonCmd(cfgFile *string) *cobra.Command {
	var autoSync bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Watch for devices and library changes; optionally sync on attach",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, a, autoSync)
		},
	}
	cmd.Flags().BoolVar(&autoSync, "auto-sync", false, "start a session when a device attaches")
	return cmd
}

// runDaemon composes the discovery loop, the library watcher, and the
// session controller. Blocks until ctx is cancelled.
func runDaemon(ctx context.Context, a *app, autoSync bool) error {
	l := logging.Sub("daemon")

	deviceBus := events.NewBus[device.Event]()
	deviceCh := deviceBus.Subscribe()
	defer deviceBus.Unsubscribe(deviceCh)

	queryTransport := a.usbTransport("", "usb")
	resolver := device.NewQueryResolver(queryTransport, device.NewTableResolver())
	defer resolver.Stop()

	monitor := device.NewMonitor(
		device.HelperLister{HelperDir: a.cfg.HelperDir},
		resolver,
		deviceBus,
		a.cfg.PollIdle,
		a.cfg.PollTracked,
	)
	monitor.ResolveUDID = func(ctx context.Context, _ device.Key) (string, error) {
		info, err := queryTransport.QueryDeviceInfo(ctx)
		if err != nil {
			return "", err
		}
		if info.UDID != "" {
			// A USB-attached device may also be Wi-Fi paired; refresh its
			// last_seen. Touch is a no-op for unknown UDIDs.
			if err := a.devices.Touch(info.UDID, time.Now().UnixNano()); err != nil {
				l.Warn("paired device touch failed", "udid", info.UDID, "err", err)
			}
		}
		return info.UDID, nil
	}
	go monitor.Run(ctx)

	nudge := make(chan struct{}, 1)
	watcher, err := catalog.NewWatcher(a.cfg.LibraryRoot, nudge)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	go func() {
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()
	defer watcher.Close()

	controller := a.controller(monitor)
	l.Info("daemon started", "library", a.cfg.LibraryRoot, "autoSync", autoSync)

	for {
		select {
		case <-ctx.Done():
			l.Info("daemon stopped")
			return nil

		case <-nudge:
			l.Info("library changed, rescanning")
			if _, err := a.library.Scan(ctx, a.cfg.LibraryRoot); err != nil && ctx.Err() == nil {
				l.Error("rescan failed", "err", err)
			}

		case ev, ok := <-deviceCh:
			if !ok {
				return nil
			}
			if ev.Kind != device.Attached {
				l.Info("device detached", "name", ev.Device.Name)
				continue
			}
			l.Info("device attached", "class", ev.Device.Class, "name", ev.Device.Name)
			if !autoSync {
				continue
			}
			transport := a.usbTransport(ev.Device.UDID, "usb")
			sess, err := controller.RunSession(ctx, transport, ev.Device.UDID)
			switch {
			case errors.Is(err, engine.ErrSyncInProgress):
				l.Warn("attach ignored, session already running")
			case err != nil:
				l.Error("auto sync failed", "err", err)
			default:
				l.Info("auto sync complete", "id", sess.ID, "transferred", sess.FilesTransferred)
			}
		}
	}
}
