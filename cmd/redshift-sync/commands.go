package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/redshiftplayer/redshift-sync/device"
	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/pairing"
)

func newScanCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the library and refresh the metadata cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			files, err := a.library.Scan(cmd.Context(), a.cfg.LibraryRoot)
			if err != nil {
				return err
			}
			for _, f := range files {
				title := f.Info.Title
				if title == "" {
					title = f.RelPath
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s — %s (%s)\n", f.Info.Artist, title, f.RelPath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d files\n", len(files))
			return nil
		},
	}
}

func newAnalyzeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Show what would sync: new files, orphans, health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.analyzer().Analyze(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "local files:    %d\n", report.LocalCount)
			fmt.Fprintf(out, "transferred:    %d\n", report.TransferredCount)
			fmt.Fprintf(out, "new:            %d\n", len(report.NewFiles))
			fmt.Fprintf(out, "orphaned:       %d\n", report.OrphanedCount)
			fmt.Fprintf(out, "health score:   %d/100\n", report.HealthScore)
			for _, f := range report.NewFiles {
				fmt.Fprintf(out, "  + %s\n", f.RelPath)
			}
			for _, r := range report.OrphanedFiles {
				fmt.Fprintf(out, "  - %s (orphaned)\n", r.RelPath)
			}
			return nil
		},
	}
}

func newSyncCmd(cfgFile *string) *cobra.Command {
	var method, udid string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one end-to-end sync session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			if method == "" {
				method = a.cfg.DefaultMethod
			}
			transport, udid, err := a.transportFor(cmd.Context(), method, udid)
			if err != nil {
				return err
			}

			sess, err := a.controller(nil).RunSession(cmd.Context(), transport, udid)
			if sess != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "session %s (%s)\n", sess.ID, sess.Method)
				fmt.Fprintf(out, "queued %d, transferred %d, %d bytes, %d errors\n",
					sess.FilesQueued, sess.FilesTransferred, sess.TotalBytes, len(sess.Errors))
				for _, e := range sess.Errors {
					fmt.Fprintf(out, "  ! %s\n", e)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "transfer method: usb, wifi or app-usb")
	cmd.Flags().StringVar(&udid, "device", "", "target device UDID")
	return cmd
}

// transportFor resolves the transport for a method, reconnecting over Wi-Fi
// when asked.
func (a *app) transportFor(ctx context.Context, method, udid string) (device.Transport, string, error) {
	switch method {
	case "wifi":
		if udid == "" {
			paired, err := a.devices.All()
			if err != nil {
				return nil, "", err
			}
			if len(paired) == 0 {
				return nil, "", device.ErrNotPaired
			}
			udid = paired[0].UDID
		}
		d, err := pairing.NewClient(a.cfg.RelayURL, a.devices).Reconnect(ctx, udid)
		if err != nil {
			return nil, "", err
		}
		return pairing.NewWifiTransport(d.LANAddress, d.AuthToken), d.UDID, nil
	case "usb", "app-usb":
		return a.usbTransport(udid, method), udid, nil
	default:
		return nil, "", fmt.Errorf("unknown method %q", method)
	}
}

func newDevicesCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List currently attached and paired devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()

			keys, err := device.HelperLister{HelperDir: a.cfg.HelperDir}.List(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "attached: unavailable (%v)\n", err)
			} else {
				resolver := device.NewTableResolver()
				for _, key := range keys {
					class, name, _ := resolver.Resolve(cmd.Context(), key)
					fmt.Fprintf(out, "attached: %04x:%04x %s %s\n", key.VendorID, key.ProductID, class, name)
				}
				if len(keys) == 0 {
					fmt.Fprintln(out, "attached: none")
				}
			}

			paired, err := a.devices.All()
			if err != nil {
				return err
			}
			for _, d := range paired {
				fmt.Fprintf(out, "paired:   %s %q (%s)\n", d.UDID, d.Name, d.LANAddress)
			}
			if len(paired) == 0 {
				fmt.Fprintln(out, "paired:   none")
			}
			return nil
		},
	}
}

func newPairCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Pair with a device over Wi-Fi",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			client := pairing.NewClient(a.cfg.RelayURL, a.devices)
			client.OnCode = func(code string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Enter this code on your device: %s\n", code)
			}
			d, err := client.Pair(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired with %q (%s)\n", d.Name, d.UDID)
			return nil
		},
	}
}

func newImportCmd(cfgFile *string) *cobra.Command {
	var method, udid string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Pull device-side files missing from the local library",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			if method == "" {
				method = a.cfg.DefaultMethod
			}
			transport, _, err := a.transportFor(cmd.Context(), method, udid)
			if err != nil {
				return err
			}
			n, err := a.controller(nil).ImportFromDevice(cmd.Context(), transport)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d files\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "transfer method: usb, wifi or app-usb")
	cmd.Flags().StringVar(&udid, "device", "", "target device UDID")
	return cmd
}

func newHistoryCmd(cfgFile *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.sessions.Recent(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s %s %s queued=%d transferred=%d bytes=%d errors=%d\n",
					time.Unix(s.StartedAt, 0).Format(time.RFC3339), s.ID[:8], s.Method,
					s.FilesQueued, s.FilesTransferred, s.TotalBytes, len(s.Errors))
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no sessions recorded")
			}
			if errs := logging.RecentErrors(); len(errs) > 0 {
				fmt.Fprintln(out, "recent errors:")
				for _, e := range errs {
					fmt.Fprintf(out, "  %s [%s] %s %s\n",
						e.Time.Format(time.RFC3339), e.Comp, e.Message, e.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max sessions to show")
	return cmd
}
