package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
	"github.com/spherical/render-driver/internal/driver"
)

var (
	runBrowser  string
	runManifest string
	runRefs     string
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a manifest against an in-process collection server",
	Long: `Run starts the collection server on a free local port, drives the manifest
against it and stops the server through its control API once every result has
been acknowledged. The stored results are summarised at the end.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runBrowser, "browser", "b", "", "browser identifier reported with every result")
	runCmd.Flags().StringVarP(&runManifest, "manifest", "m", "", "manifest path or URL")
	runCmd.Flags().StringVar(&runRefs, "refs", "", "directory holding reference snapshots")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "show a progress bar and failures instead of the full transcript")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runBrowser != "" {
		cfg.Driver.Browser = runBrowser
	}
	if runManifest != "" {
		cfg.Driver.Manifest = runManifest
	}
	if runRefs != "" {
		cfg.Collector.RefsDir = runRefs
	}
	cfg.Collector.RootDir = ""

	if err := cfg.ValidateCollector(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	srv, store, cleanup, err := newCollector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Collector.Host, "0"))
	if err != nil {
		return err
	}
	cfg.Driver.Server = "http://" + ln.Addr().String()
	if err := cfg.ValidateDriver(); err != nil {
		ln.Close()
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	host := driver.QuitFunc(func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})
	if err := runDriver(ctx, cfg, logger, host, runQuiet); err != nil {
		_ = srv.Shutdown(context.Background())
		<-serveErr
		return err
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("collection server: %w", err)
	}

	summaries, err := store.Summaries(context.Background())
	if err != nil {
		return err
	}

	ui.Section("Stored Results")
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.Browser, strconv.Itoa(s.Total), strconv.Itoa(s.Failed), strconv.Itoa(s.Mismatched), strconv.Itoa(s.New)})
	}
	ui.Table([]string{"Browser", "Total", "Failed", "Mismatched", "New"}, rows)
	return nil
}
