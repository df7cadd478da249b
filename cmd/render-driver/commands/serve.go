package commands

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
)

var (
	serveHost       string
	servePort       int
	serveRoot       string
	serveSnapshots  string
	serveRefs       string
	serveExitOnQuit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection server",
	Long: `Serve accepts page results on /submit_task_results, stores them, writes their
snapshots to disk and compares them with reference snapshots. Files under the
root directory (manifests, documents) are served as static content.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "directory served as static files")
	serveCmd.Flags().StringVar(&serveSnapshots, "snapshots", "", "directory snapshots are written to")
	serveCmd.Flags().StringVar(&serveRefs, "refs", "", "directory holding reference snapshots")
	serveCmd.Flags().BoolVar(&serveExitOnQuit, "exit-on-quit", false, "stop the server when a quit request arrives")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Collector.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Collector.Port = servePort
	}
	if flags.Changed("root") {
		cfg.Collector.RootDir = serveRoot
	}
	if flags.Changed("snapshots") {
		cfg.Collector.SnapshotDir = serveSnapshots
	}
	if flags.Changed("refs") {
		cfg.Collector.RefsDir = serveRefs
	}
	if flags.Changed("exit-on-quit") {
		cfg.Collector.ExitOnQuit = serveExitOnQuit
	}

	if err := cfg.ValidateCollector(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	srv, _, cleanup, err := newCollector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ln, err := net.Listen("tcp", cfg.CollectorAddr())
	if err != nil {
		return err
	}

	ui.Info("Collection server listening on http://%s", ln.Addr())
	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	ui.Success("Collection server stopped")
	return nil
}
