package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
)

var (
	driveURL      string
	driveBrowser  string
	driveManifest string
	driveAppPath  string
	driveServer   string
	driveQuiet    bool
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Render a manifest and report every page to a collection server",
	Long: `Drive walks the manifest, renders each requested page, posts every
snapshot to the collection server and, once all posts are acknowledged, asks
the server to quit the application under test.

The run can be described by flags or by the driver URL a hosting page would
receive, e.g.
  render-driver drive --url 'http://localhost:8080/driver.html?browser=firefox&manifestFile=test_manifest.json&path=/usr/bin/firefox'`,
	RunE: runDrive,
}

func init() {
	driveCmd.Flags().StringVarP(&driveURL, "url", "u", "", "driver URL carrying browser, manifestFile and path query parameters")
	driveCmd.Flags().StringVarP(&driveBrowser, "browser", "b", "", "browser identifier reported with every result")
	driveCmd.Flags().StringVarP(&driveManifest, "manifest", "m", "", "manifest path or URL")
	driveCmd.Flags().StringVar(&driveAppPath, "app-path", "", "application path echoed in the quit request")
	driveCmd.Flags().StringVarP(&driveServer, "server", "s", "", "collection server base URL")
	driveCmd.Flags().BoolVarP(&driveQuiet, "quiet", "q", false, "show a progress bar and failures instead of the full transcript")
	rootCmd.AddCommand(driveCmd)
}

func runDrive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if driveURL != "" {
		params, err := parseDriverURL(driveURL)
		if err != nil {
			return err
		}
		params.apply(&cfg.Driver)
	}
	driverParams{
		Server:   driveServer,
		Browser:  driveBrowser,
		Manifest: driveManifest,
		AppPath:  driveAppPath,
	}.apply(&cfg.Driver)

	if err := cfg.ValidateDriver(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	ui.Section("Render Driver")
	ui.KeyValue("Browser", cfg.Driver.Browser)
	ui.KeyValue("Manifest", cfg.Driver.Manifest)
	ui.KeyValue("Server", cfg.Driver.Server)
	ui.Newline()

	return runDriver(ctx, cfg, logger, nil, driveQuiet)
}
