package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
	"github.com/spherical/render-driver/internal/pdf"
)

var renderOutDir string

var renderCmd = &cobra.Command{
	Use:   "render <pdf-file>",
	Short: "Render every page of a PDF to PNG files",
	Long: `Render rasterises a local PDF at the scale the driver uses and writes
page_NNN.png files, which can be copied into a reference directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", "", "output directory (default: <input-name>-pages)")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]
	if renderOutDir == "" {
		base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
		renderOutDir = filepath.Join(filepath.Dir(pdfPath), base+"-pages")
	}

	ctx, cancel := signalContext()
	defer cancel()

	spinner := ui.NewSpinner(fmt.Sprintf("Rendering %s...", filepath.Base(pdfPath)))
	spinner.Start()
	pages, err := pdf.Export(ctx, pdf.NewRenderer(), pdfPath, renderOutDir)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, []string{fmt.Sprintf("%d", p.PageNumber), fmt.Sprintf("%dx%d", p.Width, p.Height), p.ImagePath})
	}
	ui.Table([]string{"Page", "Size", "File"}, rows)
	ui.Newline()
	ui.Success("Rendered %d pages to %s", len(pages), renderOutDir)
	return nil
}
