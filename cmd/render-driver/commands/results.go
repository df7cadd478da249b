package commands

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
	"github.com/spherical/render-driver/internal/collector"
)

var (
	resultsBrowser string
	resultsFailed  bool
	resultsFollow  bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show stored results",
	Long: `Results prints a per-browser summary of the result store, or every stored
page of one browser with --browser. With --follow it streams results from the
collection server's Redis channel as they arrive.`,
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVarP(&resultsBrowser, "browser", "b", "", "list every page stored for this browser")
	resultsCmd.Flags().BoolVar(&resultsFailed, "failed", false, "only list failed or mismatched pages")
	resultsCmd.Flags().BoolVarP(&resultsFollow, "follow", "f", false, "stream new results from Redis")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	if resultsFollow {
		return followResults(ctx, openPublisher(cfg, logger))
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if resultsBrowser == "" {
		summaries, err := store.Summaries(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(summaries))
		for _, s := range summaries {
			rows = append(rows, []string{s.Browser, strconv.Itoa(s.Total), strconv.Itoa(s.Failed), strconv.Itoa(s.Mismatched), strconv.Itoa(s.New)})
		}
		ui.Table([]string{"Browser", "Total", "Failed", "Mismatched", "New"}, rows)
		return nil
	}

	results, err := store.ListResults(ctx, resultsBrowser)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if resultsFailed && r.Failure == "" && r.Comparison != collector.ComparisonMismatch {
			continue
		}
		rows = append(rows, []string{
			r.TaskID,
			strconv.Itoa(r.Round),
			strconv.Itoa(r.Page) + "/" + strconv.Itoa(r.NumPages),
			string(r.Comparison),
			strconv.Itoa(r.Attempts),
			r.Failure,
		})
	}
	ui.Table([]string{"Task", "Round", "Page", "Comparison", "Attempts", "Failure"}, rows)
	return nil
}

func followResults(ctx context.Context, pub *collector.RedisPublisher) error {
	if pub == nil {
		return errors.New("--follow needs a reachable Redis (collector.redis.addr or REDIS_URL)")
	}
	defer pub.Close()

	events, unsubscribe, err := pub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	ui.Info("Following results, press Ctrl+C to stop")
	for e := range events {
		switch {
		case e.Failure != "":
			ui.Error("%s %s r%d p%d: %s", e.Browser, e.TaskID, e.Round, e.Page, e.Failure)
		case e.Comparison == collector.ComparisonMismatch:
			ui.Warning("%s %s r%d p%d: mismatch", e.Browser, e.TaskID, e.Round, e.Page)
		default:
			ui.Success("%s %s r%d p%d %s", e.Browser, e.TaskID, e.Round, e.Page, e.Comparison)
		}
	}
	return nil
}
