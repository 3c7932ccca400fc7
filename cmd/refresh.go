package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/threatmaps/refresher/pkg/app"
	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	refreshDataset string
	refreshForce   bool
)

//nolint:gochecknoglobals // Cobra commands are typically global
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run a one-shot refresh",
	Long:  `Refreshes one dataset or all enabled datasets once and prints the per-dataset results as JSON.`,
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().StringVar(&refreshDataset, "dataset", "", "dataset id to refresh (default: all enabled)")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "bypass the throttle policy")
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return err
	}

	application := app.NewApplication(cfg, logger)
	if err := application.StartCore(); err != nil {
		return err
	}

	defer func() {
		if err := application.Stop(); err != nil {
			logger.WithError(err).Warn("Error during shutdown")
		}
	}()

	ctx := context.Background()

	var results []refresh.Result
	if refreshDataset != "" {
		results = []refresh.Result{application.Coordinator().Refresh(ctx, refreshDataset, refreshForce)}
	} else {
		results = application.Coordinator().RefreshAll(ctx, refreshForce)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	for _, r := range results {
		if r.Status == refresh.StatusFailed {
			return fmt.Errorf("refresh failed for %s: %s", r.DatasetID, r.Error)
		}
	}

	return nil
}
