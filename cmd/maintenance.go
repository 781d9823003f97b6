package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/assignml/internal/adapters/repository"
	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/config"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/trainer"
	"github.com/okian/assignml/pkg/logger"
)

var errNoSchema = errors.New("the memory store has no schema to migrate")

func newMigrateCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the store schema",
		Long:  "Migrates the configured SQLite or PostgreSQL store to --version, or to the newest schema when omitted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.StoreMemory {
				return errNoSchema
			}
			db, err := repository.OpenDB(ctx, cfg.StoreDriver, cfg.StoreDSN)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			v, err := repository.Migrate(db, cfg.StoreDriver, version)
			if err != nil {
				return err
			}
			logger.Get().Info(ctx, "schema migrated", logger.String("driver", cfg.StoreDriver), logger.Int("version", int(v)))
			return printJSON(cmd.OutOrStdout(), map[string]any{"driver": cfg.StoreDriver, "version": v})
		},
	}
	cmd.Flags().IntVar(&version, "version", repository.LatestVersion, "Target schema version (default newest)")
	return cmd
}

func newTrainCmd() *cobra.Command {
	var req trainer.Request
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run one training cycle against the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			svc, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if err := svc.Start(ctx); err != nil {
				return err
			}

			h, err := svc.Trainer().Run(ctx, req)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if h.DeploymentStatus == model.DeploymentFailed {
				return fmt.Errorf("training failed: %s", h.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.ForceRetrain, "force", false, "Train even when the retrain policy says the model is current")
	cmd.Flags().BoolVar(&req.UseSynthetic, "synthetic", false, "Top up missing rows with synthetic data")
	cmd.Flags().BoolVar(&req.Shadow, "shadow", false, "Save the model without deploying it")
	cmd.Flags().IntVar(&req.MonthsBack, "months", 0, "Train on the last N months only (0 uses every row)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report the quality of recent training data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			svc, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			report, err := svc.ValidateData(ctx, months)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&months, "months", 6, "Number of months to inspect (0 inspects every row)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		out    string
		months int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export training data to a Parquet file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var since time.Time
			if months > 0 {
				since = time.Now().AddDate(0, -months, 0)
			}
			n, err := repository.ExportTrainingData(ctx, store, since, out)
			if err != nil {
				return err
			}
			logger.Get().Info(ctx, "training data exported", logger.String("path", out), logger.Int("rows", n))
			return printJSON(cmd.OutOrStdout(), map[string]any{"path": out, "rows": n})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Path of the Parquet file to write (required)")
	cmd.Flags().IntVar(&months, "months", 0, "Export the last N months only (0 exports every row)")
	if err := cmd.MarkFlagRequired("out"); err != nil {
		panic(fmt.Sprintf("failed to mark out flag as required: %v", err))
	}
	return cmd
}
