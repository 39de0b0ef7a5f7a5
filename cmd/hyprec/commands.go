package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/temcen/hyprec/internal/app"
	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/pkg/models"
)

var recommenderConfigPath string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hyprec",
		Short: "Hybrid recommender for scientific articles",
		Long: `HyPRec trains a hybrid content-based and collaborative recommender
over article abstracts and user libraries, and serves its predictions.

Examples:
  # Train once and print the evaluation report
  hyprec evaluate

  # Top 10 documents for user 42
  hyprec recommend 42 --count 10

  # Run the HTTP API
  hyprec serve`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&recommenderConfigPath, "recommender-config", "", "recommender JSON config (default from recommender.config_path)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newRecommendCmd())

	return rootCmd
}

// withApp loads configuration, builds the application and tears it down
// once fn returns.
func withApp(fn func(ctx context.Context, application *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if recommenderConfigPath != "" {
		cfg.Recommender.ConfigPath = recommenderConfigPath
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, application)
	if err := application.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if recommenderConfigPath != "" {
				cfg.Recommender.ConfigPath = recommenderConfigPath
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return application.Serve(ctx)
		},
	}
}

func newTrainCmd() *cobra.Command {
	var (
		evaluate bool
		nFactors int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the recommender once",
		Long:  `Train the configured recommender system on the current data. Trained matrices are cached in Redis for later runs.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.TrainingRequest{Evaluate: evaluate}
			if nFactors > 0 {
				req.NFactors = &nFactors
			}
			return withApp(func(ctx context.Context, application *app.App) error {
				report, err := application.Recommender().Train(ctx, req)
				if err != nil {
					return err
				}
				if report != nil {
					return printJSON(report)
				}
				return printJSON(application.Recommender().Status())
			})
		},
	}

	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "evaluate the trained model on a held-out split")
	cmd.Flags().IntVar(&nFactors, "n-factors", 0, "override the number of latent factors")

	return cmd
}

func newEvaluateCmd() *cobra.Command {
	var crossValidate bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Train and print the evaluation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.TrainingRequest{Evaluate: true, CrossValidate: crossValidate}
			return withApp(func(ctx context.Context, application *app.App) error {
				report, err := application.Recommender().Train(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}

	cmd.Flags().BoolVar(&crossValidate, "cross-validate", false, "average the metrics over options.k_folds folds")

	return cmd
}

func newRecommendCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "recommend [user-id]",
		Short: "Train and print the top documents for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID < 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			return withApp(func(ctx context.Context, application *app.App) error {
				if _, err := application.Recommender().Train(ctx, models.TrainingRequest{}); err != nil {
					return err
				}
				response, err := application.Recommender().Recommend(ctx, userID, count)
				if err != nil {
					return err
				}
				return printJSON(response)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of documents (default n_recommendations)")

	return cmd
}
