package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/claimtype/internal/config"
	"github.com/banshee-data/claimtype/internal/db"
	"github.com/banshee-data/claimtype/internal/model"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/telemetry"
	"github.com/banshee-data/claimtype/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	envFile     string
	modelPath   string
	modelFormat string
	onnxLibrary string
	historyDB   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "claimtype",
		Short: "Workers' compensation claim type predictor",
		Long: "claimtype predicts the claim type of a workers' compensation claim from a trained\n" +
			"gradient boosted classifier (XGBoost JSON or ONNX).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a JSON config file")
	pf.StringVar(&g.envFile, "env-file", ".env", "Optional .env file read before CLAIMTYPE_* variables")
	pf.StringVar(&g.modelPath, "model", "", "Model artifact path (default "+config.DefaultModelPath+")")
	pf.StringVar(&g.modelFormat, "model-format", "", "Model format: auto, xgboost-json or onnx")
	pf.StringVar(&g.onnxLibrary, "onnx-library", "", "Path to the onnxruntime shared library")
	pf.StringVar(&g.historyDB, "history-db", "", "SQLite prediction history; empty disables history")

	root.AddCommand(
		newServeCmd(g),
		newPredictCmd(g),
		newTUICmd(g),
		newMigrateCmd(g),
		newVersionCmd(),
	)
	return root
}

// resolve layers config file, environment, global flags and then overlay.
func (g *globalFlags) resolve(overlay *config.Config) (*config.Config, error) {
	if g.envFile != "" {
		if err := config.LoadDotEnv(g.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Resolve(g.configPath, os.Getenv)
	if err != nil {
		return nil, err
	}

	flags := config.Empty()
	setString(&flags.ModelPath, g.modelPath)
	setString(&flags.ModelFormat, g.modelFormat)
	setString(&flags.ONNXLibraryPath, g.onnxLibrary)
	setString(&flags.HistoryDB, g.historyDB)
	cfg.Merge(flags)
	cfg.Merge(overlay)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setString(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

func predictorConfig(cfg *config.Config) predictor.Config {
	return predictor.Config{
		ModelPath: cfg.GetModelPath(),
		Model: model.Options{
			Format:          cfg.GetModelFormat(),
			ONNXLibraryPath: cfg.GetONNXLibraryPath(),
			ONNXInputName:   cfg.GetONNXInputName(),
			ONNXLabelOutput: cfg.GetONNXLabelOutput(),
			ONNXProbaOutput: cfg.GetONNXProbaOutput(),
		},
	}
}

// runtime is the long-lived state behind serve and tui.
type runtime struct {
	pred      *predictor.Predictor
	res       *predictor.Resources
	loadErr   error
	db        *db.DB
	history   *db.History
	telemetry *telemetry.Provider
}

// openRuntime opens history and telemetry and loads the model. A model that
// fails to load is kept as loadErr so the front ends can show it; only
// infrastructure failures are returned.
func openRuntime(ctx context.Context, cfg *config.Config, withTelemetry bool) (*runtime, error) {
	rt := &runtime{}
	var opts []predictor.Option

	if withTelemetry {
		tp, err := telemetry.New(ctx, &telemetry.Config{
			ServiceName:    cfg.GetServiceName(),
			ServiceVersion: version.Version,
			OTLPEndpoint:   cfg.GetOTLPEndpoint(),
			Insecure:       cfg.GetOTLPInsecure(),
		})
		if err != nil {
			return nil, err
		}
		rt.telemetry = tp
		opts = append(opts, predictor.WithTelemetry(tp))
	}

	if path := cfg.GetHistoryDB(); path != "" {
		d, err := db.NewDB(path)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		rt.db = d
		rt.history = db.NewHistory(d, nil)
		opts = append(opts, predictor.WithRecorder(rt.history))
		log.Printf("recording prediction history in %s", path)
	}

	res, err := predictor.Load(ctx, predictorConfig(cfg))
	if err != nil {
		log.Printf("model unavailable: %v", err)
		rt.loadErr = err
		return rt, nil
	}
	rt.res = res
	rt.pred = predictor.New(res, opts...)
	return rt, nil
}

func (rt *runtime) Close(ctx context.Context) {
	if rt.res != nil {
		if err := rt.res.Close(); err != nil {
			log.Printf("failed to close model: %v", err)
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			log.Printf("failed to close history database: %v", err)
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
