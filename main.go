/*
Qmaze trains a tabular Q-learning agent on a small grid maze and streams every step
of the learning state to any number of browser tabs over websockets. One engine is
shared by the HTTP handlers, the websocket-triggered simulation loop and offline
pre-training; observers subscribe to a broadcaster and never slow the learner down.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qmaze/broadcast"
	"qmaze/models"
	"qmaze/reinforcement"
	"qmaze/server"
	"qmaze/shared_state"
	"qmaze/simulation"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	host       string
	port       string
	webDir     string
	logLevel   string
	episodes   int
	color      bool
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "qmaze",
		Short:         "Qmaze trains a Q-learning agent on a grid maze and streams its progress to browsers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", envOr("QMAZE_CONFIG", ""), "path to a kind/def yaml config; built-in defaults if empty")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("QMAZE_LOG_LEVEL", "info"), "debug, info, warn or error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shared maze over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
	serveCmd.Flags().StringVar(&opts.host, "host", envOr("QMAZE_HOST", ""), "the host ip")
	serveCmd.Flags().StringVar(&opts.port, "port", envOr("QMAZE_PORT", "8080"), "the host port")
	serveCmd.Flags().StringVar(&opts.webDir, "web", envOr("QMAZE_WEB", ""), "directory of static assets served at / and /web/")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train offline and print the learned policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraining(cmd.Context(), opts)
		},
	}
	trainCmd.Flags().IntVar(&opts.episodes, "episodes", 0, "episodes to train; the config's simulation episodes if zero")
	trainCmd.Flags().BoolVar(&opts.color, "color", true, "colorize console output")

	rootCmd.AddCommand(serveCmd, trainCmd)
	return rootCmd
}

func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "qmaze",
		Level:           lvl,
	}), nil
}

func loadConfig(path string) (*reinforcement.TrainingConfig, error) {
	if path == "" {
		return reinforcement.DefaultConfig(), nil
	}
	return reinforcement.FromYaml(path)
}

// pretrain runs offline episodes before anyone observes the engine.
func pretrain(
	ctx context.Context,
	cfg *reinforcement.TrainingConfig,
	engine *reinforcement.Engine,
	episodes int,
	logger *log.Logger,
) (int, error) {
	trainingCtx, cancel, err := cfg.WithTrainingDeadline(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	completed := reinforcement.Train(
		trainingCtx,
		engine,
		episodes,
		cfg.Simulation.MaxStepsPerEpisode,
		func(_ context.Context, n int) {
			if n%100 == 0 {
				logger.Debug("training", "episode", n)
			}
		})
	logger.Info("training finished", "episodes", completed, "requested", episodes)
	return completed, nil
}

func runServer(ctx context.Context, opts *options) (err error) {
	var logger *log.Logger
	if logger, err = newLogger(opts.logLevel); err != nil {
		return
	}

	var cfg *reinforcement.TrainingConfig
	if cfg, err = loadConfig(opts.configPath); err != nil {
		return
	}

	var engine *reinforcement.Engine
	if engine, err = cfg.BuildEngine(); err != nil {
		return
	}

	if cfg.Simulation.PretrainEpisodes > 0 {
		if _, err = pretrain(ctx, cfg, engine, cfg.Simulation.PretrainEpisodes, logger); err != nil {
			return
		}
		engine.Reset()
	}

	interval, err := cfg.StepInterval()
	if err != nil {
		return
	}

	updates := broadcast.New[reinforcement.Snapshot](cfg.Simulation.SubscriberBuffer)
	state := shared_state.New(engine, updates)
	loop := simulation.NewLoop(state, simulation.Config{
		Episodes:           cfg.Simulation.Episodes,
		MaxStepsPerEpisode: cfg.Simulation.MaxStepsPerEpisode,
		StepInterval:       interval,
	}, logger)

	var srv *server.Server
	if srv, err = server.NewServer(
		ctx,
		opts.host+":"+opts.port,
		state,
		updates,
		loop,
		opts.webDir,
		logger,
	); err != nil {
		return
	}

	return srv.Serve()
}

func runTraining(ctx context.Context, opts *options) (err error) {
	var logger *log.Logger
	if logger, err = newLogger(opts.logLevel); err != nil {
		return
	}

	var cfg *reinforcement.TrainingConfig
	if cfg, err = loadConfig(opts.configPath); err != nil {
		return
	}

	var engine *reinforcement.Engine
	if engine, err = cfg.BuildEngine(); err != nil {
		return
	}

	episodes := opts.episodes
	if episodes <= 0 {
		episodes = cfg.Simulation.Episodes
	}
	if _, err = pretrain(ctx, cfg, engine, episodes, logger); err != nil {
		return
	}

	// Show one more episode under the learned table.
	result := reinforcement.RunEpisode(ctx, engine, cfg.Simulation.MaxStepsPerEpisode)
	logger.Info("final episode", "steps", result.Steps, "return", result.Return, "goal", result.ReachedGoal)

	au := aurora.NewAurora(opts.color)
	snap := engine.Snapshot()
	out := os.Stdout
	models.ShowGrid(out, au, engine.Grid(), snap.Agent, snap.Path())
	fmt.Fprintln(out)
	reinforcement.ShowPolicy(out, au, engine.Grid(), snap)
	fmt.Fprintln(out)
	reinforcement.ShowMaxValues(out, au, engine.Grid(), snap)
	return nil
}

func main() {
	for _, envFile := range []string{
		".env",
		"../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
