package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cochaviz/boxes/internal/artifacts"
	"github.com/cochaviz/boxes/internal/config"
	"github.com/cochaviz/boxes/internal/environment"
	"github.com/cochaviz/boxes/internal/logging"
	"github.com/cochaviz/boxes/internal/setup"
	"github.com/cochaviz/boxes/internal/telemetry"
	"github.com/cochaviz/boxes/internal/templates"
	"github.com/cochaviz/boxes/internal/version"
)

// configOptional marks commands that run with defaults when the config file
// cannot be loaded.
const configOptional = "boxes/config-optional"

// app carries state shared by every command of one invocation.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar
	cfg      config.Config

	configPath  string
	logLevel    string
	logFormat   string
	tracePath   string
	metricsFile string

	tracer    *telemetry.TracerProvider
	traceFile *os.File
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	a := &app{
		levelVar: &levelVar,
		logger:   logging.NewCLI(os.Stderr, &levelVar),
		cfg:      config.Default(),
	}
	slog.SetDefault(a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(a)
	err := root.ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil {
		a.logger.Warn("telemetry shutdown failed", "error", closeErr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		a.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "boxes",
		Short:         "Render Packer manifests and drive machine image builds",
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", setup.ConfigPath(), "Path to the boxes configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Set log verbosity (debug, info, warning, error); overrides the config file")
	flags.StringVar(&a.logFormat, "log-format", "", "Set log format (text, json); overrides the config file")
	flags.StringVar(&a.tracePath, "trace", "", "Write trace spans as JSON to this file ('-' for stderr)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init(cmd)
	}

	root.AddCommand(
		newBuildCommand(a),
		newTemplatesCommand(a),
		newScriptsCommand(a),
		newPresetsCommand(),
		newPublishCommand(a),
		newSetupCommand(a),
	)
	return root
}

// init loads the configuration and configures logging and telemetry.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		if !isConfigOptional(cmd) {
			return err
		}
		a.logger.Debug("using default configuration", "reason", err)
		cfg = config.Default()
	}
	a.cfg = cfg

	levelName := cfg.Log.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.levelVar.Set(level)

	formatName := cfg.Log.Format
	if a.logFormat != "" {
		formatName = a.logFormat
	}
	mode, err := logging.ParseMode(formatName)
	if err != nil {
		return err
	}
	a.logger = logging.New(mode, os.Stderr, a.levelVar)
	slog.SetDefault(a.logger)
	setup.SetLogger(a.logger)

	if a.tracePath != "" {
		if err := a.startTracing(); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err == nil {
		return cfg, nil
	}
	// a missing default config is fine, a missing explicit one is not
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		a.logger.Debug("no configuration file found, using defaults", "path", a.configPath)
		return config.Default(), nil
	}
	return config.Config{}, err
}

func isConfigOptional(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[configOptional] == "true" {
			return true
		}
	}
	return false
}

func (a *app) startTracing() error {
	writer := os.Stderr
	if a.tracePath != "-" {
		if err := os.MkdirAll(filepath.Dir(a.tracePath), 0o755); err != nil {
			return fmt.Errorf("create trace directory: %w", err)
		}
		f, err := os.Create(a.tracePath)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.traceFile = f
		writer = f
	}

	tp, err := telemetry.NewTracerProvider("boxes", writer)
	if err != nil {
		return err
	}
	a.tracer = tp
	return nil
}

// close flushes traces and writes the metrics file.
func (a *app) close() error {
	var errs []error
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tracer.Shutdown(ctx))
		cancel()
	}
	if a.traceFile != nil {
		errs = append(errs, a.traceFile.Close())
	}
	if a.metricsFile != "" {
		errs = append(errs, telemetry.WriteMetrics(a.metricsFile, nil))
	}
	return errors.Join(errs...)
}

func (a *app) environment(workingDir string) *environment.Local {
	return environment.NewLocal(a.cfg.ScriptsDir, a.cfg.KeysDir, workingDir, a.logger)
}

func newTemplatesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect manifest templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the templates available to builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := templates.New(a.cfg.TemplatesDir)
			if err != nil {
				return err
			}
			names, err := renderer.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})
	return cmd
}

func newScriptsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Inspect provisioning scripts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the provisioning scripts builds may reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := a.environment(a.cfg.WorkingDir)
			if err := env.ScanError(); err != nil {
				return fmt.Errorf("scan scripts: %w", err)
			}
			for _, script := range env.AvailableScripts() {
				fmt.Fprintln(cmd.OutOrStdout(), script)
			}
			return nil
		},
	})
	return cmd
}

func newPublishCommand(a *app) *cobra.Command {
	var removeLocal bool
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Upload a box or manifest to the configured object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := a.logger.With("command", "publish", "file", args[0])
			if !a.cfg.ObjectStore.Enabled() {
				return errors.New("object_store is not configured")
			}
			store, err := artifacts.NewObjectStore(a.cfg.ObjectStore)
			if err != nil {
				return err
			}

			artifact, err := artifacts.Describe(args[0], artifactKind(args[0]), nil)
			if err != nil {
				return err
			}
			published, err := store.Publish(cmd.Context(), artifact)
			if err != nil {
				return err
			}
			cmdLogger.Info("artifact published", "uri", published.URI)
			fmt.Fprintln(cmd.OutOrStdout(), published.URI)

			if removeLocal {
				local := &artifacts.LocalArtifactStore{}
				if err := local.RemoveArtifact(artifact); err != nil {
					return fmt.Errorf("remove %s: %w", args[0], err)
				}
				cmdLogger.Info("local copy removed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&removeLocal, "remove-local", false, "Remove the file and its metadata sidecar after upload")
	return cmd
}

func artifactKind(path string) artifacts.ArtifactKind {
	if filepath.Ext(path) == ".json" {
		return artifacts.ManifestArtifact
	}
	return artifacts.BoxArtifact
}

func newSetupCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "setup",
		Short:       "Initialize or inspect the host configuration",
		Annotations: map[string]string{configOptional: "true"},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and create storage directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := a.logger.With("command", "setup.init")
			if err := setup.Init(force); err != nil {
				cmdLogger.Error("setup failed", "error", err)
				return err
			}
			cmdLogger.Info("setup completed", "config", setup.ConfigPath())
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing configuration file")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the configuration exists and is valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifySetup(a.logger)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup.ClearConfig(); err != nil {
				return fmt.Errorf("clear configuration: %w", err)
			}
			a.logger.Info("configuration cleared")
			return nil
		},
	}

	cmd.AddCommand(initCmd, verifyCmd, clearCmd)
	return cmd
}

func verifySetup(logger *slog.Logger) error {
	logger = logger.With("action", "verify_setup")
	logger.Info("verifying setup state")
	if err := setup.Verify(); err != nil {
		logger.Error("setup verification failed", "error", err)
		logger.Info("run 'boxes setup init' to initialize the configuration")
		return err
	}
	logger.Info("setup verification succeeded")
	return nil
}
