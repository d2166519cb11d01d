package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cochaviz/boxes/internal/artifacts"
	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/build/adapters/libvirt"
	"github.com/cochaviz/boxes/internal/build/adapters/packer"
	"github.com/cochaviz/boxes/internal/config"
	"github.com/cochaviz/boxes/internal/presets"
	"github.com/cochaviz/boxes/internal/seed"
	"github.com/cochaviz/boxes/internal/templates"
)

type buildFlags struct {
	opts       build.Options
	preset     string
	bootstrap  string
	workingDir string
	outputDir  string
	failStderr bool
	seed       bool
	clean      bool
	finalize   bool
	publish    bool
	prune      bool
	printJSON  bool
}

func newBuildCommand(a *app) *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "build [options-file]",
		Short: "Render a manifest and run the build tool against it",
		Long: "Render the manifest for a build described by a preset, an options file and flags, " +
			"validate it and run the build. The options file overrides the preset and flags override both.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts build.Options
			if f.preset != "" {
				preset, err := loadPreset(f.preset)
				if err != nil {
					return err
				}
				opts = preset.Options
			}
			if len(args) == 1 {
				loaded, err := config.LoadOptionsOver(args[0], opts)
				if err != nil {
					return err
				}
				opts = loaded
			}
			applyOptionFlags(&opts, f, cmd.Flags())

			settings := a.cfg.Settings()
			if cmd.Flags().Changed("working-dir") {
				settings.WorkingDir = f.workingDir
			}
			if cmd.Flags().Changed("fail-on-validate-stderr") {
				settings.FailOnValidateStderr = f.failStderr
			}
			if cmd.Flags().Changed("seed") {
				settings.CloudInitSeed = f.seed
			}

			orchestrator, err := build.NewOrchestrator(a.environment(settings.WorkingDir), opts, settings)
			if err != nil {
				return err
			}
			if err := a.wire(orchestrator, f); err != nil {
				return err
			}
			orchestrator.OutputDir = f.outputDir
			orchestrator.Output = cmd.OutOrStdout()

			cmdLogger := a.logger.With("command", "build", "build", orchestrator.Spec.BuildName)
			result, runErr := orchestrator.Run(cmd.Context())

			if f.clean {
				if err := orchestrator.Clean(); err != nil {
					if runErr == nil {
						return fmt.Errorf("clean: %w", err)
					}
					if !errors.Is(err, fs.ErrNotExist) {
						cmdLogger.Warn("clean failed", "error", err)
					}
				}
			}
			if runErr != nil {
				return runErr
			}

			if f.finalize {
				if err := orchestrator.Finalize(); err != nil {
					return fmt.Errorf("finalize: %w", err)
				}
			}

			if f.printJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			if !result.Artifact.IsZero() {
				cmdLogger.Info("artifact ready", "uri", result.Artifact.URI)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.preset, "preset", "", "Start from a built-in preset (see 'boxes presets list')")
	flags.StringVar(&f.opts.Name, "name", "", "Image name")
	flags.StringVar(&f.opts.Description, "description", "", "Image description")
	flags.StringVar(&f.opts.Template, "template", "", "Manifest template to render")
	flags.StringVar(&f.opts.Provider, "provider", "", "Build provider (virtualbox, qemu, amazon-ebs, ...)")
	flags.StringVar(&f.opts.Provisioner, "provisioner", "", "Provisioner (vagrant, aws, or any other name)")
	flags.StringVar(&f.opts.ShellExecCommand, "shell-exec-command", "", "Override the shell provisioner execute command")
	flags.StringSliceVar(&f.opts.Scripts, "script", nil, "Provisioning script to run, repeatable and in order")
	flags.StringVar(&f.bootstrap, "bootstrap", "", "Inline bootstrap script")
	flags.StringVar(&f.opts.AppCreator, "app-creator", "", "Attribution creator (default $USER)")
	flags.StringVar(&f.opts.AppProject, "app-project", "", "Attribution project")
	flags.StringVar(&f.opts.AppVersion, "app-version", "", "Attribution version")
	flags.StringVar(&f.opts.AWSAccessKey, "aws-access-key", "", "AWS access key")
	flags.StringVar(&f.opts.AWSSecretKey, "aws-secret-key", "", "AWS secret key")
	flags.StringVar(&f.opts.AWSRegion, "aws-region", "", "AWS region")
	flags.StringVar(&f.opts.AWSSourceAMI, "aws-source-ami", "", "Source AMI")
	flags.StringVar(&f.opts.AWSUserData, "aws-user-data", "", "EC2 user data")

	flags.StringVar(&f.workingDir, "working-dir", "", "Override the configured working directory")
	flags.StringVar(&f.outputDir, "output-dir", "", "Directory receiving local artifacts (default current directory)")
	flags.BoolVar(&f.failStderr, "fail-on-validate-stderr", false, "Fail validation on any stderr output")
	flags.BoolVar(&f.seed, "seed", false, "Write a cloud-init seed image next to the manifest")
	flags.BoolVar(&f.clean, "clean", false, "Remove the rendered manifest afterwards")
	flags.BoolVar(&f.finalize, "finalize", false, "Re-sync SSH keys after a successful build")
	flags.BoolVar(&f.publish, "publish", false, "Upload box artifacts to the configured object store")
	flags.BoolVar(&f.prune, "prune-local", false, "Remove the local box after it has been published")
	flags.BoolVar(&f.printJSON, "json", false, "Print the build result as JSON")

	return cmd
}

// applyOptionFlags copies every option flag set on the command line into opts.
func applyOptionFlags(opts *build.Options, f buildFlags, flags *pflag.FlagSet) {
	stringFlags := map[string]struct {
		dst *string
		src string
	}{
		"name":               {&opts.Name, f.opts.Name},
		"description":        {&opts.Description, f.opts.Description},
		"template":           {&opts.Template, f.opts.Template},
		"provider":           {&opts.Provider, f.opts.Provider},
		"provisioner":        {&opts.Provisioner, f.opts.Provisioner},
		"shell-exec-command": {&opts.ShellExecCommand, f.opts.ShellExecCommand},
		"app-creator":        {&opts.AppCreator, f.opts.AppCreator},
		"app-project":        {&opts.AppProject, f.opts.AppProject},
		"app-version":        {&opts.AppVersion, f.opts.AppVersion},
		"aws-access-key":     {&opts.AWSAccessKey, f.opts.AWSAccessKey},
		"aws-secret-key":     {&opts.AWSSecretKey, f.opts.AWSSecretKey},
		"aws-region":         {&opts.AWSRegion, f.opts.AWSRegion},
		"aws-source-ami":     {&opts.AWSSourceAMI, f.opts.AWSSourceAMI},
		"aws-user-data":      {&opts.AWSUserData, f.opts.AWSUserData},
	}
	for name, field := range stringFlags {
		if flags.Changed(name) {
			*field.dst = field.src
		}
	}
	if flags.Changed("script") {
		opts.Scripts = append([]string(nil), f.opts.Scripts...)
	}
	if flags.Changed("bootstrap") {
		opts.Bootstrap = f.bootstrap
	}
}

// wire attaches the host collaborators to an orchestrator.
func (a *app) wire(o *build.Orchestrator, f buildFlags) error {
	renderer, err := templates.New(a.cfg.TemplatesDir)
	if err != nil {
		return err
	}

	logger := a.logger
	o.Renderer = renderer
	o.Runner = &packer.Runner{Logger: logger.With("component", "packer")}
	if a.cfg.LibvirtEnabled() {
		o.Preflights = append(o.Preflights, &libvirt.Preflight{
			ConnectURI:     a.cfg.Libvirt.ConnectURI,
			NetworkName:    a.cfg.Libvirt.Network,
			NetworkXMLPath: a.cfg.Libvirt.NetworkXML,
			Logger:         logger,
		})
	}
	o.Relocator = &artifacts.LocalArtifactStore{WriteMetadata: true}
	o.Seeds = &seed.Writer{Logger: logger}
	o.Logger = logger

	if f.publish {
		publisher, err := a.publisher(logger)
		if err != nil {
			return err
		}
		o.Publisher = publisher
		o.PruneAfterPublish = f.prune
	} else if f.prune {
		return errors.New("--prune-local requires --publish")
	}
	return nil
}

func (a *app) publisher(logger *slog.Logger) (*artifacts.ObjectStore, error) {
	if !a.cfg.ObjectStore.Enabled() {
		return nil, errors.New("--publish requires object_store in the configuration")
	}
	store, err := artifacts.NewObjectStore(a.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	logger.Debug("publishing enabled", "endpoint", a.cfg.ObjectStore.Endpoint, "bucket", a.cfg.ObjectStore.Bucket)
	return store, nil
}

func loadPreset(name string) (presets.Preset, error) {
	repo, err := presets.NewEmbeddedRepository()
	if err != nil {
		return presets.Preset{}, err
	}
	return repo.Get(name)
}

func newPresetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect built-in build presets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the built-in presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := presets.NewEmbeddedRepository()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, preset := range repo.ListAll() {
				fmt.Fprintf(out, "%s\t%s\n", preset.Name, preset.Options.Description)
			}
			return nil
		},
	})
	return cmd
}
