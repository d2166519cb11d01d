package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cochaviz/boxes/internal/artifacts"
	"github.com/cochaviz/boxes/internal/logging"
)

const tracerName = "github.com/cochaviz/boxes/internal/build"

// Build steps, used for tracing and failure metrics.
const (
	stepPreflight = "preflight"
	stepRender    = "render"
	stepPersist   = "persist"
	stepValidate  = "validate"
	stepBuild     = "build"
	stepHandoff   = "handoff"
)

// Orchestrator drives one build: render, persist, validate, build, and hand
// off the artifact. Run is not safe for concurrent use.
type Orchestrator struct {
	Spec        BuildSpec
	Settings    Settings
	Environment Environment
	Renderer    TemplateRenderer
	Runner      ToolRunner

	// Optional collaborators.
	Preflights []Preflight
	Relocator  ArtifactRelocator
	Publisher  ArtifactPublisher
	Seeds      SeedWriter

	// OutputDir receives local artifacts. Defaults to the working directory
	// of the process when Run starts.
	OutputDir string
	// PruneAfterPublish removes the local box once it has been published.
	PruneAfterPublish bool
	// Output receives the build tool's output as it arrives. Defaults to os.Stdout.
	Output io.Writer
	Logger *slog.Logger
}

// NewOrchestrator validates opts and returns an orchestrator for them. No
// files are touched and no processes are started.
func NewOrchestrator(env Environment, opts Options, settings Settings) (*Orchestrator, error) {
	spec, err := NewBuildSpec(env, opts)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Spec:        spec,
		Settings:    settings,
		Environment: env,
	}, nil
}

// ManifestPath is the on-disk location of the rendered manifest.
func (o *Orchestrator) ManifestPath() string {
	return filepath.Join(o.Settings.WorkingDir, o.Spec.ManifestFile())
}

// SeedPath is the on-disk location of the cloud-init seed image.
func (o *Orchestrator) SeedPath() string {
	return filepath.Join(o.Settings.WorkingDir, o.Spec.SeedFile())
}

// Run executes the build. Any failure is terminal; the manifest may be left
// behind and should be removed with Clean.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if err := o.checkConfigured(); err != nil {
		return Result{}, err
	}

	kind := o.Spec.Provisioner.Kind()
	logger := o.logger().With(
		"build", o.Spec.BuildName,
		"provider", o.Spec.Provider,
		"provisioner", kind,
	)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.run")
	span.SetAttributes(
		attribute.String("build.name", o.Spec.BuildName),
		attribute.String("build.provider", o.Spec.Provider),
		attribute.String("build.provisioner", kind),
		attribute.String("build.template", o.Spec.Template),
	)
	defer span.End()

	started := time.Now()
	recordBuildStart(kind)
	logger.Info("starting build", "template", o.Spec.Template, "working_dir", o.Settings.WorkingDir)

	result, err := o.run(ctx, logger)
	recordBuildEnd(kind, time.Since(started).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("build failed", "error", err, "duration", time.Since(started).Round(time.Second))
		return Result{}, err
	}

	logger.Info("build completed", "duration", time.Since(started).Round(time.Second))
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger) (Result, error) {
	spec := o.Spec
	result := Result{
		BuildName:    spec.BuildName,
		ManifestPath: o.ManifestPath(),
	}

	var extra map[string]any
	if err := o.step(ctx, stepPreflight, func(ctx context.Context) error {
		values, err := o.preflight(ctx, logger)
		extra = values
		return err
	}); err != nil {
		return Result{}, err
	}

	var rendered string
	if err := o.step(ctx, stepRender, func(context.Context) error {
		data := RenderOptions(spec)
		for key, value := range extra {
			data[key] = value
		}
		if o.seedEnabled() {
			data["seed_iso"] = spec.SeedFile()
		}
		text, err := o.Renderer.Render(spec.Template, data)
		if err != nil {
			return fmt.Errorf("render template %s: %w", spec.Template, err)
		}
		rendered = text
		return nil
	}); err != nil {
		return Result{}, err
	}

	if err := o.step(ctx, stepPersist, func(context.Context) error {
		return o.persist(rendered, logger)
	}); err != nil {
		return Result{}, err
	}

	env := o.Settings.Environ()

	originalDir := o.OutputDir
	if originalDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Result{}, fmt.Errorf("resolve current directory: %w", err)
		}
		originalDir = cwd
	}

	if err := o.step(ctx, stepValidate, func(ctx context.Context) error {
		return o.validate(ctx, env, logger)
	}); err != nil {
		return Result{}, err
	}

	var artifactID string
	if err := o.step(ctx, stepBuild, func(ctx context.Context) error {
		id, err := o.build(ctx, env, logger)
		artifactID = id
		return err
	}); err != nil {
		return Result{}, err
	}

	if err := o.step(ctx, stepHandoff, func(ctx context.Context) error {
		artifact, err := o.handoff(ctx, artifactID, originalDir, logger)
		result.Artifact = artifact
		return err
	}); err != nil {
		return Result{}, err
	}

	return result, nil
}

func (o *Orchestrator) preflight(ctx context.Context, logger *slog.Logger) (map[string]any, error) {
	values := make(map[string]any)
	for _, check := range o.Preflights {
		if check == nil || !check.Applies(o.Spec) {
			continue
		}
		extra, err := check.Check(ctx, o.Spec)
		if err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
		for key, value := range extra {
			values[key] = value
		}
	}
	logger.Debug("preflight checks passed", "checks", len(o.Preflights))
	return values, nil
}

func (o *Orchestrator) persist(rendered string, logger *slog.Logger) error {
	if err := os.MkdirAll(o.Settings.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	if err := os.WriteFile(o.ManifestPath(), []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	logger.Info("manifest written", "path", o.ManifestPath())

	if o.Environment != nil {
		if err := o.Environment.SyncSSHKeys(false); err != nil {
			return fmt.Errorf("sync ssh keys: %w", err)
		}
	}

	if o.seedEnabled() {
		if err := o.Seeds.WriteSeed(o.SeedPath(), o.Spec); err != nil {
			return fmt.Errorf("write seed image: %w", err)
		}
		logger.Info("cloud-init seed written", "path", o.SeedPath())
	}
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, env []EnvVar, logger *slog.Logger) error {
	invocation := Invocation{
		Args: []string{o.Settings.tool(), "validate", o.Spec.ManifestFile()},
		Dir:  o.Settings.WorkingDir,
		Env:  env,
	}
	logger.Info("validating manifest", "command", strings.Join(invocation.Args, " "))

	exitCode, err := o.Runner.Run(ctx, invocation, func(line Line) error {
		o.echo(line, logger)
		if line.Stream == Stderr && o.Settings.FailOnValidateStderr {
			return &StderrOutputError{Step: stepValidate, Line: line.Text}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return &ValidateError{ExitCode: exitCode}
	}
	return nil
}

func (o *Orchestrator) build(ctx context.Context, env []EnvVar, logger *slog.Logger) (string, error) {
	invocation := Invocation{
		Args: []string{o.Settings.tool(), "build", "--force", o.Spec.ManifestFile()},
		Dir:  o.Settings.WorkingDir,
		Env:  env,
	}
	logger.Info("running build", "command", strings.Join(invocation.Args, " "))

	extract := o.Spec.Provisioner.Extractor()
	var artifactID string

	exitCode, err := o.Runner.Run(ctx, invocation, func(line Line) error {
		o.echo(line, logger)
		if line.Stream != Stdout || extract == nil || artifactID != "" {
			return nil
		}
		if id, ok := extract(line.Text); ok {
			artifactID = id
			logger.Info("artifact detected", "artifact", id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", &BuildRunError{ExitCode: exitCode}
	}
	return artifactID, nil
}

func (o *Orchestrator) handoff(ctx context.Context, artifactID, originalDir string, logger *slog.Logger) (artifacts.Artifact, error) {
	spec := o.Spec
	metadata := map[string]any{
		"build_name":  spec.BuildName,
		"provider":    spec.Provider,
		"provisioner": spec.Provisioner.Kind(),
		"app_creator": spec.Attribution.Creator,
		"app_project": spec.Attribution.Project,
		"app_version": spec.Attribution.Version,
	}

	switch provisioner := spec.Provisioner.(type) {
	case VagrantProvisioner:
		if artifactID == "" {
			return artifacts.Artifact{}, &ArtifactNotFoundError{Provisioner: provisioner.Kind()}
		}
		source := filepath.Join(o.Settings.WorkingDir, artifactID)
		artifact, err := o.relocator().Relocate(source, originalDir, artifacts.BoxArtifact, metadata)
		if err != nil {
			return artifacts.Artifact{}, err
		}
		logger.Info("box moved", "box", artifactID, "destination", originalDir)

		if o.Publisher != nil {
			published, err := o.Publisher.Publish(ctx, artifact)
			if err != nil {
				return artifact, fmt.Errorf("publish %s: %w", artifactID, err)
			}
			logger.Info("box published", "uri", published.URI)

			if o.PruneAfterPublish {
				if err := o.relocator().RemoveArtifact(artifact); err != nil {
					return published, fmt.Errorf("remove local %s: %w", artifactID, err)
				}
				logger.Info("local box removed", "uri", artifact.URI)
			}
			artifact = published
		}
		return artifact, nil

	case AWSProvisioner:
		if artifactID == "" {
			return artifacts.Artifact{}, &ArtifactNotFoundError{Provisioner: provisioner.Kind()}
		}
		fmt.Fprintf(o.output(), "All done! AWS EC2 AMI %s created for %s.\n", artifactID, spec.BuildName)
		metadata["aws_region"] = provisioner.Region
		uri := "ec2:///" + artifactID
		if provisioner.Region != "" {
			uri = fmt.Sprintf("ec2://%s/%s", provisioner.Region, artifactID)
		}
		return artifacts.Artifact{
			ID:       artifactID,
			Kind:     artifacts.AMIArtifact,
			URI:      uri,
			Metadata: metadata,
		}, nil

	default:
		logger.Debug("provisioner has no artifact handoff")
		return artifacts.Artifact{}, nil
	}
}

// Finalize re-syncs SSH keys after a successful run, overwriting the copies
// made before the build.
func (o *Orchestrator) Finalize() error {
	if o.Environment == nil {
		return errors.New("environment is not configured")
	}
	return o.Environment.SyncSSHKeys(true)
}

// Clean removes the rendered manifest. It fails when the manifest does not exist.
func (o *Orchestrator) Clean() error {
	if err := os.Remove(o.ManifestPath()); err != nil {
		return err
	}
	if o.seedEnabled() {
		if err := os.Remove(o.SeedPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	o.logger().Debug("build files removed", "build", o.Spec.BuildName)
	return nil
}

func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "build."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordStepFailure(name)
		return err
	}
	return nil
}

func (o *Orchestrator) echo(line Line, logger *slog.Logger) {
	recordToolLine(line.Stream)
	fmt.Fprintln(o.output(), line.Text)
	logger.Debug("tool output", "stream", string(line.Stream), "line", line.Text)
}

func (o *Orchestrator) checkConfigured() error {
	switch {
	case o.Spec.Provisioner == nil:
		return errors.New("build spec is not initialised; use NewOrchestrator")
	case o.Renderer == nil:
		return errors.New("template renderer is not configured")
	case o.Runner == nil:
		return errors.New("tool runner is not configured")
	case o.Settings.WorkingDir == "":
		return errors.New("working directory is not configured")
	}
	return nil
}

func (o *Orchestrator) seedEnabled() bool {
	return o.Settings.CloudInitSeed && o.Seeds != nil
}

func (o *Orchestrator) relocator() ArtifactRelocator {
	if o.Relocator != nil {
		return o.Relocator
	}
	return &artifacts.LocalArtifactStore{}
}

func (o *Orchestrator) output() io.Writer {
	if o.Output != nil {
		return o.Output
	}
	return os.Stdout
}

func (o *Orchestrator) logger() *slog.Logger {
	return logging.Ensure(o.Logger).With("component", "build")
}
