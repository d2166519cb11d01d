package build

import (
	"context"

	"github.com/cochaviz/boxes/internal/artifacts"
)

// TemplateRenderer turns a named template and its data into manifest text.
type TemplateRenderer interface {
	Render(name string, data map[string]any) (string, error)
}

// Environment exposes the scripts and SSH keys available to builds.
// ScriptPath returns the absolute location of an available script.
type Environment interface {
	AvailableScripts() []string
	ScriptPath(name string) string
	SyncSSHKeys(force bool) error
}

// ToolRunner runs the external build tool. onLine is called for every line
// of output in arrival order, never concurrently. If onLine returns an error
// the process is stopped and that error is returned. A non-zero exit is
// reported through the exit code, not the error.
type ToolRunner interface {
	Run(ctx context.Context, invocation Invocation, onLine func(Line) error) (int, error)
}

// Preflight checks host prerequisites for a build before anything is written.
// Check may return values that are added to the template data.
type Preflight interface {
	Applies(spec BuildSpec) bool
	Check(ctx context.Context, spec BuildSpec) (map[string]any, error)
}

// ArtifactRelocator moves a finished local artifact to its destination
// directory and removes local artifacts that are no longer needed.
type ArtifactRelocator interface {
	Relocate(sourcePath, destinationDir string, kind artifacts.ArtifactKind, metadata map[string]any) (artifacts.Artifact, error)
	RemoveArtifact(artifact artifacts.Artifact) error
}

// ArtifactPublisher uploads a relocated artifact to remote storage.
type ArtifactPublisher interface {
	Publish(ctx context.Context, artifact artifacts.Artifact) (artifacts.Artifact, error)
}

// SeedWriter produces a cloud-init seed image for the build.
type SeedWriter interface {
	WriteSeed(path string, spec BuildSpec) error
}
