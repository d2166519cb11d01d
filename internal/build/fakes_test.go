package build

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cochaviz/boxes/internal/artifacts"
)

type fakeEnvironment struct {
	scripts   []string
	syncCalls []bool
	syncErr   error
}

func (e *fakeEnvironment) AvailableScripts() []string { return e.scripts }

func (e *fakeEnvironment) ScriptPath(name string) string { return "/srv/scripts/" + name + ".sh" }

func (e *fakeEnvironment) SyncSSHKeys(force bool) error {
	e.syncCalls = append(e.syncCalls, force)
	return e.syncErr
}

type fakeRenderer struct {
	calls int
	name  string
	data  map[string]any
	out   string
	err   error
}

func (r *fakeRenderer) Render(name string, data map[string]any) (string, error) {
	r.calls++
	r.name = name
	r.data = data
	return r.out, r.err
}

// toolStep scripts the response to one tool verb ("validate" or "build").
type toolStep struct {
	lines  []Line
	exit   int
	err    error
	before func(Invocation)
}

type fakeRunner struct {
	mu          sync.Mutex
	steps       map[string]toolStep
	invocations []Invocation
}

func (r *fakeRunner) Run(_ context.Context, invocation Invocation, onLine func(Line) error) (int, error) {
	r.mu.Lock()
	r.invocations = append(r.invocations, invocation)
	step := r.steps[invocation.Args[1]]
	r.mu.Unlock()

	if step.before != nil {
		step.before(invocation)
	}
	for _, line := range step.lines {
		if err := onLine(line); err != nil {
			return -1, err
		}
	}
	return step.exit, step.err
}

func (r *fakeRunner) verbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	verbs := make([]string, 0, len(r.invocations))
	for _, inv := range r.invocations {
		verbs = append(verbs, inv.Args[1])
	}
	return verbs
}

type fakePreflight struct {
	applies bool
	values  map[string]any
	err     error
	calls   int
}

func (p *fakePreflight) Applies(BuildSpec) bool { return p.applies }

func (p *fakePreflight) Check(context.Context, BuildSpec) (map[string]any, error) {
	p.calls++
	return p.values, p.err
}

type fakeRelocator struct {
	calls   int
	removed []artifacts.Artifact
}

func (r *fakeRelocator) RemoveArtifact(artifact artifacts.Artifact) error {
	r.removed = append(r.removed, artifact)
	return nil
}

func (r *fakeRelocator) Relocate(source, dest string, kind artifacts.ArtifactKind, metadata map[string]any) (artifacts.Artifact, error) {
	r.calls++
	return artifacts.Artifact{ID: "relocated", Kind: kind, URI: artifacts.FileURI(filepath.Join(dest, filepath.Base(source)))}, nil
}

type fakePublisher struct {
	published []artifacts.Artifact
}

func (p *fakePublisher) Publish(_ context.Context, artifact artifacts.Artifact) (artifacts.Artifact, error) {
	p.published = append(p.published, artifact)
	artifact.URI = "s3://boxes/" + artifact.ID
	return artifact, nil
}

type fakeSeedWriter struct {
	paths []string
}

func (w *fakeSeedWriter) WriteSeed(path string, _ BuildSpec) error {
	w.paths = append(w.paths, path)
	return os.WriteFile(path, []byte("seed"), 0o644)
}

// writeBox creates the named box inside the invocation's directory, the way
// the build tool would.
func writeBox(t *testing.T, name string) func(Invocation) {
	t.Helper()
	return func(inv Invocation) {
		if err := os.WriteFile(filepath.Join(inv.Dir, name), []byte("box"), 0o644); err != nil {
			t.Errorf("write box: %v", err)
		}
	}
}
