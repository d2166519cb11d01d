//go:build unix

package packer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cochaviz/boxes/internal/build"
)

func TestRunnerTruncatesLongLines(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lines []build.Line
	runner := &Runner{}
	code, err := runner.Run(ctx, build.Invocation{
		Args: []string{"sh", "-c", `head -c 2097152 /dev/zero | tr '\0' a; echo; echo done; echo err >&2`},
	}, collect(&lines))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}

	var stdout []string
	var stderr []string
	for _, line := range lines {
		if line.Stream == build.Stdout {
			stdout = append(stdout, line.Text)
		} else {
			stderr = append(stderr, line.Text)
		}
	}
	if len(stdout) != 2 {
		t.Fatalf("expected 2 stdout lines, got %d", len(stdout))
	}
	if len(stdout[0]) != maxLineSize || strings.Trim(stdout[0], "a") != "" {
		t.Fatalf("long line not truncated to %d bytes, got %d", maxLineSize, len(stdout[0]))
	}
	if stdout[1] != "done" {
		t.Fatalf("expected output after the long line, got %q", stdout[1])
	}
	if len(stderr) != 1 || stderr[0] != "err" {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestRunnerCancelStopsPipeline(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	runner := &Runner{}
	_, err := runner.Run(ctx, build.Invocation{
		Args: []string{"sh", "-c", "sleep 30 | cat; echo late"},
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("runner outlived its deadline (took %s)", elapsed)
	}
}
