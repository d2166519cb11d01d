package packer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

// Ensure Runner satisfies the tool runner interface.
var _ build.ToolRunner = (*Runner)(nil)

// maxLineSize bounds a single line of tool output. Longer lines are
// truncated and the rest of the line is discarded.
const maxLineSize = 1 << 20

// waitDelay bounds how long output is drained after the tool is stopped.
const waitDelay = 5 * time.Second

// Runner executes the build tool as a child process and streams its output.
type Runner struct {
	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return logging.Ensure(nil)
}

// Run starts invocation.Args[0] and feeds every stdout and stderr line to
// onLine. It waits for the process to exit and both streams to drain.
func (r *Runner) Run(ctx context.Context, invocation build.Invocation, onLine func(build.Line) error) (int, error) {
	if len(invocation.Args) == 0 {
		return -1, &build.BuildError{Message: "no command provided"}
	}
	if onLine == nil {
		onLine = func(build.Line) error { return nil }
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cmd := exec.CommandContext(ctx, invocation.Args[0], invocation.Args[1:]...)
	cmd.Dir = invocation.Dir
	cmd.Env = mergeEnv(os.Environ(), invocation.Env)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("attach stderr: %w", err)
	}

	logger := r.logger().With("command", strings.Join(invocation.Args, " "), "dir", invocation.Dir)
	if err := cmd.Start(); err != nil {
		return -1, &build.BuildError{Message: fmt.Sprintf("start %s: %v", invocation.Args[0], err)}
	}
	logger.Debug("tool started", "pid", cmd.Process.Pid)

	var (
		mu       sync.Mutex
		abortErr error
	)
	deliver := func(line build.Line) error {
		mu.Lock()
		defer mu.Unlock()
		if abortErr != nil {
			return abortErr
		}
		if err := onLine(line); err != nil {
			abortErr = err
			cancel(err)
			// grandchildren may still hold the write ends
			_ = stdout.Close()
			_ = stderr.Close()
			return err
		}
		return nil
	}

	// descendants outside the process group may hold the pipes open
	stopDrain := context.AfterFunc(ctx, func() {
		time.AfterFunc(waitDelay, func() {
			_ = stdout.Close()
			_ = stderr.Close()
		})
	})
	defer stopDrain()

	var pumps errgroup.Group
	pumps.Go(func() error { return pump(stdout, build.Stdout, deliver) })
	pumps.Go(func() error { return pump(stderr, build.Stderr, deliver) })

	pumpErr := pumps.Wait()
	waitErr := cmd.Wait()

	mu.Lock()
	aborted := abortErr
	mu.Unlock()
	if aborted != nil {
		logger.Debug("tool stopped by caller", "reason", aborted)
		return -1, aborted
	}

	if pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
		return -1, fmt.Errorf("read tool output: %w", pumpErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && ctx.Err() == nil {
			logger.Debug("tool exited", "exit_code", exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return -1, context.Cause(ctx)
		}
		return -1, fmt.Errorf("wait for %s: %w", invocation.Args[0], waitErr)
	}

	logger.Debug("tool exited", "exit_code", 0)
	return 0, nil
}

// pump reads r line by line until EOF or until deliver fails. Lines longer
// than maxLineSize are cut short; the pipe keeps being drained either way.
func pump(r io.Reader, stream build.Stream, deliver func(build.Line) error) error {
	reader := bufio.NewReaderSize(r, 64*1024)

	var (
		line      []byte
		truncated bool
	)
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(line) > 0 {
				_ = deliver(build.Line{Stream: stream, Text: string(line)})
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !truncated {
			if room := maxLineSize - len(line); len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			line = append(line, chunk...)
		}
		if isPrefix {
			continue
		}

		if err := deliver(build.Line{Stream: stream, Text: strings.TrimRight(string(line), "\r")}); err != nil {
			return nil
		}
		line = line[:0]
		truncated = false
	}
}

// mergeEnv applies overlay to base. Overlay assignments replace any existing
// value for the same key.
func mergeEnv(base []string, overlay []build.EnvVar) []string {
	if len(overlay) == 0 {
		return base
	}

	overridden := make(map[string]string, len(overlay))
	order := make([]string, 0, len(overlay))
	for _, v := range overlay {
		if _, seen := overridden[v.Key]; !seen {
			order = append(order, v.Key)
		}
		overridden[v.Key] = v.Value
	}

	merged := make([]string, 0, len(base)+len(overlay))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := overridden[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for _, key := range order {
		merged = append(merged, key+"="+overridden[key])
	}
	return merged
}
