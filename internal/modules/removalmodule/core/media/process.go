package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// maxStderr bounds how much ffmpeg diagnostic output is kept for errors.
const maxStderr = 8 << 10

// Process is a running ffmpeg child with its pipes. Stdin is nil unless
// requested at launch.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	// Wait blocks until the process exits and reports its exit status.
	Wait func() error
	// Kill terminates the process. Safe to call more than once.
	Kill func()
}

// Launcher starts a process with piped stdout (and stdin when withStdin).
type Launcher func(ctx context.Context, name string, args []string, withStdin bool) (*Process, error)

// tailBuffer keeps the last maxStderr bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - maxStderr; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf.Bytes()))
}

// ExecLauncher runs the command with os/exec. The process is bound to ctx and
// is killed when ctx is cancelled.
func ExecLauncher(ctx context.Context, name string, args []string, withStdin bool) (*Process, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, name, args...)

	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if withStdin {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var once sync.Once
	var waitErr error
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Wait: func() error {
			once.Do(func() {
				waitErr = cmd.Wait()
				cancel()
				if waitErr != nil {
					if msg := stderr.String(); msg != "" {
						waitErr = fmt.Errorf("%w: %s", waitErr, msg)
					}
				}
			})
			return waitErr
		},
		Kill: cancel,
	}, nil
}
