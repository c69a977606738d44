package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrNoCommand is returned by Start when no kernel command is configured. The
// kernel adapter belongs to the engine installation, so there is no default.
var ErrNoCommand = errors.New("kernel command is not configured")

// Process lifecycle defaults.
const (
	DefaultStartTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
)

// Config describes how to launch the kernel.
type Config struct {
	// Command is the kernel command line, split on whitespace. Required.
	Command string

	// WorkDir is the kernel's working directory. Job artifacts land here.
	WorkDir string

	// StartTimeout bounds the initial ping that proves the kernel is ready.
	StartTimeout time.Duration

	// ShutdownTimeout is how long Close waits for a graceful exit before
	// killing the process.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Process is a running kernel. It embeds the Engine that talks to it.
type Process struct {
	*Engine

	cfg    Config
	cmd    *exec.Cmd
	client *Client
	logger *slog.Logger

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Start launches the kernel in cfg.WorkDir and waits until it answers a ping.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Process, error) {
	cfg = cfg.withDefaults()
	argv := strings.Fields(cfg.Command)
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	// The kernel outlives any single request, so it is not bound to ctx.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.WorkDir
	cmd.Stderr = &lineLogger{logger: logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("kernel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("kernel stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start kernel %q: %w", argv[0], err)
	}
	activeKernels.Inc()
	logger.Info("kernel started", "pid", cmd.Process.Pid, "command", cfg.Command, "work_dir", cfg.WorkDir)

	client := NewClient(&pipeConn{Reader: stdout, WriteCloser: stdin}, logger)
	p := &Process{
		Engine: NewEngine(client),
		cfg:    cfg,
		cmd:    cmd,
		client: client,
		logger: logger,
		exited: make(chan struct{}),
	}
	go p.wait()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("kernel not ready: %w", err)
	}
	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	activeKernels.Dec()
	close(p.exited)
	p.client.fail(fmt.Errorf("%w: kernel exited", ErrClosed))
}

// Close asks the kernel to exit, then closes its stdin and waits. A kernel
// that does not exit within the shutdown timeout is killed.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
		defer cancel()

		if err := p.client.Call(ctx, OpShutdown, nil, nil); err != nil && !errors.Is(err, ErrClosed) {
			p.logger.Warn("kernel shutdown request failed", "error", err)
		}
		p.client.Close()

		select {
		case <-p.exited:
		case <-ctx.Done():
			p.logger.Warn("kernel did not exit, killing", "pid", p.cmd.Process.Pid)
			if err := p.cmd.Process.Kill(); err != nil {
				p.closeErr = fmt.Errorf("kill kernel: %w", err)
			}
			<-p.exited
		}

		var exitErr *exec.ExitError
		if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) && p.closeErr == nil {
			p.closeErr = fmt.Errorf("wait kernel: %w", p.waitErr)
		}
		p.logger.Info("kernel stopped", "pid", p.cmd.Process.Pid)
	})
	return p.closeErr
}

// pipeConn joins the kernel's stdout and stdin into one stream. Closing it
// closes stdin, which the kernel treats as end of session.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// lineLogger forwards the kernel's stderr to the logger one line at a time.
type lineLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimRight(string(l.buf[:i]), "\r"); line != "" {
			l.logger.Debug("kernel stderr", "line", line)
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}
