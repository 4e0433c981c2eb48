package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Process is a tshark child whose stdout is a raw non-blocking pipe, so the
// read end can be registered with a poller and drained until EAGAIN.
type Process struct {
	cmd *exec.Cmd

	mu sync.Mutex
	fd int

	waitOnce sync.Once
	waitErr  error
}

// Start launches tshark with args.
func (t *Tshark) Start(args ...string) (*Process, error) {
	return StartProcess(t.Path, args...)
}

// StartProcess launches name with args and its stdout connected to a pipe.
// Only the read end is non-blocking; the child writes normally.
func StartProcess(name string, args ...string) (*Process, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("%w: pipe: %v", ErrLaunch, err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("%w: set nonblock: %v", ErrLaunch, err)
	}
	w := os.NewFile(uintptr(fds[1]), "tshark-stdout")

	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	err := cmd.Start()
	w.Close()
	if err != nil {
		unix.Close(fds[0])
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, name, err)
	}
	return &Process{cmd: cmd, fd: fds[0]}, nil
}

// Fd is the read end of the child's stdout, or -1 after Close.
func (p *Process) Fd() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd
}

// Pid is the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Read reads whatever is available. It returns io.EOF once the child closed
// its stdout and an error matched by WouldBlock when the pipe is empty.
func (p *Process) Read(buf []byte) (int, error) {
	fd := p.Fd()
	if fd < 0 {
		return 0, os.ErrClosed
	}
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// WouldBlock reports whether err means the pipe is drained for now.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Wait reaps the child. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Terminate sends SIGTERM, escalating to SIGKILL after grace, and reaps the
// child. Exiting because of the signal is not reported as an error.
func (p *Process) Terminate(grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	if err := unix.Kill(p.Pid(), unix.SIGTERM); err != nil && err != unix.ESRCH {
		return fmt.Errorf("capture: kill %d: %w", p.Pid(), err)
	}
	var err error
	select {
	case err = <-done:
	case <-time.After(grace):
		unix.Kill(p.Pid(), unix.SIGKILL)
		err = <-done
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Close closes the read end of the pipe.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
