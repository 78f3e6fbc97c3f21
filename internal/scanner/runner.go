package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// maxLineBytes bounds a single subprocess output line. Longer lines are
// emitted in chunks of at most this size rather than aborting the
// stream: the reader must always drain the pipe to the end, or the
// writer side would block and the process could never be reaped.
const maxLineBytes = 1024 * 1024

// Process is a handle to a running external tool. Output lines arrive on
// Lines until the channel closes; Done closes once the process has been
// reaped, after which ExitCode and Err are valid.
type Process struct {
	cmd      *exec.Cmd
	lines    chan string
	done     chan struct{}
	exitCode int
	execErr  error
}

// StartProcess launches the given command and begins streaming its
// combined stdout and stderr as text lines. The argument slice is passed
// verbatim to the OS with no shell involved. Cancelling the context
// kills the subprocess and everything it spawned; the process is always
// reaped, so an abandoned handle never leaves a zombie behind.
//
// A launch failure (missing binary, permission denied) is returned
// immediately and no Process is created.
func StartProcess(ctx context.Context, binary string, args []string) (*Process, error) {
	cmd := exec.Command(binary, args...)

	// Run the tool in its own process group so that termination reaches
	// any children it spawns. A surviving grandchild would otherwise
	// keep the output pipe open and stall the reaper.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stderr into the same line stream: sherlock and amass write
	// their findings there, and consumers treat all tool output as one
	// log stream.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	p := &Process{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}

	go func() {
		reader := bufio.NewReaderSize(pr, 64*1024)
		buf := make([]byte, 0, 4*1024)
		for {
			chunk, isPrefix, err := reader.ReadLine()
			if err != nil {
				break
			}
			buf = append(buf, chunk...)
			if !isPrefix || len(buf) >= maxLineBytes {
				p.lines <- string(buf)
				buf = buf[:0]
			}
		}
		if len(buf) > 0 {
			p.lines <- string(buf)
		}
		close(p.lines)
	}()

	go func() {
		err := cmd.Wait()
		// Wait has finished copying into the pipe; closing it ends the
		// line reader.
		pw.Close()

		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.execErr = err
			}
		}
		close(p.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.done:
		}
	}()

	return p, nil
}

// Lines returns the stream of output lines. The channel closes when the
// subprocess closes its output.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done closes once the subprocess has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the subprocess exit code. Only valid after Done.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// Err returns a non-exit execution error (e.g. an I/O failure while the
// process ran). Only valid after Done. A plain non-zero exit is reported
// through ExitCode, not here.
func (p *Process) Err() error {
	return p.execErr
}

// Kill terminates the subprocess and its process group. Safe to call
// after exit.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// Negative pid addresses the whole process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
