package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// ExitStatus is how a worker process ended.
type ExitStatus struct {
	Code int
	Err  error
}

// Process is one spawned worker. Production wraps an exec.Cmd; tests run
// the worker runtime in-process over a pipe.
type Process interface {
	// IO carries the IPC protocol. Reads come from the worker's stdout,
	// writes go to its stdin.
	IO() io.ReadWriteCloser

	// Done delivers the exit status exactly once.
	Done() <-chan ExitStatus

	// Terminate asks the process to exit (SIGTERM); Kill forces it.
	Terminate() error
	Kill() error
}

// Spawner creates worker processes.
type Spawner func() (Process, error)

// ExecSpawner launches this same binary with the worker subcommand, plus
// any extra flags (the config path, typically). The child's stderr passes
// straight through so worker logs land next to supervisor logs.
func ExecSpawner(extraArgs ...string) Spawner {
	return func() (Process, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("supervisor: locate binary: %w", err)
		}
		cmd := exec.Command(self, append([]string{"worker"}, extraArgs...)...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("supervisor: start worker: %w", err)
		}

		p := &execProcess{
			cmd:  cmd,
			io:   pipeIO{r: stdout, w: stdin},
			done: make(chan ExitStatus, 1),
		}
		go func() {
			err := cmd.Wait()
			p.done <- ExitStatus{Code: cmd.ProcessState.ExitCode(), Err: err}
		}()
		return p, nil
	}
}

type execProcess struct {
	cmd  *exec.Cmd
	io   pipeIO
	done chan ExitStatus
}

func (p *execProcess) IO() io.ReadWriteCloser  { return p.io }
func (p *execProcess) Done() <-chan ExitStatus { return p.done }

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// pipeIO glues the child's stdout (read side) and stdin (write side) into
// one ReadWriteCloser.
type pipeIO struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p pipeIO) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeIO) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p pipeIO) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
