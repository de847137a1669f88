package node

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	_ NodeProcess    = (*nodeProcess)(nil)
	_ ProcessCreator = (*processCreator)(nil)
)

// NodeProcess is an interface so we can mock running node binaries in tests.
type NodeProcess interface {
	// Non-blocking check of whether the process has exited.
	// Once it reports exited=true, the exit code is stable.
	Poll() (exited bool, exitCode int)
	// Sends a SIGINT to this process and returns when the process
	// has exited or when [ctx] is cancelled.
	// If [ctx] is cancelled, sends a SIGKILL to this process and descendants
	// and returns [ctx.Err()].
	Stop(ctx context.Context) error
	// Forcefully terminates this process and its descendants.
	Kill() error
	// The OS process ID.
	Pid() int
}

// ProcessCreator launches node processes. Tests replace it to avoid
// spawning real binaries.
type ProcessCreator interface {
	NewNodeProcess(path string, args []string, env []string, stdout, stderr *os.File) (NodeProcess, error)
}

type processCreator struct{}

func (processCreator) NewNodeProcess(path string, args []string, env []string, stdout, stderr *os.File) (NodeProcess, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return newNodeProcess(cmd)
}

type nodeProcess struct {
	lock sync.RWMutex
	cmd  *exec.Cmd
	// Closed when the process exits.
	// If closed, [exitCode] is guaranteed to be set.
	closedOnStop chan struct{}
	// Set when the process exits.
	exitCode int
}

func newNodeProcess(cmd *exec.Cmd) (*nodeProcess, error) {
	p := &nodeProcess{
		cmd:          cmd,
		closedOnStop: make(chan struct{}),
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("couldn't start process: %w", err)
	}
	go func() {
		// Wait for the process to exit.
		_ = p.cmd.Wait()
		p.lock.Lock()
		p.exitCode = p.cmd.ProcessState.ExitCode()
		close(p.closedOnStop)
		p.lock.Unlock()
	}()
	return p, nil
}

func (p *nodeProcess) Poll() (bool, int) {
	select {
	case <-p.closedOnStop:
		p.lock.RLock()
		defer p.lock.RUnlock()
		return true, p.exitCode
	default:
		return false, 0
	}
}

func (p *nodeProcess) Stop(ctx context.Context) error {
	if exited, _ := p.Poll(); exited {
		return nil
	}

	// There isn't anything to do with this error.
	// Either the process got the signal, in which case
	// we should wait until it exits, or it didn't,
	// in which case we should wait until the context
	// is cancelled and then try to SIGKILL it.
	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-ctx.Done():
		_ = p.Kill()
		return ctx.Err()
	case <-p.closedOnStop:
		return nil
	}
}

func (p *nodeProcess) Kill() error {
	if exited, _ := p.Poll(); exited {
		return nil
	}
	_ = killDescendants(int32(p.cmd.Process.Pid))
	return p.cmd.Process.Signal(os.Kill)
}

func (p *nodeProcess) Pid() int {
	return p.cmd.Process.Pid
}

func killDescendants(pid int32) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid != pid {
			continue
		}
		_ = killDescendants(proc.Pid)
		_ = proc.Kill()
	}
	return nil
}
