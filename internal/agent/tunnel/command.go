package tunnel

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// sshArgs builds the argv for the reverse-access forward: the agent
// listens locally and hands the connection to the central node over
// ssh -L. BatchMode keeps a missing key from hanging on a prompt.
func sshArgs(cfg *domain.ProxyConfig) []string {
	args := []string{
		"-N",
		"-L", fmt.Sprintf("127.0.0.1:%d:127.0.0.1:%d", cfg.ServerListenPort, cfg.CenterProxyPort),
		fmt.Sprintf("%s@%s", cfg.CenterSSHUser, cfg.CenterSSHHost),
		"-p", strconv.Itoa(cfg.SSHPort()),
		"-i", cfg.IdentityFile,
		"-o", "BatchMode=yes",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
	}
	if cfg.StrictHostKeyChecking {
		args = append(args, "-o", "StrictHostKeyChecking=yes")
	} else {
		args = append(args,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null")
	}
	return args
}

// process abstracts the child so the supervisor can be exercised
// without a real ssh binary.
type process interface {
	Start() error
	Wait() error
	Stderr() io.Reader
	Pid() int
	Terminate() error
	Kill() error
}

type startProcess func(name string, args ...string) process

type osProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader
}

func startOSProcess(name string, args ...string) process {
	cmd := exec.Command(name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stderr = nil
	}
	return &osProcess{cmd: cmd, stderr: stderr}
}

func (p *osProcess) Start() error { return p.cmd.Start() }
func (p *osProcess) Wait() error  { return p.cmd.Wait() }

func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
