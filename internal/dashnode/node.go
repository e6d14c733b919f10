// Package dashnode manages the lifecycle of one external dashd process:
// isolated data directory, port selection, readiness polling and clean
// shutdown with a kill fallback.
package dashnode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/xdustinface/regtest-blockchain/internal/dashrpc"
)

var (
	// ErrStartupTimeout means the node did not accept commands within
	// the startup bound.
	ErrStartupTimeout = errors.New("node did not become ready in time")

	// ErrShutdownTimeout means the node did not exit within the
	// shutdown bound and had to be killed.
	ErrShutdownTimeout = errors.New("node did not shut down in time")
)

// Config describes how to launch the node.
type Config struct {
	DashdPath   string // dashd executable, resolved via PATH if bare
	DashCliPath string // companion CLI tool, derived from DashdPath if empty

	DataDir string // node working directory, a temp dir is created if empty
	RPCPort int    // 0 selects a free port
	P2PPort int    // 0 selects a free port above the RPC port

	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	KeepDataDir bool // skip data directory removal in Cleanup
}

func (cfg Config) withDefaults() Config {
	if cfg.DashdPath == "" {
		cfg.DashdPath = "dashd"
	}
	if cfg.DashCliPath == "" {
		// The CLI tool ships next to the daemon.
		if dir := filepath.Dir(cfg.DashdPath); dir != "." {
			cfg.DashCliPath = filepath.Join(dir, "dash-cli")
		} else {
			cfg.DashCliPath = "dash-cli"
		}
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 20 * time.Second
	}
	return cfg
}

// Node is a running dashd process.
type Node struct {
	cfg     Config
	log     log15.Logger
	cmd     *exec.Cmd
	rpc     *dashrpc.Client
	dataDir string
	tempDir bool

	exited  chan struct{} // closed when the process has exited
	waitErr error
}

// Start launches dashd and waits until it accepts RPC commands. On any
// failure the process is terminated and the data directory removed.
func Start(ctx context.Context, cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	n := &Node{cfg: cfg, log: log15.New("module", "dashnode")}

	if _, err := exec.LookPath(cfg.DashdPath); err != nil {
		return nil, errors.Wrapf(err, "dashd executable %q", cfg.DashdPath)
	}

	var err error
	if n.cfg.RPCPort == 0 {
		if n.cfg.RPCPort, err = findFreePort(defaultRPCPortStart); err != nil {
			return nil, err
		}
	} else if !portAvailable(n.cfg.RPCPort) {
		return nil, errors.Errorf("requested RPC port %d is not available", n.cfg.RPCPort)
	}
	if n.cfg.P2PPort == 0 {
		if n.cfg.P2PPort, err = findFreePort(n.cfg.RPCPort + 1); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir != "" {
		n.dataDir = cfg.DataDir
		if err := os.MkdirAll(n.dataDir, 0755); err != nil {
			return nil, errors.Wrap(err, "creating data directory")
		}
	} else {
		if n.dataDir, err = os.MkdirTemp("", "dash-testdata-"); err != nil {
			return nil, errors.Wrap(err, "creating temp directory")
		}
		n.tempDir = true
	}
	// dashd expects the regtest subdirectory to exist.
	if err := os.MkdirAll(filepath.Join(n.dataDir, "regtest"), 0755); err != nil {
		n.Cleanup()
		return nil, errors.Wrap(err, "creating regtest directory")
	}

	logFile, err := os.Create(filepath.Join(n.dataDir, "dashd.log"))
	if err != nil {
		n.Cleanup()
		return nil, errors.Wrap(err, "creating node log file")
	}
	defer logFile.Close()

	n.cmd = exec.Command(n.cfg.DashdPath, n.arguments()...)
	n.cmd.Dir = n.dataDir
	n.cmd.Stdout = logFile
	n.cmd.Stderr = logFile
	if err := n.cmd.Start(); err != nil {
		n.Cleanup()
		return nil, errors.Wrapf(err, "starting %s", n.cfg.DashdPath)
	}
	n.log.Info("node started", "pid", n.cmd.Process.Pid,
		"datadir", n.dataDir, "rpcport", n.cfg.RPCPort, "p2pport", n.cfg.P2PPort)

	n.exited = make(chan struct{})
	go func() {
		n.waitErr = n.cmd.Wait()
		close(n.exited)
	}()

	n.rpc = dashrpc.New(dashrpc.Config{
		DashCliPath: n.cfg.DashCliPath,
		DataDir:     n.dataDir,
		RPCPort:     n.cfg.RPCPort,
	})

	if err := n.waitReady(ctx); err != nil {
		n.Kill()
		n.Cleanup()
		return nil, err
	}
	n.log.Info("node ready")
	return n, nil
}

// arguments builds the dashd command line.
func (n *Node) arguments() []string {
	return []string{
		"-regtest",
		"-datadir=" + n.dataDir,
		fmt.Sprintf("-port=%d", n.cfg.P2PPort),
		fmt.Sprintf("-rpcport=%d", n.cfg.RPCPort),
		"-server=1",
		"-daemon=0",
		"-listen=1",
		"-rpcbind=127.0.0.1",
		"-rpcallowip=127.0.0.1",
		"-fallbackfee=0.00001",
		"-txindex=0",
	}
}

// waitReady polls the node until it answers getblockcount, bounded by the
// startup timeout. An early process exit fails immediately.
func (n *Node) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(n.cfg.StartupTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.exited:
			return errors.Wrapf(n.waitErr, "node exited during startup (see %s)",
				filepath.Join(n.dataDir, "dashd.log"))
		case <-deadline.C:
			return ErrStartupTimeout
		case <-poll.C:
			callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_, err := n.rpc.BlockCount(callCtx)
			cancel()
			if err == nil {
				return nil
			}
		}
	}
}

// RPC returns the client connected to this node.
func (n *Node) RPC() *dashrpc.Client { return n.rpc }

// DataDir returns the node's working directory.
func (n *Node) DataDir() string { return n.dataDir }

// Stop asks the node to shut down and waits for the process to exit. If
// it does not exit within the shutdown bound it is killed and
// ErrShutdownTimeout is returned. The data directory is kept so callers
// can archive the chain state; call Cleanup when done.
func (n *Node) Stop(ctx context.Context) error {
	if n.cmd == nil {
		return nil
	}
	defer func() { n.cmd = nil }()

	n.log.Info("stopping node")
	if err := n.rpc.Stop(ctx); err != nil {
		n.log.Warn("stop command failed, signalling process", "err", err)
		n.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-n.exited:
		return nil
	case <-time.After(n.cfg.ShutdownTimeout):
		n.log.Warn("node did not exit, killing")
		n.cmd.Process.Kill()
		<-n.exited
		return ErrShutdownTimeout
	case <-ctx.Done():
		n.cmd.Process.Kill()
		<-n.exited
		return ctx.Err()
	}
}

// Kill terminates the process without a clean shutdown. Safe to call on
// all exit paths, including after Stop.
func (n *Node) Kill() {
	if n.cmd == nil {
		return
	}
	n.cmd.Process.Kill()
	<-n.exited
	n.cmd = nil
}

// Cleanup removes the node's temporary data directory.
func (n *Node) Cleanup() {
	if !n.tempDir || n.cfg.KeepDataDir || n.dataDir == "" {
		return
	}
	n.log.Debug("removing data directory", "path", n.dataDir)
	os.RemoveAll(n.dataDir)
	n.dataDir = ""
}
