// Package agent implements the single-writer broker: the one process
// that owns the session database, watches transcript files on disk, and
// serves every client (editor plugin, CLI wrapper, TUI) over a Unix
// domain socket using the JSONL protocol in internal/protocol.
package agent

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/storage"
)

// Config controls where the Agent keeps its on-disk state. Unlike the
// capture daemon it replaces, the Agent has no idle timeout: once
// started it runs until asked to stop, since any connected client losing
// the broker mid-session is worse than an idle process holding a few
// megabytes of cache.
type Config struct {
	DataDir string
}

// DefaultConfig points at ~/.sessiond.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return Config{DataDir: filepath.Join(home, ".sessiond")}
}

// SocketPath is the Unix domain socket the Agent listens on.
func (c Config) SocketPath() string { return filepath.Join(c.DataDir, "agent.sock") }

// PIDPath is where the Agent records its own process id.
func (c Config) PIDPath() string { return filepath.Join(c.DataDir, "agent.pid") }

// DBPath is the SQLite database file the Agent owns exclusively.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "db", "sessions.db") }

// Agent owns the database, the broadcaster, and the file watcher, and
// serves client connections over its Unix socket.
type Agent struct {
	config      Config
	store       *storage.Store
	broadcaster *Broadcaster
	watcher     *Watcher
	handler     *Handler
	collector   *collector.Collector

	listener *net.UnixListener

	connWG sync.WaitGroup
}

// New constructs an Agent, creating its data directory and opening its
// database, but does not yet bind the socket or start watching.
func New(config Config) (*Agent, error) {
	if err := os.MkdirAll(config.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.DBPath()), 0o700); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	dbConfig := storage.DefaultConfig()
	dbConfig.Path = config.DBPath()
	store, err := storage.Connect(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	broadcaster := NewBroadcaster()
	coll := collector.New(store)
	watcher, err := NewWatcher(coll, broadcaster)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	handler := NewHandler(store, broadcaster, watcher)

	return &Agent{
		config:      config,
		store:       store,
		broadcaster: broadcaster,
		watcher:     watcher,
		handler:     handler,
		collector:   coll,
	}, nil
}

// Run binds the socket, performs an initial full scan, starts the
// watcher, and serves connections until SIGINT/SIGTERM. It blocks until
// shutdown completes.
func (a *Agent) Run() error {
	if err := a.writePIDFile(); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer a.cleanup()

	socketPath := a.config.SocketPath()
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return fmt.Errorf("resolving socket address: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("binding socket: %w", err)
	}
	a.listener = listener
	if err := os.Chmod(socketPath, 0o600); err != nil {
		log.Printf("agent: failed to restrict socket permissions: %v", err)
	}

	log.Printf("agent: listening on %s", socketPath)

	if result := a.collector.CollectAll(); result.MessagesInserted > 0 {
		log.Printf("agent: startup scan: %d sessions, %d new messages",
			result.SessionsScanned, result.MessagesInserted)
	}

	if err := a.watcher.Start(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	acceptErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.AcceptUnix()
			if err != nil {
				acceptErrCh <- err
				return
			}
			a.connWG.Add(1)
			go func() {
				defer a.connWG.Done()
				a.handleConnection(conn)
			}()
		}
	}()

	select {
	case sig := <-sigCh:
		log.Printf("agent: received signal %v, shutting down", sig)
	case err := <-acceptErrCh:
		log.Printf("agent: listener error: %v", err)
	}

	listener.Close()
	a.watcher.Stop()
	a.connWG.Wait()

	return nil
}

// handleConnection serves one client connection until it closes or
// sends a malformed frame, at which point the connection is dropped —
// this protocol has no recovery path for a desynced reader, since a
// half-consumed line can't be distinguished from a well-formed one that
// simply starts with similar bytes.
func (a *Agent) handleConnection(conn *net.UnixConn) {
	connID, outbox := a.broadcaster.Register(conn)
	// Unregister closes the outbox, which is what lets the writer
	// goroutine below exit; conn.Close runs first so a blocked Write
	// fails immediately rather than waiting on a dead peer.
	defer a.broadcaster.Unregister(connID)
	defer conn.Close()

	go func() {
		for frame := range outbox {
			if _, err := conn.Write(frame); err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := protocol.DecodeRequest(line)
		if err != nil {
			log.Printf("agent: conn=%d malformed frame, dropping connection: %v", connID, err)
			break
		}

		resp := a.handler.Handle(connID, req)
		frame, err := protocol.Encode(resp)
		if err != nil {
			log.Printf("agent: conn=%d failed to encode response: %v", connID, err)
			break
		}
		if !a.broadcaster.SendTo(connID, frame) {
			break
		}
	}
}

func (a *Agent) writePIDFile() error {
	pid := os.Getpid()
	path := a.config.PIDPath()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", pid)), 0o600); err != nil {
		return err
	}
	return nil
}

func (a *Agent) cleanup() {
	if a.listener != nil {
		a.listener.Close()
	}
	os.Remove(a.config.SocketPath())
	os.Remove(a.config.PIDPath())
	if err := a.store.Close(); err != nil {
		log.Printf("agent: error closing store: %v", err)
	}
	log.Printf("agent: shutdown complete")
}

// IsRunning checks whether an Agent is already running against this
// config by reading its PID file and probing the process with signal 0.
func IsRunning(config Config) bool {
	data, err := os.ReadFile(config.PIDPath())
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// CleanupStale removes a leftover socket/pid pair from a process that
// died without cleaning up after itself.
func CleanupStale(config Config) error {
	for _, path := range []string{config.SocketPath(), config.PIDPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
