// Package agentclient is the Go-side client library for talking to a
// running sessiond Agent over its Unix domain socket: it knows how to
// find or launch the Agent binary, connect and handshake, send
// requests, and stream pushed events back to the caller.
package agentclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/localsession/sessiond/internal/protocol"
)

// Config controls how a Client locates, launches, and connects to the
// Agent.
type Config struct {
	DataDir            string
	Component          string
	Version             string
	ConnectRetries      int
	RetryInterval       time.Duration
	AgentBinaryOverride string
}

// DefaultConfig targets ~/.sessiond with a 3-attempt/500ms connect retry,
// matching the original implementation's defaults.
func DefaultConfig(component string) Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return Config{
		DataDir:        filepath.Join(home, ".sessiond"),
		Component:      component,
		Version:        "0.1.0",
		ConnectRetries: 3,
		RetryInterval:  500 * time.Millisecond,
	}
}

func (c Config) socketPath() string { return filepath.Join(c.DataDir, "agent.sock") }
func (c Config) pidPath() string    { return filepath.Join(c.DataDir, "agent.pid") }
func (c Config) binPath() string    { return filepath.Join(c.DataDir, "bin", "sessiond-agent") }

// findAgentBinary resolves the Agent executable to launch, in priority
// order: an explicit override, the SESSIOND_AGENT_PATH environment
// variable, the default install location under the data dir, and
// finally a binary named "sessiond-agent" sitting next to this
// process's own executable (the common case for a bundled install).
func (c Config) findAgentBinary() (string, error) {
	if c.AgentBinaryOverride != "" {
		if fileExists(c.AgentBinaryOverride) {
			return c.AgentBinaryOverride, nil
		}
	}
	if path := os.Getenv("SESSIOND_AGENT_PATH"); path != "" && fileExists(path) {
		return path, nil
	}
	if fileExists(c.binPath()) {
		return c.binPath(), nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "sessiond-agent")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no sessiond-agent binary found (checked override, $SESSIOND_AGENT_PATH, %s, and alongside the current executable)", c.binPath())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Client is a live connection to the Agent: a handshake has already
// succeeded, a background goroutine is draining the socket into Pushes,
// and Request can be used to make further request/response calls.
type Client struct {
	conn   net.Conn
	config Config

	mu       sync.Mutex
	pending  chan protocol.Response
	pushes   chan protocol.Push
	closed   chan struct{}
	closeErr error
}

// Connect tries to reach a running Agent, retrying ConnectRetries times
// at RetryInterval; if every attempt fails it checks for a stuck prior
// instance, cleans up stale state, launches the Agent, and polls for up
// to 2 seconds for it to come up before connecting.
func Connect(config Config) (*Client, error) {
	socketPath := config.socketPath()

	for attempt := 1; attempt <= config.ConnectRetries; attempt++ {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return finishConnect(config, conn)
		}
		if attempt < config.ConnectRetries {
			time.Sleep(config.RetryInterval)
		}
	}

	if isAgentStuck(config) {
		if err := cleanupStale(config); err != nil {
			return nil, fmt.Errorf("cleaning up stale agent state: %w", err)
		}
	}

	if err := startAgent(config); err != nil {
		return nil, fmt.Errorf("starting agent: %w", err)
	}

	for attempt := 1; attempt <= 10; attempt++ {
		time.Sleep(200 * time.Millisecond)
		if conn, err := net.Dial("unix", socketPath); err == nil {
			return finishConnect(config, conn)
		}
	}

	return nil, fmt.Errorf("timed out waiting for agent to start")
}

func finishConnect(config Config, conn net.Conn) (*Client, error) {
	c := &Client{
		conn:    conn,
		config:  config,
		pending: make(chan protocol.Response, 1),
		pushes:  make(chan protocol.Push, 100),
		closed:  make(chan struct{}),
	}

	handshake := protocol.Request{
		Type:      protocol.RequestHandshake,
		Component: config.Component,
		Version:   config.Version,
	}
	frame, err := protocol.Encode(handshake)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending handshake: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading handshake response: %w", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing handshake response: %w", err)
	}
	if !resp.OK {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %s", resp.Message)
	}

	go c.readLoop(reader)
	return c, nil
}

// readLoop demultiplexes the Agent's stream into request replies
// (delivered to pending) and Push frames (delivered to Pushes()).
func (c *Client) readLoop(reader *bufio.Reader) {
	defer close(c.closed)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.closeErr = err
			return
		}

		var probe struct {
			Type json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}

		// A Response frame's "type" is absent; a Push frame's "type" is
		// always a small integer. That's enough to tell them apart
		// without a wire-level envelope wrapping both.
		if len(probe.Type) == 0 {
			var resp protocol.Response
			if err := json.Unmarshal(line, &resp); err == nil {
				select {
				case c.pending <- resp:
				case <-c.closed:
					return
				}
			}
			continue
		}

		var push protocol.Push
		if err := json.Unmarshal(line, &push); err == nil {
			select {
			case c.pushes <- push:
			default:
				// Caller isn't draining pushes fast enough; drop rather
				// than block the demultiplexer.
			}
		}
	}
}

// Request sends a request frame and blocks for the matching response.
func (c *Client) Request(req protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := protocol.Encode(req)
	if err != nil {
		return protocol.Response{}, err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return protocol.Response{}, fmt.Errorf("writing request: %w", err)
	}

	select {
	case resp := <-c.pending:
		return resp, nil
	case <-c.closed:
		return protocol.Response{}, fmt.Errorf("connection closed: %w", c.closeErr)
	}
}

// Subscribe asks the Agent to start pushing the given event types.
func (c *Client) Subscribe(events []protocol.EventType) error {
	resp, err := c.Request(protocol.Request{Type: protocol.RequestSubscribe, Events: events})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("subscribe failed: %s", resp.Message)
	}
	return nil
}

// NotifyFileChange tells the Agent a transcript file changed on disk.
func (c *Client) NotifyFileChange(path string) error {
	resp, err := c.Request(protocol.Request{Type: protocol.RequestNotifyFileChange, Path: path})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("notify file change failed: %s", resp.Message)
	}
	return nil
}

// WriteApproveResult records an approval decision for a tool call.
func (c *Client) WriteApproveResult(toolCallID string, status protocol.ApprovalStatus, resolvedAt time.Time) error {
	resp, err := c.Request(protocol.Request{
		Type:       protocol.RequestWriteApproveResult,
		ToolCallID: toolCallID,
		Status:     status,
		ResolvedAt: resolvedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("write approve result failed: %s", resp.Message)
	}
	return nil
}

// SendHookEvent forwards an editor/CLI lifecycle hook to the Agent.
func (c *Client) SendHookEvent(event protocol.HookEvent) error {
	resp, err := c.Request(protocol.Request{Type: protocol.RequestHookEvent, HookEvent: event})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("hook event failed: %s", resp.Message)
	}
	return nil
}

// Pushes returns the channel of events pushed by the Agent once
// Subscribe has been called for the relevant event types.
func (c *Client) Pushes() <-chan protocol.Push {
	return c.pushes
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func isAgentStuck(config Config) bool {
	data, err := os.ReadFile(config.pidPath())
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
	alive := process.Signal(syscall.Signal(0)) == nil
	return alive && !fileExists(config.socketPath())
}

func cleanupStale(config Config) error {
	if data, err := os.ReadFile(config.pidPath()); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				process.Signal(syscall.SIGKILL)
			}
		}
	}
	for _, path := range []string{config.socketPath(), config.pidPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func startAgent(config Config) error {
	agentPath, err := config.findAgentBinary()
	if err != nil {
		return err
	}
	cmd := exec.Command(agentPath, "--data-dir", config.DataDir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}
