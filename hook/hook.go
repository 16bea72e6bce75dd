// Package hook implements the local listener socket protocol from spec
// §4.6: a Unix domain socket at $RUNTIME_DIR/kaijutsu/hook-{ppid}.sock
// that accepts line-delimited JSON requests describing tool lifecycle
// events from an external process (typically the MCP-facing CLI shim)
// and responds with any pending drift messages for the originating
// context.
package hook

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"kaijutsu/domain"
	"kaijutsu/kernel"

	"github.com/rs/zerolog/log"
)

// EventKind names the lifecycle point a hook request reports.
type EventKind string

const (
	EventPreToolUse  EventKind = "pre_tool_use"
	EventPostToolUse EventKind = "post_tool_use"
	EventUserPrompt  EventKind = "user_prompt"
)

// Request is one line of the socket protocol, sent by the external
// process.
type Request struct {
	Kind       EventKind       `json:"kind"`
	ContextId  domain.ContextId `json:"contextId"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  string          `json:"toolInput,omitempty"`
	Origin     string          `json:"origin,omitempty"` // "mcp" marks an event already recorded via the MCP transport
}

// Response is written back on the same line-delimited connection.
type Response struct {
	Ok     bool                  `json:"ok"`
	Error  string                `json:"error,omitempty"`
	Drift  []kernel.DriftMessage `json:"drift,omitempty"`
}

// Handler processes one validated request, e.g. recording a tool-use
// block via blockstore. It must not block on the drift queue; drift is
// attached to the response automatically after Handler returns.
type Handler func(ctx context.Context, req Request) error

// SocketPath returns the per-process socket path named in spec §4.6:
// $RUNTIME_DIR/kaijutsu/hook-{ppid}.sock, keyed by the parent process id
// so a CLI shim always talks to the kernel instance that spawned it.
func SocketPath(runtimeDir string, ppid int) string {
	return filepath.Join(runtimeDir, "kaijutsu", fmt.Sprintf("hook-%d.sock", ppid))
}

// Listener serves the hook protocol on a Unix socket.
type Listener struct {
	path    string
	drift   *kernel.DriftQueue
	handle  Handler

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	ownNames map[string]bool
}

// New constructs a listener. ownNames lists tool names the kernel's own
// in-process MCP server already records on every call — events reporting
// one of these tools with Origin=="mcp" are dropped, since recording them
// again from the hook side would duplicate the block (spec §4.6
// self-filter).
func New(socketPath string, drift *kernel.DriftQueue, handle Handler, ownNames []string) *Listener {
	names := make(map[string]bool, len(ownNames))
	for _, n := range ownNames {
		names[n] = true
	}
	return &Listener{path: socketPath, drift: drift, handle: handle, ownNames: names}
}

// Serve binds the socket and accepts connections until ctx is canceled.
// It removes any stale socket file left behind by a prior process before
// binding, mirroring the teacher corpus's singleton-server bind pattern.
func (l *Listener) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("hook: creating socket dir: %w", err)
	}
	_ = os.Remove(l.path)

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("hook: listen %s: %w", l.path, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	log.Info().Str("socket", l.path).Msg("hook: listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return fmt.Errorf("hook: accept: %w", err)
			}
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Ok: false, Error: "malformed request: " + err.Error()})
			continue
		}

		if l.isSelfRecorded(req) {
			_ = enc.Encode(Response{Ok: true, Drift: l.drift.Drain(req.ContextId)})
			continue
		}

		if err := l.handle(ctx, req); err != nil {
			_ = enc.Encode(Response{Ok: false, Error: err.Error()})
			continue
		}

		_ = enc.Encode(Response{Ok: true, Drift: l.drift.Drain(req.ContextId)})
	}
}

// isSelfRecorded reports whether req describes a tool call already
// recorded through the in-process MCP path, so the hook side must skip it
// to avoid a duplicate block (spec §4.6).
func (l *Listener) isSelfRecorded(req Request) bool {
	return req.Origin == "mcp" && l.ownNames[req.ToolName]
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (l *Listener) Close() error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	l.wg.Wait()
	_ = os.Remove(l.path)
	return err
}
