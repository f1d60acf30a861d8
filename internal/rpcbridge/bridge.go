// Package rpcbridge implements the bidirectional WebSocket<->stdio RPC
// bridge of spec §4.6: it upgrades one client connection, attaches it
// to the session's sandbox stdio, replays missed history, and forwards
// every subsequent sandbox event to every connection on the session
// while journaling it first.
//
// Grounded on the reference server's internal/handler/terminal.go
// (gorilla/websocket upgrader, two-goroutine pump under one
// sync.WaitGroup, a cancel context shared by both pumps), generalized
// from a PTY byte stream to a line-delimited JSON stdio protocol.
package rpcbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaycore/relay/internal/connset"
	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/jsonvalue"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/sessionlock"
)

// Close codes, per spec §6.
const (
	CloseSessionNotFound = 4004
	CloseSessionNotReady = 4003
)

// commandTypes is the closed set of client->server command types §4.6
// names explicitly; anything else is rejected as INVALID_COMMAND.
var commandTypes = map[string]bool{
	"prompt":               true,
	"abort":                true,
	"get_state":            true,
	"set_model":            true,
	"native_tool_response": true,
}

// journaledCommands is the subset of commandTypes that are appended to
// the journal (so they appear in session history), per §4.6's example.
var journaledCommands = map[string]bool{
	"prompt": true,
}

// SessionLookup resolves a session row, used to check status/sandbox
// binding before attaching.
type SessionLookup func(ctx context.Context, sessionID string) (*model.Session, error)

// Toucher marks a session as recently active; called on every inbound
// command and on connect.
type Toucher func(ctx context.Context, sessionID string) error

// IdleNotifier is invoked when the last connection for a session
// leaves, so the caller (the Scheduler, or an inline grace timer) can
// start the idle-pause countdown. It receives only the session ID; it
// is not told when another connection attaches afterwards.
type IdleNotifier func(sessionID string)

// Bridge holds the collaborators shared by every WebSocket connection.
type Bridge struct {
	manager      *sandbox.Manager
	journal      *journal.Journal
	conns        *connset.Registry
	locks        *sessionlock.Registry
	lookupSess   SessionLookup
	touch        Toucher
	onLastLeave  IdleNotifier
	logger       *slog.Logger
	outboxSize   int
	readDeadline time.Duration
}

// Config bundles the Bridge's constructor arguments.
type Config struct {
	Manager      *sandbox.Manager
	Journal      *journal.Journal
	Conns        *connset.Registry
	Locks        *sessionlock.Registry
	LookupSess   SessionLookup
	Touch        Toucher
	OnLastLeave  IdleNotifier
	Logger       *slog.Logger
	OutboxSize   int
	ReadDeadline time.Duration
}

func New(cfg Config) *Bridge {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		manager:      cfg.Manager,
		journal:      cfg.Journal,
		conns:        cfg.Conns,
		locks:        cfg.Locks,
		lookupSess:   cfg.LookupSess,
		touch:        cfg.Touch,
		onLastLeave:  cfg.OnLastLeave,
		logger:       cfg.Logger,
		outboxSize:   cfg.OutboxSize,
		readDeadline: cfg.ReadDeadline,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// lifecycleEvent is the envelope for connected/replay_start/replay_end/
// sandbox_status/error; pass-through agent events are forwarded as raw
// JSON and never unmarshaled into this type.
type lifecycleEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	LastSeq   int64  `json:"lastSeq,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// commandType projects the top-level "type" field out of a raw
// client->server frame without committing to a Go struct shape for the
// rest of the payload — the frame itself is written to stdin
// unaltered, so only "type" is ever actually read here.
func commandType(data []byte) (string, bool) {
	val, err := jsonvalue.Parse(data)
	if err != nil {
		return "", false
	}
	field, ok := val.Get("type")
	if !ok {
		return "", false
	}
	return field.AsString()
}

// ServeHTTP upgrades the request to a WebSocket and runs the bridge
// for sessionID until the connection closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()

	sess, err := b.lookupSess(ctx, sessionID)
	if err != nil {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseSessionNotFound, "session not found"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}
	if sess.Status != model.SessionStatusActive || !sess.HasSandbox() {
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseSessionNotReady, "session not active"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	streams, err := b.manager.AttachSession(ctx, sessionID)
	if err != nil {
		b.logger.Error("rpcbridge: attach failed", "sessionId", sessionID, "error", err)
		conn, upErr := upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseSessionNotReady, "attach failed"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		streams.Detach()
		return
	}
	defer conn.Close()
	defer streams.Detach()

	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("lastSeq"), 10, 64)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientConn := connset.NewConnection(sessionID+"-"+uuid.NewString(), b.outboxSize)
	b.conns.Add(sessionID, clientConn)
	defer b.leave(sessionID, clientConn)

	if err := b.touch(ctx, sessionID); err != nil {
		b.logger.Warn("rpcbridge: touch on connect failed", "sessionId", sessionID, "error", err)
	}

	maxSeq, err := b.journal.GetMaxSeq(ctx, sessionID)
	if err != nil {
		b.logger.Error("rpcbridge: getMaxSeq failed", "sessionId", sessionID, "error", err)
		return
	}
	if err := writeJSON(conn, lifecycleEvent{Type: "connected", SessionID: sessionID, LastSeq: maxSeq}); err != nil {
		return
	}

	if lastSeq > 0 && lastSeq < maxSeq {
		if err := b.replay(ctx, conn, sessionID, lastSeq); err != nil {
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// sandbox stdout -> journal -> broadcast -> this connection's writer
	go func() {
		defer wg.Done()
		defer cancel()
		b.pumpStdout(connCtx, sessionID, streams.Stdout)
	}()

	// this connection's outbound queue -> websocket
	go func() {
		defer wg.Done()
		defer cancel()
		b.pumpOutbound(connCtx, conn, clientConn)
	}()

	// websocket -> stdin, run inline so ServeHTTP blocks until the
	// client disconnects or the other pumps signal cancellation
	b.pumpInbound(connCtx, conn, sessionID, streams.Stdin)
	cancel()
	wg.Wait()
}

func (b *Bridge) leave(sessionID string, conn *connset.Connection) {
	b.conns.Remove(sessionID, conn)
	if b.conns.Count(sessionID) == 0 && b.onLastLeave != nil {
		b.onLastLeave(sessionID)
	}
}

// replay sends every journaled event with seq > afterSeq, framed
// between replay_start and replay_end, before live forwarding begins.
func (b *Bridge) replay(ctx context.Context, conn *websocket.Conn, sessionID string, afterSeq int64) error {
	if err := writeJSON(conn, lifecycleEvent{Type: "replay_start"}); err != nil {
		return err
	}
	events, err := b.journal.GetAfterSeq(ctx, sessionID, afterSeq, 0)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := conn.WriteMessage(websocket.TextMessage, ev.Payload); err != nil {
			return err
		}
	}
	return writeJSON(conn, lifecycleEvent{Type: "replay_end"})
}

// pumpStdout reads sandbox events and, per session (under the
// sessionlock critical section, §5), appends to the journal then
// broadcasts to every connection on the session — not just this one.
func (b *Bridge) pumpStdout(ctx context.Context, sessionID string, stdout <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-stdout:
			if !ok {
				return
			}
			parsed, err := jsonvalue.Parse(line)
			if err != nil {
				b.logger.Warn("rpcbridge: dropped non-JSON stdout line", "sessionId", sessionID)
				continue
			}
			b.locks.With(sessionID, func() {
				ev, err := b.journal.Append(ctx, sessionID, eventType(parsed), line)
				if err != nil {
					b.logger.Error("rpcbridge: journal append failed", "sessionId", sessionID, "error", err)
					return
				}
				_, dropped := b.conns.Broadcast(sessionID, ev.Payload)
				if dropped > 0 {
					b.logger.Warn("rpcbridge: dropped event for slow connection(s)", "sessionId", sessionID, "dropped", dropped)
				}
			})
		}
	}
}

func (b *Bridge) pumpOutbound(ctx context.Context, conn *websocket.Conn, clientConn *connset.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-clientConn.Outbound:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) pumpInbound(ctx context.Context, conn *websocket.Conn, sessionID string, stdin sandbox.LineWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if b.readDeadline > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(b.readDeadline))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		cmdType, ok := commandType(data)
		if !ok || !commandTypes[cmdType] {
			_ = writeJSON(conn, lifecycleEvent{Type: "error", Code: "INVALID_COMMAND", Message: "unknown or malformed command"})
			continue
		}

		if journaledCommands[cmdType] {
			b.locks.With(sessionID, func() {
				if _, err := b.journal.Append(ctx, sessionID, cmdType, data); err != nil {
					b.logger.Error("rpcbridge: journal append (command) failed", "sessionId", sessionID, "error", err)
				}
			})
		}
		if err := b.touch(ctx, sessionID); err != nil {
			b.logger.Warn("rpcbridge: touch on command failed", "sessionId", sessionID, "error", err)
		}

		if err := stdin.WriteLine(ctx, data); err != nil {
			b.logger.Error("rpcbridge: stdin write failed", "sessionId", sessionID, "error", err)
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// eventType extracts the top-level "type" field from an already-parsed
// agent event, defaulting to "unknown" for untyped lines — the journal
// stores the type for indexing, but never interprets it.
func eventType(parsed jsonvalue.Value) string {
	field, ok := parsed.Get("type")
	if !ok {
		return "unknown"
	}
	s, ok := field.AsString()
	if !ok || s == "" {
		return "unknown"
	}
	return s
}

var ErrUnsupportedCommand = errors.New("rpcbridge: unsupported command type")
