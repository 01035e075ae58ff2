// Package obs speaks the obs-websocket v5 protocol and drives the
// compositor toward the configured scene and browser source.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
)

// obs-websocket v5 opcodes.
const (
	opHello      = 0
	opIdentify   = 1
	opIdentified = 2
	opEvent      = 5
	opRequest    = 6
	opResponse   = 7
)

const (
	rpcVersion     = 1
	requestTimeout = 10 * time.Second
)

// Client is a minimal obs-websocket v5 client: identify handshake,
// request/response correlation by id, and a disconnect callback. Connect
// and Disconnect are serialized; requests may come from any goroutine.
type Client struct {
	logger *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool

	pendingMu sync.Mutex
	pending   map[string]chan response

	onDisconnect func()
}

// NewClient creates a disconnected client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		logger:  log.WithComponent("obs"),
		pending: make(map[string]chan response),
	}
}

// OnDisconnect registers a callback fired once per connection loss.
// Must be set before Connect.
func (c *Client) OnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// IsConnected reports whether the identify handshake has completed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Connect dials the compositor and completes the identify handshake.
// Idempotent while connected.
func (c *Client) Connect(ctx context.Context, host string, port int, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	url := fmt.Sprintf("ws://%s:%d", host, port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errkind.Newf(errkind.Transient, "dial obs at %s: %v", url, err)
	}

	if err := c.identify(conn, password); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)

	c.logger.Info("obs connected", slog.String("url", url))
	return nil
}

// identify runs Hello → Identify → Identified on a fresh socket.
func (c *Client) identify(conn *websocket.Conn, password string) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		return errkind.Newf(errkind.Transient, "read hello: %v", err)
	}
	if hello.Op != opHello {
		return errkind.Newf(errkind.Transient, "expected hello, got op %d", hello.Op)
	}

	var data helloData
	if err := json.Unmarshal(hello.D, &data); err != nil {
		return errkind.Newf(errkind.Transient, "decode hello: %v", err)
	}

	identify := map[string]any{"rpcVersion": rpcVersion}
	if data.Authentication != nil {
		if password == "" {
			return errkind.Newf(errkind.InvalidInput, "obs requires a password and none is configured")
		}
		identify["authentication"] = authToken(password, data.Authentication.Salt, data.Authentication.Challenge)
	}

	if err := conn.WriteJSON(message{Op: opIdentify, D: mustMarshal(identify)}); err != nil {
		return errkind.Newf(errkind.Transient, "send identify: %v", err)
	}

	var identified message
	if err := conn.ReadJSON(&identified); err != nil {
		return errkind.Newf(errkind.Transient, "read identified: %v", err)
	}
	if identified.Op != opIdentified {
		return errkind.Newf(errkind.InvalidInput, "authentication rejected (op %d)", identified.Op)
	}
	return nil
}

// authToken computes base64(sha256(base64(sha256(password+salt)) + challenge)).
func authToken(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	token := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(token[:])
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.handleDisconnect(conn)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Warn("obs read failed", slog.String("error", err.Error()))
			return
		}

		switch msg.Op {
		case opResponse:
			var resp response
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.logger.Error("obs response decode failed", slog.String("error", err.Error()))
				continue
			}
			c.deliver(resp)
		case opEvent:
			// Scene events are not consumed; drift is detected by polling.
		default:
		}
	}
}

func (c *Client) deliver(resp response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	wasConnected := c.conn == conn && c.connected
	if wasConnected {
		c.connected = false
		c.conn = nil
	}
	c.mu.Unlock()

	c.failPending()

	if wasConnected && c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Disconnect closes the connection without firing the disconnect callback.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.failPending()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

// Request issues one request and waits for its correlated response.
func (c *Client) Request(ctx context.Context, requestType string, requestData any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errkind.Newf(errkind.Transient, "obs not connected")
	}

	id := uuid.NewString()
	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	payload := map[string]any{
		"requestType": requestType,
		"requestId":   id,
	}
	if requestData != nil {
		payload["requestData"] = requestData
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(message{Op: opRequest, D: mustMarshal(payload)})
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, errkind.Newf(errkind.Transient, "send %s: %v", requestType, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errkind.Newf(errkind.Transient, "%s: connection lost", requestType)
		}
		if !resp.RequestStatus.Result {
			return nil, errkind.Newf(errkind.Playback, "%s failed: %s (code %d)",
				requestType, resp.RequestStatus.Comment, resp.RequestStatus.Code)
		}
		return resp.ResponseData, nil
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, errkind.Newf(errkind.Transient, "%s: timed out", requestType)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
