package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nucleus/blog-api/internal/metrics"
	"github.com/nucleus/blog-api/internal/reqctx"
)

// Subprotocol is the websocket subprotocol of subscriptions-transport-ws.
const Subprotocol = "graphql-ws"

// Message types of the graphql-ws protocol.
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlConnectionError     = "connection_error"
	gqlConnectionKeepAlive = "ka"
	gqlConnectionTerminate = "connection_terminate"
	gqlStart               = "start"
	gqlStop                = "stop"
	gqlData                = "data"
	gqlError               = "error"
	gqlComplete            = "complete"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{Subprotocol},
	// Origins are checked by the CORS handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsError struct {
	Message string `json:"message"`
}

// wsConn is one websocket client and the subscriptions it started.
type wsConn struct {
	s    *Server
	conn *websocket.Conn
	log  *zap.Logger

	// req is the upgrade request, cloned with the headers from connection_init.
	req    *http.Request
	inited bool

	writeMu sync.Mutex
	mu      sync.Mutex
	ops     map[string]*wsOp
	wg      sync.WaitGroup
}

// wsOp is one started operation. A restarted id gets a new wsOp, so the
// previous run cannot unregister its successor.
type wsOp struct {
	cancel context.CancelFunc
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if conn.Subprotocol() != Subprotocol {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := &wsConn{
		s:    s,
		conn: conn,
		log:  s.log.With(zap.String("request_id", RequestIDFromContext(r.Context()))),
		req:  r,
		ops:  make(map[string]*wsOp),
	}
	c.run(r.Context())
}

func (c *wsConn) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.wg.Wait()
		c.conn.Close()
	}()

	go func() {
		select {
		case <-c.s.closing:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			c.conn.Close()
		case <-ctx.Done():
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case gqlConnectionInit:
			if c.inited {
				c.write(wsMessage{Type: gqlConnectionError, Payload: mustJSON(wsError{Message: "connection already initialised"})})
				continue
			}
			if err := c.init(msg.Payload); err != nil {
				c.write(wsMessage{Type: gqlConnectionError, Payload: mustJSON(wsError{Message: err.Error()})})
				return
			}
			c.write(wsMessage{Type: gqlConnectionAck})
			if c.s.gql.KeepAlive > 0 {
				c.write(wsMessage{Type: gqlConnectionKeepAlive})
				go c.keepAlive(ctx, c.s.gql.KeepAlive)
			}
		case gqlStart:
			if !c.inited {
				c.write(wsMessage{ID: msg.ID, Type: gqlError, Payload: mustJSON(wsError{Message: "connection not initialised"})})
				continue
			}
			c.start(ctx, msg.ID, msg.Payload)
		case gqlStop:
			c.stop(msg.ID)
		case gqlConnectionTerminate:
			return
		default:
			c.write(wsMessage{ID: msg.ID, Type: gqlError, Payload: mustJSON(wsError{Message: fmt.Sprintf("unknown message type %q", msg.Type)})})
		}
	}
}

// init applies the connection params, e.g. {"Authorization": "Bearer ..."},
// as headers of the request seen by resolvers.
func (c *wsConn) init(payload json.RawMessage) error {
	params := map[string]interface{}{}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &params); err != nil {
			return fmt.Errorf("invalid connection params: %w", err)
		}
	}

	req := c.req.Clone(c.req.Context())
	for key, value := range params {
		if s, ok := value.(string); ok {
			req.Header.Set(key, s)
		}
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	c.req = req
	c.inited = true
	return nil
}

func (c *wsConn) start(ctx context.Context, id string, payload json.RawMessage) {
	var req gqlRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Query == "" {
		c.write(wsMessage{ID: id, Type: gqlError, Payload: mustJSON(wsError{Message: "invalid operation payload"})})
		return
	}

	rc, err := c.s.factory.Build(c.req)
	if err != nil {
		c.write(wsMessage{ID: id, Type: gqlError, Payload: mustJSON(wsError{Message: err.Error()})})
		return
	}

	c.stop(id)
	opCtx, cancel := context.WithCancel(reqctx.WithContext(ctx, rc))
	op := &wsOp{cancel: cancel}
	c.mu.Lock()
	c.ops[id] = op
	c.mu.Unlock()

	results, err := c.s.schema.Subscribe(opCtx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		c.remove(id, op)
		cancel()
		c.write(wsMessage{ID: id, Type: gqlError, Payload: mustJSON(wsError{Message: err.Error()})})
		return
	}

	metrics.ActiveSubscriptions.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer metrics.ActiveSubscriptions.Dec()
		defer cancel()

		for result := range results {
			metrics.GraphQLOperations.WithLabelValues("websocket", "ok").Inc()
			c.write(wsMessage{ID: id, Type: gqlData, Payload: mustJSON(result)})
		}
		if c.remove(id, op) {
			c.write(wsMessage{ID: id, Type: gqlComplete})
		}
	}()
}

func (c *wsConn) stop(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		op.cancel()
	}
}

// remove unregisters op and reports whether it was still registered under id,
// i.e. neither stopped by the client nor replaced by a restart.
func (c *wsConn) remove(id string, op *wsOp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops[id] != op {
		return false
	}
	delete(c.ops, id)
	return true
}

func (c *wsConn) keepAlive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(wsMessage{Type: gqlConnectionKeepAlive}); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug("websocket write failed", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(wsError{Message: err.Error()})
	}
	return b
}
