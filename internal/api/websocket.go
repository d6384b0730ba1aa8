package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
)

// clientFrame is a message from the socket client.
type clientFrame struct {
	MessageType string         `json:"messageType"`
	MessageID   string         `json:"messageId"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	Message     any            `json:"message,omitempty"`
}

// serverFrame is a message to the socket client. Action replies carry
// messageId + response (or error), subscription acknowledgements nest the
// channel under subscribed/unsubscribed, and broadcast deliveries nest
// {channel, message, sender} under message with no messageId.
type serverFrame struct {
	MessageType  string             `json:"messageType,omitempty"`
	MessageID    string             `json:"messageId,omitempty"`
	Response     any                `json:"response,omitempty"`
	Error        *errors.TypedError `json:"error,omitempty"`
	Subscribed   *channelRef        `json:"subscribed,omitempty"`
	Unsubscribed *channelRef        `json:"unsubscribed,omitempty"`
	Message      any                `json:"message,omitempty"`
}

// channelRef names the channel in subscription acknowledgements.
type channelRef struct {
	Channel string `json:"channel"`
}

// socketClient owns one websocket: the connection handle, the write lock,
// and the per-socket message limiter.
type socketClient struct {
	server  *Server
	ws      *websocket.Conn
	conn    *connection.Connection
	limiter *frameLimiter

	writeMu sync.Mutex
	done    chan struct{}
}

// handleWebsocket upgrades the request and runs the read loop until the
// client goes away. A draining server refuses new sockets.
func (s *Server) handleWebsocket(c *gin.Context) {
	if s.isDraining() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}
	// CSWSH guard: the browser origin must be allowed before the upgrade.
	if !s.originAllowed(c.GetHeader("Origin")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin already checked above
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", map[string]interface{}{"error": err.Error()})
		return
	}

	conn := connection.New(connection.TypeWebsocket, c.ClientIP(), s.api.Sessions, s.api.PubSub)
	if cookie, err := c.Cookie(s.api.Sessions.CookieName()); err == nil && cookie != "" {
		conn.SetID(cookie)
	}
	if id, ok := c.Get(contextKeyCorrelation); ok {
		conn.CorrelationID, _ = id.(string)
	}
	conn.Raw = ws

	client := &socketClient{
		server:  s,
		ws:      ws,
		conn:    conn,
		limiter: &frameLimiter{limit: s.cfg.MaxMessagesPerSecond},
		done:    make(chan struct{}),
	}
	conn.SetBroadcastHandler(client)

	s.api.Connections.Register(conn)
	s.trackSocket(client)

	s.api.Metrics.IncrementCounter("websocket_connections_total", 1)
	s.api.Metrics.SetGauge("websocket_connections", float64(s.api.Connections.Count()))

	client.welcome(c.Request.Context())
	client.readLoop(c.Request.Context())
}

func (c *socketClient) welcome(ctx context.Context) {
	c.write(ctx, &serverFrame{
		MessageType: "welcome",
		Response:    map[string]any{"connectionId": c.conn.ID},
	})
}

func (c *socketClient) readLoop(ctx context.Context) {
	defer c.cleanup()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		frame := &clientFrame{}
		if err := json.Unmarshal(data, frame); err != nil {
			c.writeError(ctx, "", errors.New(errors.KindConnectionServerError, "message is not valid JSON"))
			continue
		}

		// An over-limit frame is dropped after an error reply; the socket
		// stays open.
		if !c.limiter.allow(time.Now()) {
			c.writeError(ctx, frame.MessageID, errors.Newf(errors.KindConnectionRateLimited,
				"message rate exceeds %d per second", c.server.cfg.MaxMessagesPerSecond))
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame routes one frame. Every failure becomes an error frame;
// nothing here tears the socket down.
func (c *socketClient) handleFrame(ctx context.Context, frame *clientFrame) {
	switch frame.MessageType {
	case "action":
		raw := params.FromMap(frame.Params)
		result := c.server.api.Dispatcher.Dispatch(ctx, c.conn, frame.Action, raw, "", "ws:"+frame.Action)
		if result.Error != nil {
			c.writeError(ctx, frame.MessageID, result.Error)
			return
		}
		c.write(ctx, &serverFrame{MessageID: frame.MessageID, Response: result.Response})

	case "subscribe":
		if c.conn.SubscriptionCount() >= c.server.cfg.MaxSubscriptions {
			c.writeError(ctx, frame.MessageID, errors.Newf(errors.KindConnectionChannelValidation,
				"subscription limit of %d reached", c.server.cfg.MaxSubscriptions))
			return
		}
		if err := c.server.api.Channels.Subscribe(ctx, frame.Channel, c.conn); err != nil {
			c.writeError(ctx, frame.MessageID, errors.Wrap(err, errors.KindConnectionServerError))
			return
		}
		c.write(ctx, &serverFrame{
			MessageID:  frame.MessageID,
			Subscribed: &channelRef{Channel: frame.Channel},
		})

	case "unsubscribe":
		if err := c.server.api.Channels.Unsubscribe(ctx, frame.Channel, c.conn); err != nil {
			c.writeError(ctx, frame.MessageID, errors.Wrap(err, errors.KindConnectionServerError))
			return
		}
		c.write(ctx, &serverFrame{
			MessageID:    frame.MessageID,
			Unsubscribed: &channelRef{Channel: frame.Channel},
		})

	case "broadcast":
		if err := c.conn.Broadcast(ctx, frame.Channel, frame.Message); err != nil {
			c.writeError(ctx, frame.MessageID, errors.Wrap(err, errors.KindConnectionServerError))
			return
		}
		c.write(ctx, &serverFrame{
			MessageID: frame.MessageID,
			Response:  map[string]any{"channel": frame.Channel, "sent": true},
		})

	default:
		c.writeError(ctx, frame.MessageID, errors.Newf(errors.KindConnectionTypeNotFound,
			"unknown messageType %q", frame.MessageType))
	}
}

// OnBroadcast implements connection.BroadcastHandler: fabric deliveries
// become broadcast frames with {channel, message, sender} nested under
// message.
func (c *socketClient) OnBroadcast(payload map[string]any) error {
	frame := &serverFrame{Message: map[string]any{
		"channel": payload["channel"],
		"message": payload["message"],
		"sender":  payload["sender"],
	}}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.write(ctx, frame)
}

const writeTimeout = 5 * time.Second

// frameLimiter counts frames per 1-second tumbling window, keyed by the
// wall-clock second. Only the read loop touches it, so no lock is needed.
type frameLimiter struct {
	limit  int
	second int64
	count  int
}

func (l *frameLimiter) allow(now time.Time) bool {
	if sec := now.Unix(); sec != l.second {
		l.second = sec
		l.count = 0
	}
	l.count++
	return l.count <= l.limit
}

func (c *socketClient) write(ctx context.Context, frame *serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *socketClient) writeError(ctx context.Context, messageID string, typed *errors.TypedError) {
	_ = c.write(ctx, &serverFrame{MessageID: messageID, Error: typed})
}

func (c *socketClient) close(reason string) {
	_ = c.ws.Close(websocket.StatusGoingAway, reason)
}

// cleanup removes cluster presence for every held channel before the
// connection leaves the map, then signals drain waiters. The request
// context is already cancelled by the time the read loop exits, so
// presence removal gets its own deadline.
func (c *socketClient) cleanup() {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.server.api.Channels.Disconnect(cleanupCtx, c.conn)
	c.server.api.Connections.Destroy(c.conn)
	c.server.forgetSocket(c)
	c.server.api.Metrics.SetGauge("websocket_connections", float64(c.server.api.Connections.Count()))
	close(c.done)
	_ = c.ws.CloseNow()
}
