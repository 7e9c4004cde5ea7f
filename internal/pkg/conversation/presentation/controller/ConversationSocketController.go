package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	"github.com/Angelica137/kindly/internal/infrastructure/realtime"
	conversation "github.com/Angelica137/kindly/internal/pkg/conversation/application/domain"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/session"
)

// SessionFactory builds an unopened conversation session for a user.
type SessionFactory func(userID string) *session.Session

// ConversationSocketController serves the realtime conversation list of one
// user over a websocket. Each socket owns one session, and with it one change
// feed subscription, for exactly as long as the socket is open.
type ConversationSocketController struct {
	router     *realtime.Router
	newSession SessionFactory
	log        *zap.Logger
}

func NewConversationSocketController(router *realtime.Router, factory SessionFactory, log *zap.Logger) *ConversationSocketController {
	return &ConversationSocketController{
		router:     router,
		newSession: factory,
		log:        logger.OrNop(log),
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// identity is an opaque user_id for now; tighten once auth lands
		return true
	},
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type connectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type selectionPayload struct {
	Mode           string `json:"mode"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	ListVisible    bool   `json:"list_visible"`
}

type stateFrame struct {
	Type          string                 `json:"type"`
	Conversations []conversation.Summary `json:"conversations"`
	Unread        []int64                `json:"unread"`
	Selection     selectionPayload       `json:"selection"`
	Current       *conversation.Summary  `json:"current,omitempty"`
}

const (
	defaultReadTimeout = 60 * time.Second
	maxFrameSize       = 4 << 10

	// inbound frames allowed per second per socket, and the burst above it
	frameRate  = 10
	frameBurst = 20
)

// Handle upgrades the request and runs the session until the client disconnects,
// the socket is replaced by a newer one of the same user, or the feed ends.
func (ctl *ConversationSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			return
		}

		conn := realtime.NewConnection(userID, ws)
		ctl.router.Attach(conn)

		ctx, cancel := context.WithCancel(c.Request.Context())
		sess := ctl.newSession(userID)
		log := ctl.log.With(zap.String("user_id", userID), zap.String("session_id", sess.ID))
		defer func() {
			cancel()
			sess.Close()
			ctl.router.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		if err := sess.Open(ctx); err != nil {
			log.Warn("conversation_session_open_failed", zap.Error(err))
			ctl.replyError(conn, "session_unavailable", "could not load conversations")
			return
		}

		ctl.send(conn, connectedFrame{Type: "connected", SessionID: sess.ID})
		go ctl.pushState(ctx, conn, sess)

		ws.SetReadLimit(maxFrameSize)
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		limiter := rate.NewLimiter(rate.Limit(frameRate), frameBurst)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
					!errors.Is(err, websocket.ErrCloseSent) {
					log.Debug("conversation_socket_read_ended", zap.Error(err))
				}
				return
			}
			if !limiter.Allow() {
				ctl.replyError(conn, "rate_limited", "too many frames")
				continue
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "bad_request", "invalid payload")
				continue
			}

			switch frame.Type {
			case "select":
				ctl.handleSelect(ctx, conn, sess, frame)
			case "show_list":
				sess.ShowList()
			default:
				ctl.replyError(conn, "unsupported_type", "unknown frame type")
			}
		}
	}
}

func (ctl *ConversationSocketController) handleSelect(ctx context.Context, conn *realtime.Connection, sess *session.Session, frame inboundFrame) {
	if frame.ConversationID == 0 {
		ctl.replyError(conn, "bad_request", "conversation_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := sess.SelectConversation(ctx, frame.ConversationID); err != nil {
		switch {
		case errors.Is(err, conversation.ErrStaleSelection):
			ctl.replyError(conn, "stale_selection", err.Error())
		case errors.Is(err, session.ErrClosed):
			ctl.replyError(conn, "session_closed", err.Error())
		default:
			ctl.replyError(conn, "internal_error", "failed to select conversation")
		}
	}
}

// pushState writes a state frame whenever the session view changes.
func (ctl *ConversationSocketController) pushState(ctx context.Context, conn *realtime.Connection, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-sess.Done():
			if ctx.Err() != nil {
				return
			}
			// The feed ended underneath us; make the client reconnect.
			conn.Close(websocket.CloseTryAgainLater, "conversation feed ended")
			return
		case <-sess.Changed():
			ctl.send(conn, toStateFrame(sess.View()))
		}
	}
}

func (ctl *ConversationSocketController) replyError(conn *realtime.Connection, code string, message string) {
	ctl.send(conn, errorFrame{Type: "error", Code: code, Error: message})
}

func (ctl *ConversationSocketController) send(conn *realtime.Connection, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		ctl.log.Error("conversation_frame_encode_failed", zap.Error(err))
		return
	}
	_ = conn.Send(payload)
}

func toStateFrame(v session.View) stateFrame {
	return stateFrame{
		Type:          "state",
		Conversations: v.Conversations,
		Unread:        v.Unread,
		Selection: selectionPayload{
			Mode:           v.Selection.Mode.String(),
			ConversationID: v.Selection.ConversationID,
			ListVisible:    v.Selection.ListVisible(),
		},
		Current: v.Current,
	}
}
