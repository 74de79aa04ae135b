package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/realtime"
	"github.com/techagentng/qwik/server/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts any origin when none are configured. Requests without
// an Origin header come from non-browser clients and are let through.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.Config.Origins()
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin || a == u.Host {
			return true
		}
	}
	return false
}

// handleChatSocket upgrades to a chat connection. A user_id of 0 opens an
// inbox-only connection that only receives inbox updates.
func (s *Server) handleChatSocket() gin.HandlerFunc {
	upgrader := s.upgrader()
	return func(c *gin.Context) {
		peerID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
		if err != nil {
			response.JSON(c, "invalid user id", http.StatusBadRequest, nil, errs.New("user_id must be a number", http.StatusBadRequest))
			return
		}
		userID, err := getUserIDFromContext(c)
		if err != nil {
			realtime.SessionsRejected.Inc()
			respondAndAbort(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already replied
			s.Logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
			return
		}

		sess := realtime.NewSession(s.Bus, s.ChatRepository, s.Logger, s.Config.WSOutboundBuffer)
		if err := sess.Open(c.Request.Context(), userID, uint(peerID)); err != nil {
			s.Logger.Warn("open chat session", "user_id", userID, "peer_id", peerID, "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unable to open session"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		go s.writePump(conn, sess)
		s.readPump(conn, sess)
	}
}

// readPump feeds client frames into the session in arrival order. Any read
// error ends the connection.
func (s *Server) readPump(conn *websocket.Conn, sess *realtime.Session) {
	defer sess.Close()

	conn.SetReadLimit(s.readLimit())
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.Logger.Debug("chat connection read error", "session_id", sess.ID, "error", err)
			}
			return
		}
		if err := sess.HandleInbound(data); err != nil {
			s.logInboundError(sess, err)
			if errors.Is(err, errs.ErrSessionClosed) {
				return
			}
		}
	}
}

// readLimit lets the configured cap raise the frame limit but never lower it
// below what a valid message event needs. Oversized text is then rejected as
// malformed instead of tearing down the connection.
func (s *Server) readLimit() int64 {
	if s.Config.WSMaxMessageBytes > realtime.MaxFrameBytes {
		return s.Config.WSMaxMessageBytes
	}
	return realtime.MaxFrameBytes
}

func (s *Server) logInboundError(sess *realtime.Session, err error) {
	switch {
	case errors.Is(err, errs.ErrNotJoined):
		s.Logger.Debug("event needs a chat room", "session_id", sess.ID, "user_id", sess.UserID)
	case errors.Is(err, errs.ErrMalformedEvent):
		s.Logger.Warn("malformed chat event", "session_id", sess.ID, "user_id", sess.UserID, "error", err)
	case errors.Is(err, errs.ErrSessionClosed):
	default:
		s.Logger.Error("chat event failed", "session_id", sess.ID, "user_id", sess.UserID, "error", err)
	}
}

// writePump is the only writer on conn.
func (s *Server) writePump(conn *websocket.Conn, sess *realtime.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(writeWait))
	}

	for {
		select {
		case data := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Logger.Debug("chat connection write error", "session_id", sess.ID, "error", err)
				sess.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		case <-s.closingCh():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			sess.Close()
			return
		}
	}
}
