package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/proctorwatch/internal/protocol"
	"github.com/ent0n29/proctorwatch/internal/session"
)

const (
	wsOutboundBuffer = 256
	wsReadLimit      = 64 << 10
	wsReadTimeout    = 120 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
)

type outboundFrame struct {
	msgType string
	payload any
}

// observerConn is one websocket client. rooms is only touched by the read
// loop; forwarders and the writer share nothing but outbound.
type observerConn struct {
	srv      *Server
	viewer   session.Viewer
	outbound chan outboundFrame
	rooms    map[string]func()
	forwards sync.WaitGroup
}

func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_viewer", err.Error())
		return
	}
	if s.bus == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "fanout not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	oc := &observerConn{
		srv:      s,
		viewer:   viewer,
		outbound: make(chan outboundFrame, wsOutboundBuffer),
		rooms:    make(map[string]func()),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		oc.writeLoop(ctx, cancel, conn)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			oc.enqueue(ctx, outboundFrame{
				msgType: string(protocol.TypeErrorEvent),
				payload: protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "invalid_client_message",
					Detail: err.Error(),
				},
			})
			continue
		}
		switch m := parsed.(type) {
		case protocol.JoinSession:
			s.metrics.WSMessage("inbound", string(m.Type))
			oc.join(ctx, m.SessionID)
		case protocol.LeaveSession:
			s.metrics.WSMessage("inbound", string(m.Type))
			oc.leave(ctx, m.SessionID)
		}
	}

	for id := range oc.rooms {
		oc.rooms[id]()
	}
	oc.forwards.Wait()
	cancel()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

func (oc *observerConn) join(ctx context.Context, sessionID string) {
	if _, ok := oc.rooms[sessionID]; ok {
		return
	}
	// Look the room up unscoped so a session that does not exist yet can be
	// told apart from one the viewer may not see.
	sess, err := oc.srv.sessions.Get(ctx, session.Viewer{}, sessionID)
	exists := err == nil
	if err != nil && (ctx.Err() != nil || !isNotFound(err)) {
		if ctx.Err() == nil {
			oc.srv.logger.Error("ws join lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		oc.joinError(ctx, sessionID, "internal_error", err.Error())
		return
	}
	if exists && !oc.viewer.CanSee(sess) {
		oc.joinError(ctx, sessionID, "session_not_found", "session not found: "+sessionID)
		return
	}

	ch, unsubscribe := oc.srv.bus.Subscribe(sessionID)
	oc.rooms[sessionID] = unsubscribe

	// The join acknowledgement carries the current state when there is one;
	// live messages only cover what happens after this point.
	oc.enqueue(ctx, outboundFrame{
		msgType: string(protocol.TypeSystemEvent),
		payload: protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "joined"},
	})
	if exists {
		oc.enqueue(ctx, outboundFrame{msgType: string(protocol.TypeSessionState), payload: protocol.NewSessionState(sess)})
		oc.enqueue(ctx, outboundFrame{msgType: string(protocol.TypeScoreUpdate), payload: protocol.NewScoreUpdate(sess)})
	}

	gate := roomGate{decided: exists || oc.viewer.Admin(), visible: true}
	oc.forwards.Add(1)
	go func() {
		defer oc.forwards.Done()
		for msg := range ch {
			if !gate.allow(ctx, oc, sessionID) {
				continue
			}
			oc.enqueue(ctx, outboundFrame{msgType: msg.Type, payload: msg.Payload})
		}
	}()
}

// roomGate holds the visibility decision for a room joined before its
// session existed. It is owned by a single forwarder goroutine.
type roomGate struct {
	decided bool
	visible bool
}

// allow resolves visibility on the first message that finds the session.
// Messages are dropped while the session cannot be read.
func (g *roomGate) allow(ctx context.Context, oc *observerConn, sessionID string) bool {
	if g.decided {
		return g.visible
	}
	sess, err := oc.srv.sessions.Get(ctx, session.Viewer{}, sessionID)
	if err != nil {
		return false
	}
	g.decided = true
	g.visible = oc.viewer.CanSee(sess)
	return g.visible
}

func (oc *observerConn) joinError(ctx context.Context, sessionID, code, detail string) {
	oc.enqueue(ctx, outboundFrame{
		msgType: string(protocol.TypeErrorEvent),
		payload: protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Retryable: code == "internal_error",
			Detail:    detail,
		},
	})
}

func (oc *observerConn) leave(ctx context.Context, sessionID string) {
	unsubscribe, ok := oc.rooms[sessionID]
	if !ok {
		return
	}
	unsubscribe()
	delete(oc.rooms, sessionID)
	oc.enqueue(ctx, outboundFrame{
		msgType: string(protocol.TypeSystemEvent),
		payload: protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "left"},
	})
}

// enqueue never blocks: a saturated connection loses messages rather than
// holding up the bus.
func (oc *observerConn) enqueue(ctx context.Context, f outboundFrame) {
	if ctx.Err() != nil {
		return
	}
	select {
	case oc.outbound <- f:
	default:
		oc.srv.metrics.FanoutDrop("ws_outbound_full")
	}
}

func (oc *observerConn) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		case f := <-oc.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(f.payload); err != nil {
				oc.srv.metrics.WSMessage("outbound_error", f.msgType)
				cancel()
				return
			}
			oc.srv.metrics.WSMessage("outbound", f.msgType)
		}
	}
}
