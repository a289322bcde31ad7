package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/hub"
	"github.com/cardfield/cardfield/internal/room"
	"github.com/cardfield/cardfield/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	helloTimeout = 10 * time.Second
)

// Handler upgrades the connection, waits for the client's Hello, joins the
// room, and then pumps messages both ways until the socket drops.
func Handler(h *hub.Hub, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// Hello handshake: the first message must identify the participant.
		helloCtx, cancelHello := context.WithTimeout(r.Context(), helloTimeout)
		_, data, err := conn.Read(helloCtx)
		cancelHello()
		if err != nil {
			return
		}
		var hello types.ClientMessage
		if err := json.Unmarshal(data, &hello); err != nil || hello.Type != types.MsgHello || hello.ParticipantID == "" {
			writeError(r.Context(), conn, "expected Hello with participant_id")
			return
		}
		pid := hello.ParticipantID

		out := make(chan types.ServerMessage, 16)
		rm.Inbox() <- room.Join{
			Participant: types.Participant{ParticipantID: pid, DisplayName: hello.DisplayName},
			Outbox:      out,
		}
		defer func() { rm.Inbox() <- room.Disconnect{ParticipantID: pid} }()
		log.Info("participant connected", zap.String("room", code), zap.String("participant", pid))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Debug("read error", zap.String("participant", pid), zap.Error(err))
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			switch cm.Type {
			case types.MsgSurfaceUpdate:
				if cm.State == nil {
					writeError(r.Context(), conn, "surface update without state")
					continue
				}
				rm.Inbox() <- room.UpdateSurface{From: pid, State: *cm.State}
			case types.MsgBroadcast:
				rm.Inbox() <- room.Broadcast{From: pid, Payload: cm.Payload}
			case types.MsgDrawCard:
				rm.Inbox() <- room.DrawCard{ParticipantID: pid}
			case types.MsgLeave:
				rm.Inbox() <- room.Leave{ParticipantID: pid}
				return
			case types.MsgHello:
				// already joined; ignore repeats
			default:
				writeError(r.Context(), conn, "unknown type")
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
