package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/hub"
	"github.com/cardfield/cardfield/internal/room"
	"github.com/cardfield/cardfield/internal/store"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createRoomResponse struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participant_id"`
}

type joinRoomResponse struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participant_id"`
}

// CreateRoom allocates an unused invite code, persists the room row, starts
// the room loop, and issues the creator's participant id.
func CreateRoom(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := uuid.NewString()

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			err = st.CreateRoom(r.Context(), c, creatorID)
			if errors.Is(err, store.ErrRoomExists) {
				log.Debug("collision on code, regenerating", zap.String("code", c))
				continue
			}
			if err != nil {
				log.Error("create room", zap.Error(err))
				http.Error(w, "failed to create room", http.StatusInternalServerError)
				return
			}
			code = c
			break
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.CreateRoom{Code: code, CreatorID: creatorID, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		log.Info("room created", zap.String("room", code))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createRoomResponse{Code: code, ParticipantID: creatorID})
	}
}

// JoinRoom issues a participant id for an existing room, reviving its loop
// from the store if no one was connected.
func JoinRoom(h *hub.Hub, st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		exists, err := st.RoomExists(r.Context(), code)
		if err != nil {
			log.Error("room lookup", zap.String("room", code), zap.Error(err))
			http.Error(w, "room lookup failed", http.StatusInternalServerError)
			return
		}
		if !exists {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to join room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(joinRoomResponse{Code: code, ParticipantID: uuid.NewString()})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
