package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/indexsvc/store"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

var states = map[string]bool{"": true, "open": true, "full": true, "resolved": true}

type RoomIndex interface {
	List(ctx context.Context, state string, limit int64) ([]store.RoomDocument, error)
	Get(ctx context.Context, roomID uint64) (*store.RoomDocument, error)
}

type Handler struct {
	rooms RoomIndex
}

func NewHandler(rooms RoomIndex) *Handler {
	return &Handler{rooms: rooms}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", h.roomRoutes)
	r.Route("/api", h.roomRoutes)
}

func (h *Handler) roomRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/rooms", h.ListRooms)
	r.Get("/rooms/{roomId}", h.GetRoom)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{Success: true, Message: "index service is running", Code: http.StatusOK})
}

// ListRooms serves /rooms?state=open&limit=20, newest rooms first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if !states[state] {
		h.fail(w, http.StatusBadRequest, "state must be open, full or resolved")
		return
	}

	limit := int64(defaultLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > maxLimit {
			h.fail(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	docs, err := h.rooms.List(r.Context(), state, limit)
	if err != nil {
		log.Errorf("Error listing rooms: %s", err)
		h.fail(w, http.StatusInternalServerError, "unable to list rooms")
		return
	}

	rooms := make([]comm.RoomData, 0, len(docs))
	for _, d := range docs {
		rooms = append(rooms, d.Room())
	}
	h.CreateResponse(w, Response{Success: true, Code: http.StatusOK, Data: rooms})
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseUint(chi.URLParam(r, "roomId"), 10, 64)
	if err != nil || roomID == 0 {
		h.fail(w, http.StatusBadRequest, "roomId must be a positive integer")
		return
	}

	doc, err := h.rooms.Get(r.Context(), roomID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		h.fail(w, http.StatusNotFound, "room not indexed")
		return
	}
	if err != nil {
		log.Errorf("Error reading room %d: %s", roomID, err)
		h.fail(w, http.StatusInternalServerError, "unable to read room")
		return
	}

	h.CreateResponse(w, Response{Success: true, Code: http.StatusOK, Data: doc.Room()})
}

func (h *Handler) fail(w http.ResponseWriter, code int, msg string) {
	h.CreateResponse(w, Response{Code: code, Error: msg})
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}
