package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/roomsvc/service"
)

// lamports per SOL
const stakeDecimals = 9

var maxLamports = decimal.RequireFromString("18446744073709551615")

type RoomLifecycle interface {
	Initialize(ctx context.Context) (*service.Confirmation, error)
	CreateRoom(ctx context.Context, in service.CreateRoomInput) (*service.CreateRoomResult, error)
	JoinRoom(ctx context.Context, roomID uint64, player string) (*service.Confirmation, error)
	EndGame(ctx context.Context, roomID uint64, winner string) (*service.Confirmation, error)
	FetchRoom(ctx context.Context, roomID uint64) (*comm.RoomData, error)
	FetchRegistry(ctx context.Context) (*comm.RegistryData, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	rooms     RoomLifecycle
	timeout   time.Duration
}

func NewHandler(rooms RoomLifecycle, timeout time.Duration) *Handler {
	return &Handler{rooms: rooms, timeout: timeout}
}

// Response is the envelope of every reply. RoomId and RoomData repeat Data
// under the names older clients read.
type Response struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Code     int            `json:"code"`
	Data     interface{}    `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	RoomId   string         `json:"roomId,omitempty"`
	RoomData *comm.RoomData `json:"roomData,omitempty"`
}

type createRoomRequest struct {
	CreatorPublicKey string           `json:"creatorPublicKey"`
	StakingAmount    *decimal.Decimal `json:"stakingAmount"` // SOL
}

type joinRoomRequest struct {
	PlayerPublicKey string      `json:"playerPublicKey"`
	RoomId          json.Number `json:"roomId"`
}

type endGameRequest struct {
	RoomId          json.Number `json:"roomId"`
	WinnerPublicKey string      `json:"winnerPublicKey"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Success: true,
		Message: "room service is running",
		Code:    http.StatusOK,
	})
}

func (h *Handler) InitializeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	conf, err := h.rooms.Initialize(ctx)
	if err != nil {
		h.errorResponse(w, "Initialize", err)
		return
	}

	h.CreateResponse(w, Response{
		Success: true,
		Message: "Game initialized",
		Code:    http.StatusOK,
		Data:    confirmation(conf),
	})
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}

	in := service.CreateRoomInput{Creator: req.CreatorPublicKey}
	if req.StakingAmount != nil {
		lamports, err := toLamports(*req.StakingAmount)
		if err != nil {
			h.badRequest(w, err.Error())
			return
		}
		in.StakingAmount = &lamports
	}

	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.rooms.CreateRoom(ctx, in)
	if err != nil {
		h.errorResponse(w, "CreateRoom", err)
		return
	}

	roomId := strconv.FormatUint(res.RoomID, 10)
	data := confirmation(&res.Confirmation)
	data["roomId"] = roomId
	h.CreateResponse(w, Response{
		Success: true,
		Message: "Room created successfully",
		Code:    http.StatusOK,
		Data:    data,
		RoomId:  roomId,
	})
}

func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}
	roomID, err := parseRoomID(req.RoomId.String())
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	conf, err := h.rooms.JoinRoom(ctx, roomID, req.PlayerPublicKey)
	if err != nil {
		h.errorResponse(w, "JoinRoom", err)
		return
	}

	h.CreateResponse(w, Response{
		Success: true,
		Message: "Joined room successfully",
		Code:    http.StatusOK,
		Data:    confirmation(conf),
	})
}

func (h *Handler) EndGameHandler(w http.ResponseWriter, r *http.Request) {
	var req endGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}
	roomID, err := parseRoomID(req.RoomId.String())
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	conf, err := h.rooms.EndGame(ctx, roomID, req.WinnerPublicKey)
	if err != nil {
		h.errorResponse(w, "EndGame", err)
		return
	}

	h.CreateResponse(w, Response{
		Success: true,
		Message: "Game ended successfully",
		Code:    http.StatusOK,
		Data:    confirmation(conf),
	})
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()

	room, err := h.rooms.FetchRoom(ctx, roomID)
	if err != nil {
		h.errorResponse(w, "FetchRoom", err)
		return
	}

	h.CreateResponse(w, Response{
		Success:  true,
		Code:     http.StatusOK,
		Data:     room,
		RoomData: room,
	})
}

func (h *Handler) GetRegistryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	reg, err := h.rooms.FetchRegistry(ctx)
	if err != nil {
		h.errorResponse(w, "FetchRegistry", err)
		return
	}

	h.CreateResponse(w, Response{
		Success: true,
		Code:    http.StatusOK,
		Data:    reg,
	})
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.CreateResponse(w, Response{
		Code:  http.StatusBadRequest,
		Error: msg,
		Kind:  "invalid_input",
	})
}

func (h *Handler) errorResponse(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Errorf("Error [RoomService.%s] %s", op, err)
	} else {
		log.Infof("RoomService.%s refused: %s", op, err)
	}

	h.CreateResponse(w, Response{
		Code:  code,
		Error: err.Error(),
		Kind:  service.Kind(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRegistryNotFound), errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyInitialized),
		errors.Is(err, service.ErrRoomNotOpen),
		errors.Is(err, service.ErrAlreadyJoined),
		errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrConflictRetryExhausted):
		return http.StatusConflict
	case errors.Is(err, service.ErrWinnerNotAParticipant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrUnknownOutcome):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseRoomID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("roomId must be a positive integer, got %q", s)
	}
	return id, nil
}

// toLamports converts a SOL amount to whole lamports.
func toLamports(sol decimal.Decimal) (uint64, error) {
	lamports := sol.Shift(stakeDecimals)
	switch {
	case lamports.IsNegative():
		return 0, fmt.Errorf("stakingAmount must not be negative")
	case !lamports.Equal(lamports.Truncate(0)):
		return 0, fmt.Errorf("stakingAmount has more than %d decimals", stakeDecimals)
	case lamports.GreaterThan(maxLamports):
		return 0, fmt.Errorf("stakingAmount too large")
	}
	return lamports.BigInt().Uint64(), nil
}

func confirmation(c *service.Confirmation) map[string]interface{} {
	data := map[string]interface{}{"reconciled": c.Reconciled}
	if c.Signature != "" {
		data["signature"] = c.Signature
	}
	return data
}
