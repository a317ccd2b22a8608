package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

// SetRoutes mounts the room API under /v1 and under the legacy /api prefix.
func (h *Handler) SetRoutes(r chi.Router) {
	r.Route("/v1", h.roomRoutes)
	r.Route("/api", h.roomRoutes)
}

func (h *Handler) roomRoutes(r chi.Router) {
	// public routes here
	r.Get("/health", h.HealthHandler)
	r.Post("/create-room", h.CreateRoomHandler)
	r.Post("/join-room", h.JoinRoomHandler)
	r.Post("/end-game", h.EndGameHandler)
	r.Get("/room/{roomId}", h.GetRoomHandler)
	r.Get("/registry", h.GetRegistryHandler)

	// Secure routes
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.tokenAuth))
		r.Use(jwtauth.Authenticator)

		r.Post("/initialize", h.InitializeHandler)
	})
}

func (h *Handler) InitAuth(jwtKey string) {
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, _ := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": "roomsvc-admin",
		"exp":        expirationTime,
	})

	// only visible with LOG_LEVEL=debug
	log.Debugf("DEBUG: admin JWT for testing expires in 7 days : %s", tokenString)
}
