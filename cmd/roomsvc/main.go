package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/room-services/configs"
	"github.com/avvvet/room-services/internal/comm"
	nats "github.com/avvvet/room-services/internal/nats"
	"github.com/avvvet/room-services/internal/roomsvc/address"
	"github.com/avvvet/room-services/internal/roomsvc/broker"
	roomcfg "github.com/avvvet/room-services/internal/roomsvc/config"
	"github.com/avvvet/room-services/internal/roomsvc/db"
	handlers "github.com/avvvet/room-services/internal/roomsvc/handlers"
	"github.com/avvvet/room-services/internal/roomsvc/ledger"
	"github.com/avvvet/room-services/internal/roomsvc/ledger/memledger"
	"github.com/avvvet/room-services/internal/roomsvc/ledger/pgledger"
	"github.com/avvvet/room-services/internal/roomsvc/program"
	"github.com/avvvet/room-services/internal/roomsvc/service"
)

const SERVICE_NAME = "room"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId[:8])
}

func main() {
	cfg, err := roomcfg.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	programID, authority := cfg.Keys()
	prog := program.New(address.NewDeriver(programID))

	// ledger backend
	var backend ledger.Ledger
	switch cfg.LedgerBackend {
	case roomcfg.BackendPostgres:
		dbpool, err := db.Connect(cfg.DBUrl)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool()
		log.Printf("pg connection established successfully")

		pg := pgledger.New(dbpool, prog, programID)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pg.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to migrate ledger tables: %v", err)
		}
		backend = pg
	default:
		log.Warn("running on the in-memory ledger, state is lost on restart")
		backend = memledger.New(prog, programID)
	}
	client := ledger.NewClient(backend, cfg.LedgerOptions())

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME + "-service-" + instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, nil)
	roomService, err := service.NewRoomService(client, prog, authority, cfg.Policy(), clock.New(), b)
	if err != nil {
		log.Fatalf("Failed to build room service: %v", err)
	}
	b.RoomService = roomService

	// subscribe to socket service
	sub, err := b.SubscribeSocketService(comm.SocketServiceTopic)
	if err != nil {
		log.Errorf("Error: unable to subscribe to topic %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.OperationTimeout + 5*time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(roomService, cfg.OperationTimeout)
	h.InitAuth(cfg.JWTSecretKey)
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
