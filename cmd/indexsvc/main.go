package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/room-services/configs"
	"github.com/avvvet/room-services/internal/comm"
	"github.com/avvvet/room-services/internal/db"
	"github.com/avvvet/room-services/internal/indexsvc/broker"
	indexcfg "github.com/avvvet/room-services/internal/indexsvc/config"
	"github.com/avvvet/room-services/internal/indexsvc/handlers"
	"github.com/avvvet/room-services/internal/indexsvc/store"
	"github.com/avvvet/room-services/internal/nats"
)

const SERVICE_NAME = "index"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId[:8])
}

func main() {
	cfg, err := indexcfg.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	database, err := db.ConnectToDB(ctx)
	if err != nil {
		cancel()
		log.Fatalf("Failed to connect to mongo: %v", err)
	}
	defer database.Client().Disconnect(context.Background())

	rooms := store.NewRoomStore(database)
	err = rooms.EnsureIndexes(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	log.Printf("mongo connection established successfully")

	// Connect to NATS
	n, err := nats.Connect(SERVICE_NAME + "-service-" + instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	b := broker.NewBroker(n.Conn, rooms, cfg.ResolvedTTL, cfg.WriteTimeout)
	sub, err := b.QueueSubscribe(comm.RoomEventsTopic, cfg.Queue)
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
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(c.Handler)
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	h := handlers.NewHandler(rooms)
	h.SetRoutes(r)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	// let in flight events finish before closing mongo
	if err := sub.Drain(); err != nil {
		log.Warnf("drain subscription: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
