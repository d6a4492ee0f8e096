package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"

	"github.com/whizmedia/social-dashboard/backend/internal/config"
	"github.com/whizmedia/social-dashboard/backend/internal/handlers"
	"github.com/whizmedia/social-dashboard/backend/internal/metrics"
	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
	"github.com/whizmedia/social-dashboard/backend/internal/workers"
)

// deps carries the process-boundary hooks so run can be exercised in tests
// without a real database, listener, or signal delivery.
type deps struct {
	loadEnv        func(...string) error
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	notify         func(chan<- os.Signal, ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		loadEnv:        godotenv.Load,
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

func resolvePort(getenv func(string) string) string {
	if port := getenv("PORT"); port != "" {
		return port
	}
	return "18920"
}

// parseIntervalFromEnv reads a positive integer number of seconds from the
// environment, falling back to def on anything else.
func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func migrateUp(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func buildRouter(h *handlers.Handler, sessions *middleware.SessionAuthenticator, collector *metrics.Collector) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", collector.Handler()).Methods("GET")
	handlers.RegisterUserRoutes(h, r, sessions)
	return r
}

func run(d deps) error {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}

	cfg, err := config.Load(d.getenv)
	if err != nil {
		return err
	}
	cfg.Port = resolvePort(d.getenv)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return err
	}

	if err := d.migrateUp(db); err != nil {
		return err
	}
	log.Println("Database is up-to-date")

	collector := metrics.NewCollector()
	h, err := handlers.New(db, cfg, collector)
	if err != nil {
		return err
	}
	sessions := &middleware.SessionAuthenticator{DB: db, Secret: cfg.JWTSecret, CookieName: cfg.CookieName}

	limiter := middleware.NewRateLimiter(300, 60)
	defer limiter.Stop()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := c.Handler(limiter.Middleware(buildRouter(h, sessions, collector)))

	srv := &http.Server{
		Handler:      handler,
		Addr:         ":" + cfg.Port,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Background: purge expired and consumed auth link tokens.
	cleanup := &workers.LinkTokenCleanupWorker{
		DB:              db,
		CheckIntervalMs: int(parseIntervalFromEnv(d.getenv, "LINK_TOKEN_CLEANUP_INTERVAL_SECONDS", time.Hour).Milliseconds()),
	}
	go cleanup.Start(rootCtx)

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}
