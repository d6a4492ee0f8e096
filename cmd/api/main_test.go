package main

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/whizmedia/social-dashboard/backend/internal/config"
	"github.com/whizmedia/social-dashboard/backend/internal/handlers"
	"github.com/whizmedia/social-dashboard/backend/internal/metrics"
	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
)

func TestResolvePort_Default(t *testing.T) {
	got := resolvePort(func(string) string { return "" })
	if got != "18920" {
		t.Fatalf("expected default port 18920, got %q", got)
	}
}

func TestResolvePort_FromEnv(t *testing.T) {
	got := resolvePort(func(k string) string {
		if k == "PORT" {
			return "12345"
		}
		return ""
	})
	if got != "12345" {
		t.Fatalf("expected port 12345, got %q", got)
	}
}

func TestParseIntervalFromEnv(t *testing.T) {
	def := 7 * time.Second

	if got := parseIntervalFromEnv(func(string) string { return "" }, "X", def); got != def {
		t.Fatalf("expected default, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "0" }, "X", def); got != def {
		t.Fatalf("expected default on 0, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "abc" }, "X", def); got != def {
		t.Fatalf("expected default on non-int, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "3" }, "X", def); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
}

func TestBuildRouter_HealthOK(t *testing.T) {
	cfg := &config.Config{
		FrontendURL: "http://localhost:5173",
		JWTSecret:   "test-secret",
		CookieName:  "authToken",
		SessionTTL:  time.Hour,
		BcryptCost:  4,
	}
	collector := metrics.NewCollector()
	h, err := handlers.New(nil, cfg, collector)
	if err != nil {
		t.Fatalf("handlers.New: %v", err)
	}
	sessions := &middleware.SessionAuthenticator{Secret: cfg.JWTSecret, CookieName: cfg.CookieName}
	r := buildRouter(h, sessions, collector)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body == "" || body[0] != '{' {
		t.Fatalf("expected json response, got %q", body)
	}

	req = httptest.NewRequest("GET", "/metrics", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
}

func TestRun_Smoke_NoRealListen(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()

	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	d := deps{
		getenv: func(k string) string {
			switch k {
			case "DATABASE_URL":
				return "postgres://example"
			case "JWT_SECRET":
				return "test-secret"
			}
			return ""
		},
		openDB: func(driverName, dataSourceName string) (*sql.DB, error) {
			_ = driverName
			_ = dataSourceName
			return db, nil
		},
		migrateUp: func(*sql.DB) error { return nil },
		listenAndServe: func(*http.Server) error {
			// simulate a clean shutdown
			return http.ErrServerClosed
		},
		stopCh: stop,
	}

	if err := run(d); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRun_RequiresDatabaseURL(t *testing.T) {
	d := deps{getenv: func(string) string { return "" }}
	if err := run(d); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestDefaultDeps_HasRequiredFields(t *testing.T) {
	d := defaultDeps()
	if d.getenv == nil || d.openDB == nil || d.migrateUp == nil || d.listenAndServe == nil || d.notify == nil {
		t.Fatalf("expected all default deps to be non-nil: %#v", d)
	}
}
