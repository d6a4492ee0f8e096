package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config carries every externally-supplied setting. It is built once in main
// and passed by pointer; handlers never read the environment directly.
type Config struct {
	Port        string
	DatabaseURL string
	FrontendURL string

	JWTSecret  string
	CookieName string
	SessionTTL time.Duration

	// Only this email is granted role=admin + instagramAccess on signup.
	TestUserEmail string

	LinkedInClientID     string
	LinkedInClientSecret string
	LinkedInRedirectURI  string

	InstagramAccountID   string
	InstagramAccessToken string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	BcryptCost int
}

// Load reads configuration from the environment. DATABASE_URL and JWT_SECRET
// are required; everything else falls back to a usable default so local dev
// works without a full provider setup (publishing endpoints then fail with a
// config error at request time, not at boot).
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:                 getOr(getenv, "PORT", "18920"),
		DatabaseURL:          strings.TrimSpace(getenv("DATABASE_URL")),
		FrontendURL:          getOr(getenv, "FRONTEND_URL", "http://localhost:5173"),
		JWTSecret:            strings.TrimSpace(getenv("JWT_SECRET")),
		CookieName:           getOr(getenv, "COOKIE_NAME", "authToken"),
		SessionTTL:           7 * 24 * time.Hour,
		TestUserEmail:        getOr(getenv, "TEST_USER_EMAIL", "user@whizmedia.com"),
		LinkedInClientID:     strings.TrimSpace(getenv("LINKEDIN_CLIENT_ID")),
		LinkedInClientSecret: strings.TrimSpace(getenv("LINKEDIN_CLIENT_SECRET")),
		LinkedInRedirectURI:  strings.TrimSpace(getenv("LINKEDIN_REDIRECT_URI")),
		InstagramAccountID:   strings.TrimSpace(getenv("INSTAGRAM_ACCOUNT_ID")),
		InstagramAccessToken: strings.TrimSpace(getenv("INSTAGRAM_ACCESS_TOKEN")),
		CloudinaryCloudName:  strings.TrimSpace(getenv("CLOUDINARY_CLOUD_NAME")),
		CloudinaryAPIKey:     strings.TrimSpace(getenv("CLOUDINARY_API_KEY")),
		CloudinaryAPISecret:  strings.TrimSpace(getenv("CLOUDINARY_API_SECRET")),
		BcryptCost:           10,
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return cfg, nil
}

// FromEnv is the production entry point for Load.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// LinkedInConfigured reports whether the OAuth app credentials are present.
func (c *Config) LinkedInConfigured() bool {
	return c.LinkedInClientID != "" && c.LinkedInClientSecret != "" && c.LinkedInRedirectURI != ""
}

// InstagramConfigured reports whether the shared business account is set up.
func (c *Config) InstagramConfigured() bool {
	return c.InstagramAccountID != "" && c.InstagramAccessToken != ""
}

// CloudinaryConfigured reports whether image hosting is set up.
func (c *Config) CloudinaryConfigured() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func getOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}
