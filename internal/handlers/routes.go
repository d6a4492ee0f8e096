package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whizmedia/social-dashboard/backend/internal/middleware"
)

// RegisterUserRoutes mounts every /user endpoint. Session-protected routes
// are wrapped here so the handlers can assume an authenticated context.
func RegisterUserRoutes(h *Handler, r *mux.Router, sessions *middleware.SessionAuthenticator) {
	u := r.PathPrefix("/user").Subrouter()

	// Authentication
	u.HandleFunc("/signup", h.Signup).Methods("POST")
	u.HandleFunc("/login", h.Login).Methods("POST")
	u.HandleFunc("/google-login", h.GoogleLogin).Methods("POST")
	u.HandleFunc("/forgot-password", h.ForgotPassword).Methods("POST")
	u.HandleFunc("/reset-password", h.ResetPassword).Methods("POST")
	u.HandleFunc("/send-signin-link", h.SendSignInLink).Methods("POST")
	u.HandleFunc("/verify-email-link", h.VerifyEmailLink).Methods("POST")
	u.HandleFunc("/logout", h.Logout).Methods("POST")

	// Social publishing. Instagram is restricted; LinkedIn posting only needs
	// the provider token carried in the request.
	u.Handle("/post",
		sessions.Middleware(middleware.RequireInstagramAccess(http.HandlerFunc(h.InstagramPost)))).Methods("POST")
	u.HandleFunc("/linkedin/post", h.LinkedInPost).Methods("POST")

	// LinkedIn OAuth
	u.HandleFunc("/auth/linkedin/state", h.LinkedInState).Methods("GET")
	u.HandleFunc("/auth/linkedin/callback", h.LinkedInCallback).Methods("GET")

	// Messaging
	u.HandleFunc("/messages/conversations", h.GetConversations).Methods("GET")
	u.HandleFunc("/messages/send", h.SendMessage).Methods("POST")

	// Account
	u.Handle("/update-username",
		sessions.Middleware(http.HandlerFunc(h.UpdateUsername))).Methods("PUT")

	u.HandleFunc("/test/linkedin-config", h.LinkedInConfigDebug).Methods("GET")
}
