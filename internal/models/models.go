package models

import "time"

// User is the credential-store record. The JSON shape here is what the
// frontend receives; password hashes stay inside the handlers package.
type User struct {
	UID                string    `json:"uid"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	Role               string    `json:"role"`
	InstagramAccess    bool      `json:"instagramAccess"`
	InstagramConnected bool      `json:"instagramConnected"`
	LinkedInConnected  bool      `json:"linkedinConnected"`
	PhotoURL           *string   `json:"photoURL,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// LinkedInIdentity is the normalized profile assembled after the OAuth
// exchange. It is handed to the browser base64-encoded and never persisted
// server-side; the embedded access token is what later posting calls pass
// back in.
type LinkedInIdentity struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Name                string `json:"name"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	Picture             string `json:"picture"`
	LinkedInID          string `json:"linkedinId"`
	Provider            string `json:"provider"`
	LoginTime           string `json:"loginTime"`
	LinkedInAccessToken string `json:"linkedinAccessToken"`
	TokenExpiresIn      int    `json:"tokenExpiresIn"`
	Scope               string `json:"scope"`
}

// AuthLinkToken backs the password-reset and email sign-in link flows.
// Tokens are single-use: consumed_at is set on first successful verify.
type AuthLinkToken struct {
	Token      string     `json:"token"`
	Email      string     `json:"email"`
	Purpose    string     `json:"purpose"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

const (
	LinkPurposePasswordReset = "password_reset"
	LinkPurposeEmailSignIn   = "email_signin"
)
