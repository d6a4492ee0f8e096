package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"text/template"

	"github.com/whizmedia/social-dashboard/backend/internal/auth"
	"github.com/whizmedia/social-dashboard/backend/internal/linkedin"
)

const (
	stateCookieName = "li_oauth_state"
	maxUploadBytes  = 10 << 20
)

// popupTmpl delivers the identity to the opener window after a successful
// OAuth exchange. UserData and FrontendURL are injected pre-marshaled; Token
// is base64 and safe to inline.
var popupTmpl = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>LinkedIn Connected</title>
  <style>
    body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background: #f5f5f5; color: #333; }
    .success { color: #28a745; font-size: 18px; margin-bottom: 20px; }
    .loading { color: #007bff; }
  </style>
</head>
<body>
  <div class="success">&#10003; LinkedIn Connected Successfully!</div>
  <p class="loading">Connecting to your dashboard...</p>
  <script>
    try {
      if (window.opener) {
        window.opener.postMessage({
          type: 'LINKEDIN_SUCCESS',
          userData: {{.UserData}},
          token: '{{.Token}}'
        }, '{{.FrontendURL}}');
        setTimeout(function () { window.close(); }, 1000);
      } else {
        sessionStorage.setItem('linkedin_user_data', JSON.stringify({{.UserData}}));
        window.location.href = "{{.FrontendURL}}/dashboard?linkedin_connected=true";
      }
    } catch (err) {
      console.error('Error sending LinkedIn data:', err);
      window.location.href = "{{.FrontendURL}}/dashboard";
    }
  </script>
</body>
</html>`))

// LinkedInState mints the CSRF state for the authorization redirect. The
// frontend passes the value as the state query parameter; the same value is
// echoed back through a short-lived cookie and checked at the callback.
func (h *Handler) LinkedInState(w http.ResponseWriter, r *http.Request) {
	state, err := auth.NewStateToken(h.cfg.JWTSecret)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to create state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

func (h *Handler) LinkedInCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	oauthErr := q.Get("error")
	oauthErrDesc := q.Get("error_description")

	log.Printf("[LinkedInCallback] code=%t state=%t error=%q", code != "", state != "", oauthErr)

	if oauthErr != "" {
		if oauthErrDesc == "" {
			oauthErrDesc = "LinkedIn authentication failed"
		}
		h.metrics.RecordOAuthExchange("provider_error")
		h.redirectCallbackError(w, r, oauthErr, oauthErrDesc)
		return
	}
	if code == "" {
		h.metrics.RecordOAuthExchange("failure")
		h.redirectCallbackError(w, r, "no_code", "Authorization code not provided")
		return
	}
	if !h.stateValid(r, state) {
		h.metrics.RecordOAuthExchange("failure")
		h.redirectCallbackError(w, r, "invalid_state", "State parameter mismatch. Please try again.")
		return
	}
	if h.oauth == nil {
		h.metrics.RecordOAuthExchange("failure")
		h.redirectCallbackError(w, r, "oauth_failed", "LinkedIn is not configured on this server")
		return
	}

	identity, err := h.oauth.Authenticate(r.Context(), code)
	if err != nil {
		h.metrics.RecordOAuthExchange("failure")
		msg := "Authentication failed"
		var xerr *linkedin.ExchangeError
		if errors.As(err, &xerr) {
			msg = xerr.UserMessage()
		}
		log.Printf("[LinkedInCallback] exchange failed: %v", err)
		h.redirectCallbackError(w, r, "oauth_failed", msg)
		return
	}

	h.metrics.RecordOAuthExchange("success")
	token := linkedin.EncodeIdentityToken(identity)

	if q.Get("mode") == "redirect" {
		dest := fmt.Sprintf("%s/auth/linkedin/callback?token=%s&success=true",
			h.cfg.FrontendURL, url.QueryEscape(token))
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	userData, err := json.Marshal(identity)
	if err != nil {
		h.redirectCallbackError(w, r, "oauth_failed", "Authentication failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = popupTmpl.Execute(w, struct {
		UserData    string
		Token       string
		FrontendURL string
	}{
		UserData:    string(userData),
		Token:       token,
		FrontendURL: h.cfg.FrontendURL,
	})
}

func (h *Handler) stateValid(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	if err := auth.VerifyStateToken(h.cfg.JWTSecret, state); err != nil {
		return false
	}
	c, err := r.Cookie(stateCookieName)
	return err == nil && c.Value == state
}

func (h *Handler) redirectCallbackError(w http.ResponseWriter, r *http.Request, code, message string) {
	dest := fmt.Sprintf("%s/auth/linkedin/callback?error=%s&message=%s",
		h.cfg.FrontendURL, url.QueryEscape(code), url.QueryEscape(message))
	http.Redirect(w, r, dest, http.StatusFound)
}

// LinkedInConfigDebug reports which OAuth settings are present without
// exposing the secret.
func (h *Handler) LinkedInConfigDebug(w http.ResponseWriter, r *http.Request) {
	secret := "Missing"
	if h.cfg.LinkedInClientSecret != "" {
		secret = "Present"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"client_id":     h.cfg.LinkedInClientID,
		"client_secret": secret,
		"redirect_uri":  h.cfg.LinkedInRedirectURI,
		"frontend_url":  h.cfg.FrontendURL,
	})
}

// linkedInPostRequest carries the post fields whether they arrive as JSON or
// as multipart form values alongside an image.
type linkedInPostRequest struct {
	Content             string `json:"content"`
	LinkedInAccessToken string `json:"linkedinAccessToken"`
	AuthorID            string `json:"authorId"`
	image               []byte
}

func (h *Handler) LinkedInPost(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseLinkedInPost(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}
	if req.LinkedInAccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "LinkedIn access token required",
			"message": "Please authenticate with LinkedIn first",
		})
		return
	}
	if req.AuthorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Missing authorId",
			"message": "LinkedIn user ID (authorId) is required",
		})
		return
	}

	asset := ""
	if len(req.image) > 0 {
		uploadURL, a, err := h.li.RegisterUpload(r.Context(), req.LinkedInAccessToken, req.AuthorID, linkedin.RecipeFeedshareImage)
		if err != nil {
			h.metrics.RecordPublish("linkedin", "failure")
			writeUpstreamError(w, http.StatusInternalServerError, "Failed to post to LinkedIn", err)
			return
		}
		if err := h.li.UploadAsset(r.Context(), req.LinkedInAccessToken, uploadURL, req.image); err != nil {
			h.metrics.RecordPublish("linkedin", "failure")
			writeUpstreamError(w, http.StatusInternalServerError, "Failed to post to LinkedIn", err)
			return
		}
		asset = a
	}

	postID, err := h.li.CreatePost(r.Context(), req.LinkedInAccessToken, req.AuthorID, req.Content, asset)
	if err != nil {
		h.metrics.RecordPublish("linkedin", "failure")
		writeUpstreamError(w, http.StatusInternalServerError, "Failed to post to LinkedIn", err)
		return
	}

	h.metrics.RecordPublish("linkedin", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"linkedinPostId": postID,
		"message":        "Post published successfully to LinkedIn",
	})
}

func (h *Handler) parseLinkedInPost(r *http.Request) (linkedInPostRequest, error) {
	var req linkedInPostRequest
	if !isMultipart(r) {
		err := decodeJSON(r, &req)
		return req, err
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, err
	}
	req.Content = r.FormValue("content")
	req.LinkedInAccessToken = r.FormValue("linkedinAccessToken")
	req.AuthorID = r.FormValue("authorId")

	data, err := readFormFile(r, "image")
	if err != nil {
		return req, err
	}
	req.image = data
	return req, nil
}

// GetConversations is a placeholder the frontend polls; LinkedIn's
// conversation-list API is not available to this application tier.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("linkedinAccessToken") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "LinkedIn access token required",
			"message": "Please authenticate with LinkedIn first",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"conversations": []any{},
	})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipients          []string `json:"recipients"`
		Subject             string   `json:"subject"`
		Body                string   `json:"body"`
		Thread              string   `json:"thread"`
		LinkedInAccessToken string   `json:"linkedinAccessToken"`
		AuthorID            string   `json:"authorId"`
	}
	var attachment []byte

	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "Invalid request",
				"message": err.Error(),
			})
			return
		}
		req.Body = r.FormValue("body")
		req.Subject = r.FormValue("subject")
		req.Thread = r.FormValue("thread")
		req.LinkedInAccessToken = r.FormValue("linkedinAccessToken")
		req.AuthorID = r.FormValue("authorId")
		req.Recipients = parseRecipients(r.FormValue("recipients"))

		data, err := readFormFile(r, "attachment")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "Invalid request",
				"message": err.Error(),
			})
			return
		}
		attachment = data
	} else if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	if req.LinkedInAccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "LinkedIn access token required",
			"message": "Please authenticate with LinkedIn first",
		})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Message body required",
			"message": "Please enter a message",
		})
		return
	}
	if req.Thread == "" && len(req.Recipients) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Recipients or thread required",
			"message": "Please specify recipients for new message or thread for reply",
		})
		return
	}

	msg := linkedin.MessageRequest{
		Body:       req.Body,
		Subject:    req.Subject,
		Thread:     req.Thread,
		Recipients: req.Recipients,
	}

	if len(attachment) > 0 {
		uploadURL, asset, err := h.li.RegisterUpload(r.Context(), req.LinkedInAccessToken, req.AuthorID, linkedin.RecipeMessagingAttachment)
		if err != nil {
			writeUpstreamError(w, http.StatusInternalServerError, "Failed to send message", err)
			return
		}
		if err := h.li.UploadAsset(r.Context(), req.LinkedInAccessToken, uploadURL, attachment); err != nil {
			writeUpstreamError(w, http.StatusInternalServerError, "Failed to send message", err)
			return
		}
		msg.Attachment = asset
	}

	messageID, threadID, err := h.li.SendMessage(r.Context(), req.LinkedInAccessToken, req.AuthorID, msg)
	if err != nil {
		writeUpstreamError(w, http.StatusInternalServerError, "Failed to send message", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": messageID,
		"threadId":  threadID,
		"message":   "Message sent successfully",
	})
}

func isMultipart(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "multipart/form-data"
}

// readFormFile returns the named upload's bytes, or nil when absent.
func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUploadBytes))
}

// parseRecipients accepts either a JSON array or a comma-separated list.
func parseRecipients(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
