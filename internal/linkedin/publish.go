package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultAssetsURL   = "https://api.linkedin.com/v2/assets?action=registerUpload"
	defaultUGCPostsURL = "https://api.linkedin.com/v2/ugcPosts"
	defaultMessagesURL = "https://api.linkedin.com/v2/messages"

	RecipeFeedshareImage      = "urn:li:digitalmediaRecipe:feedshare-image"
	RecipeMessagingAttachment = "urn:li:digitalmediaRecipe:messaging-attachment"
)

// APIError is a non-2xx response from a LinkedIn REST call. The raw body is
// kept so handlers can surface the upstream payload verbatim under "details".
type APIError struct {
	Op     string
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linkedin %s failed: status=%d body=%s", e.Op, e.Status, truncate(string(e.Body), 600))
}

// Details returns the upstream payload as raw JSON, falling back to a quoted
// string when the body is not JSON.
func (e *APIError) Details() json.RawMessage {
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	quoted, _ := json.Marshal(string(e.Body))
	return quoted
}

// Publisher talks to LinkedIn's asset, UGC-post and messaging APIs with a
// caller-supplied member access token. It is stateless: authorization is the
// caller's problem.
type Publisher struct {
	AssetsURL   string
	UGCPostsURL string
	MessagesURL string

	HTTP *http.Client
	// UploadHTTP performs the raw byte upload to the provider-supplied
	// uploadUrl. It is a separate, SSRF-guarded client because that URL comes
	// out of an API response rather than our own configuration.
	UploadHTTP *http.Client
	// ValidateUploadURL rejects upload destinations before any bytes move.
	ValidateUploadURL func(string) error
}

// NewPublisher builds a production publisher. validate may be nil (no
// pre-flight check); upload falls back to the main client when nil.
func NewPublisher(upload *http.Client, validate func(string) error) *Publisher {
	main := &http.Client{Timeout: 30 * time.Second}
	if upload == nil {
		upload = main
	}
	return &Publisher{
		AssetsURL:         defaultAssetsURL,
		UGCPostsURL:       defaultUGCPostsURL,
		MessagesURL:       defaultMessagesURL,
		HTTP:              main,
		UploadHTTP:        upload,
		ValidateUploadURL: validate,
	}
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism struct {
			MediaUploadHTTPRequest struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

// RegisterUpload reserves an upload slot for the given owner and recipe and
// returns the destination URL plus the asset URN that later references it.
func (p *Publisher) RegisterUpload(ctx context.Context, accessToken, authorID, recipe string) (uploadURL, asset string, err error) {
	payload := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{recipe},
			"owner":   personURN(authorID),
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	body, status, err := p.postJSON(ctx, "registerUpload", p.AssetsURL, accessToken, payload, nil)
	if err != nil {
		return "", "", err
	}

	var parsed registerUploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", &APIError{Op: "registerUpload", Status: status, Body: body}
	}
	uploadURL = parsed.Value.UploadMechanism.MediaUploadHTTPRequest.UploadURL
	asset = parsed.Value.Asset
	if uploadURL == "" || asset == "" {
		return "", "", &APIError{Op: "registerUpload", Status: status, Body: body}
	}
	return uploadURL, asset, nil
}

// UploadAsset pushes raw media bytes to the registered upload slot.
func (p *Publisher) UploadAsset(ctx context.Context, accessToken, uploadURL string, data []byte) error {
	if p.ValidateUploadURL != nil {
		if err := p.ValidateUploadURL(uploadURL); err != nil {
			return fmt.Errorf("refusing upload destination: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	res, err := p.UploadHTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Op: "uploadAsset", Status: res.StatusCode, Body: body}
	}
	return nil
}

// CreatePost submits a UGC post. asset is optional; when empty the post is
// text-only and the payload carries no media array at all.
func (p *Publisher) CreatePost(ctx context.Context, accessToken, authorID, content, asset string) (string, error) {
	shareContent := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": content},
		"shareMediaCategory": "NONE",
	}
	if asset != "" {
		shareContent["shareMediaCategory"] = "IMAGE"
		shareContent["media"] = []map[string]interface{}{
			{
				"status":      "READY",
				"description": map[string]string{"text": "Image"},
				"media":       asset,
				"title":       map[string]string{"text": "Post Image"},
			},
		}
	}
	payload := map[string]interface{}{
		"author":         personURN(authorID),
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var header http.Header
	body, status, err := p.postJSON(ctx, "ugcPost", p.UGCPostsURL, accessToken, payload, &header)
	if err != nil {
		return "", err
	}

	// LinkedIn returns the post id in the x-restli-id header; some responses
	// carry it in the body instead.
	if id := strings.TrimSpace(header.Get("x-restli-id")); id != "" {
		return id, nil
	}
	var parsed struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &parsed)
	if parsed.ID == "" {
		return "", &APIError{Op: "ugcPost", Status: status, Body: body}
	}
	return parsed.ID, nil
}

// MessageRequest describes a member-to-member message. Either Thread (reply)
// or Recipients (new conversation) must be set.
type MessageRequest struct {
	Body       string
	Subject    string
	Thread     string
	Recipients []string
	Attachment string // asset URN from RegisterUpload, optional
}

var messageIDPattern = regexp.MustCompile(`thread=([^,}]+).*id=([^,}]+)`)

// SendMessage posts to the messaging API and parses thread/message ids out of
// the x-linkedin-id response header when present.
func (p *Publisher) SendMessage(ctx context.Context, accessToken, authorID string, msg MessageRequest) (messageID, threadID string, err error) {
	payload := map[string]interface{}{
		"body":        msg.Body,
		"messageType": "MEMBER_TO_MEMBER",
	}
	switch {
	case msg.Thread != "":
		payload["thread"] = msg.Thread
	case len(msg.Recipients) > 0:
		urns := make([]string, 0, len(msg.Recipients))
		for _, id := range msg.Recipients {
			urns = append(urns, personURN(id))
		}
		payload["recipients"] = urns
		if msg.Subject != "" {
			payload["subject"] = msg.Subject
		}
	default:
		return "", "", fmt.Errorf("recipients or thread required")
	}
	if msg.Attachment != "" {
		payload["attachments"] = []string{msg.Attachment}
	}

	var header http.Header
	_, _, err = p.postJSON(ctx, "sendMessage", p.MessagesURL, accessToken, payload, &header)
	if err != nil {
		return "", "", err
	}
	if loc := header.Get("x-linkedin-id"); loc != "" {
		if m := messageIDPattern.FindStringSubmatch(loc); m != nil {
			threadID = m[1]
			messageID = m[2]
		}
	}
	return messageID, threadID, nil
}

func (p *Publisher) postJSON(ctx context.Context, op, endpoint, accessToken string, payload interface{}, header *http.Header) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	res, err := p.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, &APIError{Op: op, Status: res.StatusCode, Body: body}
	}
	if header != nil {
		*header = res.Header
	}
	return body, res.StatusCode, nil
}

func personURN(authorID string) string {
	return "urn:li:person:" + strings.TrimSpace(authorID)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
