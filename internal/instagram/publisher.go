package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Publisher creates Instagram posts through the Graph API two-phase model:
// create a media container referencing a hosted image URL, then publish it.
// The access token belongs to a single shared business account supplied from
// server configuration, not from the end user.
type Publisher struct {
	AccountID   string
	AccessToken string

	BaseURL string
	HTTP    *http.Client
	// PollInterval/PollAttempts bound the container-status wait. Publishing a
	// container before the Graph API marks it FINISHED fails with
	// OAuthException 9007 ("media is not ready for publishing").
	PollInterval time.Duration
	PollAttempts int
}

// NewPublisher builds a production publisher for the configured business
// account.
func NewPublisher(accountID, accessToken string) *Publisher {
	return &Publisher{
		AccountID:    accountID,
		AccessToken:  accessToken,
		BaseURL:      defaultGraphBaseURL,
		HTTP:         &http.Client{Timeout: 60 * time.Second},
		PollInterval: 2 * time.Second,
		PollAttempts: 30,
	}
}

// GraphError is a non-2xx Graph API response with the upstream body kept for
// verbatim pass-through.
type GraphError struct {
	Op     string
	Status int
	Body   []byte
}

func (e *GraphError) Error() string {
	msg := extractGraphErrorMessage(e.Body)
	if msg == "" {
		msg = truncate(string(e.Body), 300)
	}
	return fmt.Sprintf("instagram %s failed: status=%d msg=%s", e.Op, e.Status, msg)
}

// Details returns the upstream payload as raw JSON when possible.
func (e *GraphError) Details() json.RawMessage {
	if json.Valid(e.Body) {
		return json.RawMessage(e.Body)
	}
	quoted, _ := json.Marshal(string(e.Body))
	return quoted
}

// Publish runs the container + publish sequence for one hosted image and
// returns the final media id. Any step's failure aborts the whole operation.
func (p *Publisher) Publish(ctx context.Context, imageURL, caption string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", fmt.Errorf("imageURL is required")
	}

	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", p.AccessToken)
	body, err := p.postForm(ctx, "container", fmt.Sprintf("%s/%s/media", p.BaseURL, url.PathEscape(p.AccountID)), form)
	if err != nil {
		return "", err
	}
	var container struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &container)
	if container.ID == "" {
		return "", &GraphError{Op: "container", Status: http.StatusOK, Body: body}
	}

	if err := p.waitForContainer(ctx, container.ID); err != nil {
		return "", err
	}

	form = url.Values{}
	form.Set("creation_id", container.ID)
	form.Set("access_token", p.AccessToken)
	body, err = p.postForm(ctx, "publish", fmt.Sprintf("%s/%s/media_publish", p.BaseURL, url.PathEscape(p.AccountID)), form)
	if err != nil {
		return "", err
	}
	var published struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &published)
	if published.ID == "" {
		return "", &GraphError{Op: "publish", Status: http.StatusOK, Body: body}
	}

	log.Printf("[IGPublish] ok igAccountId=%s mediaId=%s", p.AccountID, published.ID)
	return published.ID, nil
}

// waitForContainer polls the container status until FINISHED.
func (p *Publisher) waitForContainer(ctx context.Context, containerID string) error {
	attempts := p.PollAttempts
	if attempts <= 0 {
		attempts = 1
	}
	last := ""
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.PollInterval):
			}
		}
		endpoint := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s",
			p.BaseURL, url.PathEscape(containerID), url.QueryEscape(p.AccessToken))
		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		res, err := p.HTTP.Do(req)
		if err != nil {
			last = "request_error"
			continue
		}
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		_ = res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			last = fmt.Sprintf("http_%d", res.StatusCode)
			continue
		}
		var sr struct {
			StatusCode string `json:"status_code"`
		}
		if err := json.Unmarshal(b, &sr); err != nil {
			last = "bad_json"
			continue
		}
		last = strings.ToUpper(strings.TrimSpace(sr.StatusCode))
		switch last {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &GraphError{Op: "container_status", Status: res.StatusCode, Body: b}
		}
	}
	return fmt.Errorf("instagram container not ready (last status %s)", last)
}

func (p *Publisher) postForm(ctx context.Context, op, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := p.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &GraphError{Op: op, Status: res.StatusCode, Body: body}
	}
	return body, nil
}

func extractGraphErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return strings.TrimSpace(parsed.Error.Message)
	}
	return ""
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
