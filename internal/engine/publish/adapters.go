package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pulse/internal/engine/guard"
	"pulse/internal/platform/models"
)

// Platforms this system knows how to route to.
var Platforms = []string{"instagram", "tiktok", "linkedin", "facebook", "youtube"}

// UnsupportedPlatformError is returned when no adapter is wired for a
// destination's platform. It is a normal, typed failure, never a panic.
type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return "platform not supported: " + e.Platform
}

// PublishRequest carries everything an adapter needs for one post.
type PublishRequest struct {
	Asset       *models.Asset
	Destination *models.Destination
	Account     *models.SocialAccount
}

// Adapter is the uniform capability pair every platform integration
// implements.
type Adapter interface {
	Platform() string
	ValidateAccount(ctx context.Context, account *models.SocialAccount) error
	PublishContent(ctx context.Context, req *PublishRequest) (platformPostID string, err error)
}

// Registry dispatches by platform name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: platform}
	}
	return a, nil
}

// apiAdapter posts content to a platform's HTTP API. Outbound bodies are
// signed with the same HMAC scheme the inbound guard verifies, so the
// protocol is symmetric.
type apiAdapter struct {
	platform string
	baseURL  string
	token    string
	client   *http.Client
	signer   *guard.Signer
}

// NewAPIAdapter wires one HTTP-backed platform adapter.
func NewAPIAdapter(platform, baseURL, token string, timeout time.Duration, signer *guard.Signer) Adapter {
	return &apiAdapter{
		platform: platform,
		baseURL:  baseURL,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		signer:   signer,
	}
}

func (a *apiAdapter) Platform() string {
	return a.platform
}

func (a *apiAdapter) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.signer != nil {
		a.signer.SignRequest(req.Header, body)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s API returned HTTP %d", a.platform, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *apiAdapter) ValidateAccount(ctx context.Context, account *models.SocialAccount) error {
	payload := map[string]string{
		"account_id": account.ID,
		"handle":     account.Handle,
	}
	return a.do(ctx, http.MethodPost, "/accounts/validate", payload, nil)
}

func (a *apiAdapter) PublishContent(ctx context.Context, req *PublishRequest) (string, error) {
	payload := map[string]interface{}{
		"account_id": req.Account.ID,
		"handle":     req.Account.Handle,
		"title":      req.Asset.Title,
		"caption":    req.Asset.Caption,
		"media_url":  req.Asset.MediaURL,
	}

	var out struct {
		PostID string `json:"post_id"`
	}
	if err := a.do(ctx, http.MethodPost, "/posts", payload, &out); err != nil {
		return "", err
	}
	if out.PostID == "" {
		return "", fmt.Errorf("%s API returned no post id", a.platform)
	}
	return out.PostID, nil
}
