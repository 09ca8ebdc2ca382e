package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized = errors.New("publisher rejected the credential")
	ErrRateLimited  = errors.New("publisher rate limit reached")
)

// PlatformError is any other non-2xx answer from the platform.
type PlatformError struct {
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the same request may succeed later.
func (e *PlatformError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

type PublishRequest struct {
	AuthorID  string
	Content   string
	MediaRefs []string
	Kind      string
}

type Publisher interface {
	Publish(ctx context.Context, credential string, req PublishRequest) (string, error)
	Delete(ctx context.Context, credential, postID string) error
	RefreshToken(ctx context.Context, credential string) (string, time.Time, error)
}

type graphPublisher struct {
	baseURL string
	client  *http.Client
}

// NewPublisher talks to a Graph-style API: a media container is created per
// post and then published by id.
func NewPublisher(baseURL string, client *http.Client) Publisher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &graphPublisher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// httpClient wraps the base client so every request carries credential as a
// bearer token.
func (p *graphPublisher) httpClient(ctx context.Context, credential string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}))
}

func (p *graphPublisher) Publish(ctx context.Context, credential string, req PublishRequest) (string, error) {
	client := p.httpClient(ctx, credential)

	var containerID string
	var err error
	switch {
	case req.Kind == models.PostKindCarousel && len(req.MediaRefs) > 1:
		containerID, err = p.carouselContainer(ctx, client, req)
	case len(req.MediaRefs) > 0:
		kind := req.Kind
		if kind != models.PostKindVideo && kind != models.PostKindImage {
			kind = mediaKindOf(req.MediaRefs[0])
		}
		containerID, err = p.createContainer(ctx, client, req.AuthorID, mediaParams(kind, req.MediaRefs[0], req.Content, false))
	default:
		containerID, err = p.createContainer(ctx, client, req.AuthorID, url.Values{"media_type": {"TEXT"}, "text": {req.Content}})
	}
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/threads_publish", p.baseURL, url.PathEscape(req.AuthorID))
	if err := p.do(ctx, client, http.MethodPost, endpoint, url.Values{"creation_id": {containerID}}, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{StatusCode: http.StatusBadGateway, Message: "no post id returned"}
	}
	return result.ID, nil
}

func (p *graphPublisher) carouselContainer(ctx context.Context, client *http.Client, req PublishRequest) (string, error) {
	children := make([]string, 0, len(req.MediaRefs))
	for _, ref := range req.MediaRefs {
		id, err := p.createContainer(ctx, client, req.AuthorID, mediaParams(mediaKindOf(ref), ref, "", true))
		if err != nil {
			return "", fmt.Errorf("carousel item %s: %w", ref, err)
		}
		children = append(children, id)
	}

	return p.createContainer(ctx, client, req.AuthorID, url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(children, ",")},
		"text":       {req.Content},
	})
}

func (p *graphPublisher) createContainer(ctx context.Context, client *http.Client, authorID string, params url.Values) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/%s/threads", p.baseURL, url.PathEscape(authorID))
	if err := p.do(ctx, client, http.MethodPost, endpoint, params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{StatusCode: http.StatusBadGateway, Message: "no container id returned"}
	}
	return result.ID, nil
}

func (p *graphPublisher) Delete(ctx context.Context, credential, postID string) error {
	endpoint := fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(postID))
	return p.do(ctx, p.httpClient(ctx, credential), http.MethodDelete, endpoint, nil, nil)
}

// RefreshToken exchanges a long-lived token for a fresh one.
func (p *graphPublisher) RefreshToken(ctx context.Context, credential string) (string, time.Time, error) {
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	endpoint := p.baseURL + "/refresh_access_token?" + url.Values{
		"grant_type":   {"th_refresh_token"},
		"access_token": {credential},
	}.Encode()
	if err := p.do(ctx, p.client, http.MethodGet, endpoint, nil, &result); err != nil {
		return "", time.Time{}, err
	}
	if result.AccessToken == "" {
		return "", time.Time{}, &PlatformError{StatusCode: http.StatusBadGateway, Message: "no access token returned"}
	}
	return result.AccessToken, time.Now().Add(time.Duration(result.ExpiresIn) * time.Second), nil
}

func (p *graphPublisher) do(ctx context.Context, client *http.Client, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return &PlatformError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, platformMessage(respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &PlatformError{StatusCode: resp.StatusCode, Message: platformMessage(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

func platformMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func mediaParams(kind, ref, text string, carouselItem bool) url.Values {
	params := url.Values{}
	if kind == models.PostKindVideo {
		params.Set("media_type", "VIDEO")
		params.Set("video_url", ref)
	} else {
		params.Set("media_type", "IMAGE")
		params.Set("image_url", ref)
	}
	if carouselItem {
		params.Set("is_carousel_item", "true")
	}
	if text != "" {
		params.Set("text", text)
	}
	return params
}

func mediaKindOf(ref string) string {
	lower := strings.ToLower(ref)
	for _, ext := range []string{".mp4", ".mov", ".m4v", ".webm"} {
		if strings.HasSuffix(lower, ext) {
			return models.PostKindVideo
		}
	}
	return models.PostKindImage
}
