package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const defaultBaseURL = "https://api.linkedin.com/v2"

// LinkedIn публикует посты через LinkedIn UGC API.
type LinkedIn struct {
	http    *http.Client
	baseURL string
}

// NewLinkedIn создаёт издателя.
func NewLinkedIn(baseURL string, timeout time.Duration) *LinkedIn {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LinkedIn{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Publish реализует domain.Publisher. Возвращает внешний идентификатор публикации.
func (p *LinkedIn) Publish(ctx context.Context, user domain.User, variant domain.ContentVariant) (string, error) {
	if user.AccessToken == "" {
		return "", &domain.PublishError{Message: "у пользователя нет токена доступа"}
	}
	urn, err := p.memberURN(ctx, user.AccessToken)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"author":         urn,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": BuildPostText(variant)},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ugc post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	start := time.Now()
	resp, err := p.http.Do(req)
	metrics.ObserveNetworkRequest("linkedin", "ugc_post", "ugcPosts", start, err)
	if err != nil {
		return "", &domain.PublishError{Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &domain.PublishError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	externalID := resp.Header.Get("x-restli-id")
	if externalID == "" {
		externalID = "unknown"
	}
	return externalID, nil
}

// memberURN получает URN автора по токену.
func (p *LinkedIn) memberURN(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/me", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := p.http.Do(req)
	metrics.ObserveNetworkRequest("linkedin", "me", "me", start, err)
	if err != nil {
		return "", &domain.PublishError{Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &domain.PublishError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	var me struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode me response: %w", err)
	}
	return "urn:li:person:" + me.ID, nil
}

// BuildPostText собирает текст публикации: хук, тело, призыв и хэштеги.
func BuildPostText(variant domain.ContentVariant) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{variant.Hook, variant.Body, variant.CTA} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(variant.Hashtags) > 0 {
		tags := make([]string, 0, len(variant.Hashtags))
		for _, tag := range variant.Hashtags {
			tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
			if tag != "" {
				tags = append(tags, "#"+tag)
			}
		}
		if len(tags) > 0 {
			parts = append(parts, strings.Join(tags, " "))
		}
	}
	return strings.Join(parts, "\n\n")
}
