package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const defaultBaseURL = "https://api.linkedin.com/v2"

// LinkedIn забирает метрики вовлечённости опубликованных постов.
type LinkedIn struct {
	http    *http.Client
	baseURL string
}

// NewLinkedIn создаёт источник метрик.
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

type socialResponse struct {
	LikesSummary struct {
		TotalLikes int `json:"totalLikes"`
	} `json:"likesSummary"`
	CommentsSummary struct {
		TotalComments int `json:"aggregatedTotalComments"`
	} `json:"commentsSummary"`
	SharesSummary struct {
		TotalShares int `json:"totalShares"`
	} `json:"sharesSummary"`
}

// FetchSample реализует domain.EngagementSource.
// Показы через публичный API недоступны, поэтому Impressions остаётся нулевым.
func (l *LinkedIn) FetchSample(ctx context.Context, user domain.User, slot domain.ScheduleSlot) (domain.EngagementSample, error) {
	if slot.ExternalPostID == "" {
		return domain.EngagementSample{}, fmt.Errorf("слот %s без внешнего идентификатора", slot.SlotID)
	}
	endpoint := l.baseURL + "/socialMetadata/" + url.PathEscape(slot.ExternalPostID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.EngagementSample{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)

	start := time.Now()
	resp, err := l.http.Do(req)
	metrics.ObserveNetworkRequest("linkedin", "social_metadata", "socialMetadata", start, err)
	if err != nil {
		return domain.EngagementSample{}, fmt.Errorf("social metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.EngagementSample{}, fmt.Errorf("social metadata: статус %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed socialResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.EngagementSample{}, fmt.Errorf("decode social metadata: %w", err)
	}

	publishedAt := slot.ScheduledAt
	if slot.PublishedAt != nil {
		publishedAt = *slot.PublishedAt
	}
	return domain.EngagementSample{
		PostID:      slot.PostID,
		UserID:      user.ID,
		Likes:       parsed.LikesSummary.TotalLikes,
		Comments:    parsed.CommentsSummary.TotalComments,
		Shares:      parsed.SharesSummary.TotalShares,
		PublishedAt: publishedAt,
		SampledAt:   time.Now().UTC(),
	}, nil
}
