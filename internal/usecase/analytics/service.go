package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"content-autopilot/internal/domain"
)

const topPostsLimit = 5

// Service строит сводки вовлечённости и историю роста.
type Service struct {
	samples domain.SampleRepo
	growth  domain.GrowthRepo
	users   domain.UserRepo
}

// NewService создаёт сервис аналитики.
func NewService(samples domain.SampleRepo, growth domain.GrowthRepo, users domain.UserRepo) *Service {
	return &Service{samples: samples, growth: growth, users: users}
}

// Summary агрегирует метрики пользователя за последние days дней.
// Для каждого поста берётся последняя точка временного ряда.
func (s *Service) Summary(ctx context.Context, userID string, days int) (domain.EngagementSummary, error) {
	if days <= 0 {
		days = 30
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.EngagementSummary{}, fmt.Errorf("профиль пользователя: %w", err)
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	samples, err := s.samples.ListByUser(ctx, userID, since)
	if err != nil {
		return domain.EngagementSummary{}, fmt.Errorf("метрики пользователя: %w", err)
	}
	if len(samples) == 0 {
		// Без истории отдаём пустую сводку с типичным пиком деловой сети.
		return domain.EngagementSummary{BestPostingDay: time.Tuesday, BestPostingHour: 8}, nil
	}

	latest := latestPerPost(samples)

	summary := domain.EngagementSummary{}
	rates := make([]float64, 0, len(latest))
	dayScores := make(map[time.Weekday]float64)
	hourScores := make(map[int]float64)

	for _, sample := range latest {
		rate := sample.EngagementRate(user.FollowerCount)
		rates = append(rates, rate)
		summary.TotalImpressions += sample.Impressions
		summary.TotalLikes += sample.Likes
		summary.TotalComments += sample.Comments
		summary.TotalShares += sample.Shares
		dayScores[sample.PublishedAt.Weekday()] += rate
		hourScores[sample.PublishedAt.Hour()] += rate
		summary.TopPosts = append(summary.TopPosts, domain.PostPerformance{
			PostID:         sample.PostID,
			EngagementRate: rate,
			Virality:       sample.ViralityScore(),
		})
	}

	avg, err := stats.Mean(rates)
	if err == nil {
		summary.AvgEngagementRate = avg
	}
	summary.BestPostingDay = bestDay(dayScores)
	summary.BestPostingHour = bestHour(hourScores)

	sort.SliceStable(summary.TopPosts, func(i, j int) bool {
		if summary.TopPosts[i].EngagementRate != summary.TopPosts[j].EngagementRate {
			return summary.TopPosts[i].EngagementRate > summary.TopPosts[j].EngagementRate
		}
		return summary.TopPosts[i].PostID < summary.TopPosts[j].PostID
	})
	if len(summary.TopPosts) > topPostsLimit {
		summary.TopPosts = summary.TopPosts[:topPostsLimit]
	}
	return summary, nil
}

// RecordSnapshot сохраняет срез роста аудитории.
func (s *Service) RecordSnapshot(ctx context.Context, snapshot domain.GrowthSnapshot) error {
	if snapshot.SnappedAt.IsZero() {
		snapshot.SnappedAt = time.Now().UTC()
	}
	return s.growth.AddSnapshot(ctx, snapshot)
}

// GrowthHistory возвращает последние срезы роста пользователя.
func (s *Service) GrowthHistory(ctx context.Context, userID string) ([]domain.GrowthSnapshot, error) {
	return s.growth.ListSnapshots(ctx, userID, 30)
}

// latestPerPost сводит временной ряд к последней точке каждого поста.
func latestPerPost(samples []domain.EngagementSample) []domain.EngagementSample {
	byPost := make(map[string]domain.EngagementSample)
	order := make([]string, 0)
	for _, sample := range samples {
		prev, ok := byPost[sample.PostID]
		if !ok {
			order = append(order, sample.PostID)
			byPost[sample.PostID] = sample
			continue
		}
		if sample.SampledAt.After(prev.SampledAt) {
			byPost[sample.PostID] = sample
		}
	}
	out := make([]domain.EngagementSample, 0, len(order))
	for _, postID := range order {
		out = append(out, byPost[postID])
	}
	return out
}

func bestDay(scores map[time.Weekday]float64) time.Weekday {
	best := time.Tuesday
	var bestScore float64
	for day := time.Sunday; day <= time.Saturday; day++ {
		if score, ok := scores[day]; ok && score > bestScore {
			best = day
			bestScore = score
		}
	}
	return best
}

func bestHour(scores map[int]float64) int {
	best := 8
	var bestScore float64
	for hour := 0; hour < 24; hour++ {
		if score, ok := scores[hour]; ok && score > bestScore {
			best = hour
			bestScore = score
		}
	}
	return best
}
