package analytics

import (
	"context"
	"testing"
	"time"

	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/domain"
)

func newAnalyticsFixture(t *testing.T) (*Service, *repo.Memory) {
	t.Helper()
	store := repo.NewMemory()
	store.SeedUser(domain.User{ID: "u1", Niche: "saas", FollowerCount: 100})
	return NewService(store.Samples(), store.Growth(), store.Users()), store
}

func appendSamples(t *testing.T, store *repo.Memory, samples ...domain.EngagementSample) {
	t.Helper()
	if err := store.Samples().Append(context.Background(), samples); err != nil {
		t.Fatalf("не удалось сохранить метрики: %v", err)
	}
}

func TestSummaryEmptyHistory(t *testing.T) {
	service, _ := newAnalyticsFixture(t)

	summary, err := service.Summary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.BestPostingDay != time.Tuesday || summary.BestPostingHour != 8 {
		t.Fatalf("пустая история должна давать типичный пик, получили %s %d", summary.BestPostingDay, summary.BestPostingHour)
	}
	if summary.TotalImpressions != 0 || len(summary.TopPosts) != 0 {
		t.Fatalf("пустая история должна давать пустую сводку")
	}
}

func TestSummaryUnknownUser(t *testing.T) {
	service, _ := newAnalyticsFixture(t)
	if _, err := service.Summary(context.Background(), "missing", 30); err == nil {
		t.Fatalf("сводка неизвестного пользователя должна падать")
	}
}

func TestSummaryUsesLatestSamplePerPost(t *testing.T) {
	service, store := newAnalyticsFixture(t)
	now := time.Now().UTC()
	publishedAt := now.Add(-48 * time.Hour)

	// Две точки одного поста: в сводку идёт только свежая.
	appendSamples(t, store,
		domain.EngagementSample{PostID: "p1", UserID: "u1", PublishedAt: publishedAt, SampledAt: now.Add(-24 * time.Hour), Impressions: 100, Likes: 5},
		domain.EngagementSample{PostID: "p1", UserID: "u1", PublishedAt: publishedAt, SampledAt: now, Impressions: 300, Likes: 20, Comments: 4, Shares: 2},
	)

	summary, err := service.Summary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.TotalImpressions != 300 || summary.TotalLikes != 20 || summary.TotalComments != 4 || summary.TotalShares != 2 {
		t.Fatalf("сводка должна считаться по последней точке: %+v", summary)
	}
	if len(summary.TopPosts) != 1 {
		t.Fatalf("ожидали один пост в топе, получили %d", len(summary.TopPosts))
	}
	wantRate := (300.0 + 20 + 4 + 2) / 100
	if summary.AvgEngagementRate != wantRate {
		t.Fatalf("средняя вовлечённость неверна: %f != %f", summary.AvgEngagementRate, wantRate)
	}
}

func TestSummaryBestDayAndHour(t *testing.T) {
	service, store := newAnalyticsFixture(t)
	now := time.Now().UTC()
	strongAt := time.Date(2026, 8, 27, 17, 0, 0, 0, time.UTC) // четверг
	weakAt := time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC)    // понедельник

	appendSamples(t, store,
		domain.EngagementSample{PostID: "p1", UserID: "u1", PublishedAt: strongAt, SampledAt: now, Impressions: 500, Likes: 40},
		domain.EngagementSample{PostID: "p2", UserID: "u1", PublishedAt: weakAt, SampledAt: now, Impressions: 50, Likes: 1},
	)

	summary, err := service.Summary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.BestPostingDay != time.Thursday {
		t.Fatalf("ожидали четверг, получили %s", summary.BestPostingDay)
	}
	if summary.BestPostingHour != 17 {
		t.Fatalf("ожидали 17 часов, получили %d", summary.BestPostingHour)
	}
}

func TestSummaryTopPostsOrderedAndLimited(t *testing.T) {
	service, store := newAnalyticsFixture(t)
	now := time.Now().UTC()
	publishedAt := now.Add(-24 * time.Hour)

	// Семь постов с растущей вовлечённостью, в топ входят пять лучших.
	for i := 0; i < 7; i++ {
		appendSamples(t, store, domain.EngagementSample{
			PostID:      string(rune('a' + i)),
			UserID:      "u1",
			PublishedAt: publishedAt,
			SampledAt:   now,
			Impressions: 100,
			Likes:       10 * (i + 1),
		})
	}

	summary, err := service.Summary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(summary.TopPosts) != 5 {
		t.Fatalf("топ ограничен пятью постами, получили %d", len(summary.TopPosts))
	}
	for i := 1; i < len(summary.TopPosts); i++ {
		if summary.TopPosts[i].EngagementRate > summary.TopPosts[i-1].EngagementRate {
			t.Fatalf("топ не отсортирован по вовлечённости: позиция %d", i)
		}
	}
	if summary.TopPosts[0].PostID != "g" {
		t.Fatalf("лучший пост определён неверно: %s", summary.TopPosts[0].PostID)
	}
}

func TestSummaryIgnoresOldSamples(t *testing.T) {
	service, store := newAnalyticsFixture(t)
	now := time.Now().UTC()

	appendSamples(t, store,
		domain.EngagementSample{PostID: "old", UserID: "u1", PublishedAt: now.AddDate(0, 0, -60), SampledAt: now.AddDate(0, 0, -59), Impressions: 1000, Likes: 100},
		domain.EngagementSample{PostID: "fresh", UserID: "u1", PublishedAt: now.Add(-24 * time.Hour), SampledAt: now, Impressions: 100, Likes: 10},
	)

	summary, err := service.Summary(context.Background(), "u1", 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(summary.TopPosts) != 1 || summary.TopPosts[0].PostID != "fresh" {
		t.Fatalf("точки вне окна должны игнорироваться: %+v", summary.TopPosts)
	}
}

func TestGrowthSnapshotRoundTrip(t *testing.T) {
	service, _ := newAnalyticsFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := service.RecordSnapshot(ctx, domain.GrowthSnapshot{
			UserID:        "u1",
			FollowerCount: 100 + i,
			SnappedAt:     time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	history, err := service.GrowthHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("ожидали 3 среза, получили %d", len(history))
	}
	// Свежие срезы идут первыми.
	for i := 1; i < len(history); i++ {
		if history[i].SnappedAt.After(history[i-1].SnappedAt) {
			t.Fatalf("срезы должны идти от новых к старым")
		}
	}
	if history[0].FollowerCount != 102 {
		t.Fatalf("первым должен быть последний срез: %d", history[0].FollowerCount)
	}
}

func TestRecordSnapshotDefaultsTime(t *testing.T) {
	service, store := newAnalyticsFixture(t)
	ctx := context.Background()

	if err := service.RecordSnapshot(ctx, domain.GrowthSnapshot{UserID: "u1", FollowerCount: 42}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	history, err := store.Growth().ListSnapshots(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(history) != 1 || history[0].SnappedAt.IsZero() {
		t.Fatalf("время среза должно проставляться автоматически: %+v", history)
	}
}
