package timeslot

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
)

type stubModelRepo struct {
	model domain.PredictorModel
	err   error
}

func (s *stubModelRepo) Save(_ context.Context, model domain.PredictorModel) (domain.PredictorModel, error) {
	model.Version++
	s.model = model
	return model, nil
}

func (s *stubModelRepo) Get(context.Context, string) (domain.PredictorModel, error) {
	if s.err != nil {
		return domain.PredictorModel{}, s.err
	}
	return s.model, nil
}

type stubSlotRepo struct {
	active []domain.ScheduleSlot
}

func (s *stubSlotRepo) Create(context.Context, domain.ScheduleSlot) error { return nil }
func (s *stubSlotRepo) Get(context.Context, string) (domain.ScheduleSlot, error) {
	return domain.ScheduleSlot{}, domain.ErrSlotNotFound
}
func (s *stubSlotRepo) GetActiveByPost(context.Context, string) (domain.ScheduleSlot, error) {
	return domain.ScheduleSlot{}, domain.ErrSlotNotFound
}
func (s *stubSlotRepo) LatestByPost(context.Context, string) (domain.ScheduleSlot, error) {
	return domain.ScheduleSlot{}, domain.ErrSlotNotFound
}
func (s *stubSlotRepo) ListActiveByUser(context.Context, string) ([]domain.ScheduleSlot, error) {
	return s.active, nil
}
func (s *stubSlotRepo) MarkDueBatch(context.Context, time.Time) (int, error) { return 0, nil }
func (s *stubSlotRepo) ListClaimable(context.Context, time.Time, time.Time) ([]domain.ScheduleSlot, error) {
	return nil, nil
}
func (s *stubSlotRepo) Claim(context.Context, string, time.Time, time.Time) (domain.ScheduleSlot, bool, error) {
	return domain.ScheduleSlot{}, false, nil
}
func (s *stubSlotRepo) FinishPublished(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (s *stubSlotRepo) Retry(context.Context, string, time.Time, string) (bool, error) {
	return false, nil
}
func (s *stubSlotRepo) FinishFailed(context.Context, string, string) (bool, error) {
	return false, nil
}
func (s *stubSlotRepo) Cancel(context.Context, string) error { return nil }
func (s *stubSlotRepo) RescheduleActive(context.Context, string, domain.ScheduleSlot) (domain.ScheduleSlot, error) {
	return domain.ScheduleSlot{}, domain.ErrSlotNotFound
}
func (s *stubSlotRepo) ListPublishedSince(context.Context, time.Time) ([]domain.ScheduleSlot, error) {
	return nil, nil
}

func newTestService(models domain.ModelRepo, slots domain.SlotRepo, opts Options) *Service {
	return NewService(NewStore(), models, slots, zerolog.Nop(), opts)
}

// sampleAt строит точку истории с заданным временем публикации и вовлечённостью.
func sampleAt(postID string, at time.Time, likes int) domain.EngagementSample {
	return domain.EngagementSample{
		PostID:      postID,
		UserID:      "u1",
		PublishedAt: at,
		SampledAt:   at.Add(time.Hour),
		Impressions: 100,
		Likes:       likes,
	}
}

// dayAt возвращает ближайший прошедший день недели с указанным часом.
func dayAt(base time.Time, day time.Weekday, hour int) time.Time {
	t := base
	for t.Weekday() != day {
		t = t.AddDate(0, 0, -1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
}

// tuesdayAt возвращает ближайший прошедший вторник с указанным часом.
func tuesdayAt(base time.Time, hour int) time.Time {
	return dayAt(base, time.Tuesday, hour)
}

// trainedModel строит обученную модель с единственным пиком.
func trainedModel(now time.Time, day time.Weekday, hour int) domain.PredictorModel {
	var samples []domain.EngagementSample
	for i := 0; i < 6; i++ {
		at := dayAt(now.AddDate(0, 0, -7*i), day, hour)
		samples = append(samples, sampleAt(string(rune('a'+i)), at, 50))
	}
	return BuildModel("u1", samples, 100, now, 0)
}

func TestSuggestColdStart(t *testing.T) {
	service := newTestService(&stubModelRepo{err: domain.ErrModelNotFound}, &stubSlotRepo{}, Options{})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 3, time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("холодный старт не должен падать: %v", err)
	}
	if len(suggestions) == 0 {
		t.Fatalf("ожидали хотя бы одну рекомендацию")
	}
	for _, s := range suggestions {
		if !s.ColdStart {
			t.Fatalf("рекомендация должна быть помечена холодным стартом")
		}
		if s.Confidence > coldStartConfidenceScale {
			t.Fatalf("уверенность холодного старта не масштабирована: %f", s.Confidence)
		}
	}
}

func TestSuggestUndertrainedFallsBackToPrior(t *testing.T) {
	trained := BuildModel("u1", []domain.EngagementSample{
		sampleAt("p1", time.Now().UTC().Add(-24*time.Hour), 10),
	}, 100, time.Now().UTC(), 0)
	service := newTestService(&stubModelRepo{model: trained}, &stubSlotRepo{}, Options{MinSamples: 5})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 1, time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !suggestions[0].ColdStart {
		t.Fatalf("недообученная модель должна заменяться прайором")
	}
}

func TestSuggestPrefersTrainedPeak(t *testing.T) {
	now := time.Now().UTC()
	var samples []domain.EngagementSample
	for i := 0; i < 6; i++ {
		at := tuesdayAt(now.AddDate(0, 0, -7*i), 9)
		samples = append(samples, sampleAt(string(rune('a'+i)), at, 50))
	}
	model := BuildModel("u1", samples, 100, now, 0)
	service := newTestService(&stubModelRepo{model: model}, &stubSlotRepo{}, Options{MinSamples: 5})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 1, now, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	top := suggestions[0]
	if top.ColdStart {
		t.Fatalf("обученная модель не должна считаться холодной")
	}
	if top.At.Weekday() != time.Tuesday || top.At.Hour() != 9 {
		t.Fatalf("ожидали вторник 09:00, получили %s %02d:00", top.At.Weekday(), top.At.Hour())
	}
}

func TestSuggestRespectsMinSpacing(t *testing.T) {
	service := newTestService(&stubModelRepo{err: domain.ErrModelNotFound}, &stubSlotRepo{}, Options{MinSpacing: 4 * time.Hour})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 5, time.Now().UTC(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i, a := range suggestions {
		for _, b := range suggestions[i+1:] {
			delta := a.At.Sub(b.At)
			if delta < 0 {
				delta = -delta
			}
			if delta < 4*time.Hour {
				t.Fatalf("нарушен минимальный интервал: %s и %s", a.At, b.At)
			}
		}
	}
}

func TestSuggestAvoidsBusySlots(t *testing.T) {
	now := time.Now().UTC()
	prior := PriorModel("u1")
	// Первый пик прайора занят существующим слотом.
	var busyAt time.Time
	for at := now.Truncate(time.Hour).Add(time.Hour); at.Before(now.Add(14 * 24 * time.Hour)); at = at.Add(time.Hour) {
		if prior.HourlyWeights[domain.BucketOf(at)] == 1.0 {
			busyAt = at
			break
		}
	}
	if busyAt.IsZero() {
		t.Fatalf("не нашли пиковую корзину в горизонте")
	}
	slots := &stubSlotRepo{active: []domain.ScheduleSlot{{
		SlotID: "s1", UserID: "u1", ScheduledAt: busyAt, State: domain.SlotPending,
	}}}
	service := newTestService(&stubModelRepo{err: domain.ErrModelNotFound}, slots, Options{MinSpacing: 4 * time.Hour})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 5, now, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, s := range suggestions {
		delta := s.At.Sub(busyAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < 4*time.Hour {
			t.Fatalf("рекомендация конфликтует с занятым слотом: %s", s.At)
		}
	}
}

func TestSuggestNoViableSlot(t *testing.T) {
	// Обученная модель без положительных весов: кандидатов нет.
	empty := domain.PredictorModel{
		UserID:        "u1",
		HourlyWeights: make([]float64, domain.ModelBuckets),
		LastTrainedAt: time.Now().UTC(),
		SampleCount:   10,
	}
	service := newTestService(&stubModelRepo{model: empty}, &stubSlotRepo{}, Options{MinSamples: 5})

	if _, err := service.SuggestSlots(context.Background(), "u1", 1, time.Now().UTC(), false); !errors.Is(err, domain.ErrNoViableSlot) {
		t.Fatalf("ожидали ErrNoViableSlot, получили %v", err)
	}
}

func TestSuggestSeesRetrainedModel(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubModelRepo{model: trainedModel(now, time.Tuesday, 9)}
	service := newTestService(repo, &stubSlotRepo{}, Options{MinSamples: 5})

	first, err := service.SuggestSlots(context.Background(), "u1", 1, now, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first[0].At.Weekday() != time.Tuesday || first[0].At.Hour() != 9 {
		t.Fatalf("ожидали вторник 09:00, получили %s %02d:00", first[0].At.Weekday(), first[0].At.Hour())
	}

	// Переобучение в репозитории видно уже следующему запросу.
	repo.model = trainedModel(now, time.Thursday, 17)
	second, err := service.SuggestSlots(context.Background(), "u1", 1, now, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second[0].At.Weekday() != time.Thursday || second[0].At.Hour() != 17 {
		t.Fatalf("новая модель не подхвачена: %s %02d:00", second[0].At.Weekday(), second[0].At.Hour())
	}
}

func TestSuggestFallsBackToSnapshotOnRepoError(t *testing.T) {
	now := time.Now().UTC()
	repoErr := errors.New("нет соединения с БД")

	// Без снимка отказ репозитория — ошибка запроса.
	empty := newTestService(&stubModelRepo{err: repoErr}, &stubSlotRepo{}, Options{MinSamples: 5})
	if _, err := empty.SuggestSlots(context.Background(), "u1", 1, now, false); !errors.Is(err, repoErr) {
		t.Fatalf("ожидали ошибку репозитория, получили %v", err)
	}

	// Прежний снимок продолжает обслуживать запросы.
	store := NewStore()
	store.Replace(trainedModel(now, time.Tuesday, 9))
	service := NewService(store, &stubModelRepo{err: repoErr}, &stubSlotRepo{}, zerolog.Nop(), Options{MinSamples: 5})
	suggestions, err := service.SuggestSlots(context.Background(), "u1", 1, now, false)
	if err != nil {
		t.Fatalf("снимок должен пережить отказ репозитория: %v", err)
	}
	if suggestions[0].ColdStart {
		t.Fatalf("снимок обученной модели не должен считаться холодным")
	}
	if suggestions[0].At.Weekday() != time.Tuesday || suggestions[0].At.Hour() != 9 {
		t.Fatalf("ожидали вторник 09:00, получили %s %02d:00", suggestions[0].At.Weekday(), suggestions[0].At.Hour())
	}
}

func TestSuggestMalformedModelFallsBack(t *testing.T) {
	now := time.Now().UTC()
	// Повреждённая запись: усечённый вектор весов.
	broken := domain.PredictorModel{
		UserID:        "u1",
		HourlyWeights: make([]float64, 10),
		LastTrainedAt: now,
		SampleCount:   10,
	}
	service := newTestService(&stubModelRepo{model: broken}, &stubSlotRepo{}, Options{MinSamples: 5})

	suggestions, err := service.SuggestSlots(context.Background(), "u1", 1, now, false)
	if err != nil {
		t.Fatalf("повреждённая модель не должна ронять запрос: %v", err)
	}
	if !suggestions[0].ColdStart {
		t.Fatalf("повреждённая модель должна заменяться прайором")
	}
}

func TestBuildModelDeterministic(t *testing.T) {
	trainedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	samples := []domain.EngagementSample{
		sampleAt("p1", trainedAt.AddDate(0, 0, -3), 12),
		sampleAt("p2", trainedAt.AddDate(0, 0, -10), 30),
		sampleAt("p3", trainedAt.AddDate(0, 0, -40), 5),
	}

	first := BuildModel("u1", samples, 500, trainedAt, 0)
	second := BuildModel("u1", samples, 500, trainedAt, 0)

	if first.SampleCount != 3 || second.SampleCount != 3 {
		t.Fatalf("ожидали 3 различных поста, получили %d", first.SampleCount)
	}
	for i := range first.HourlyWeights {
		if first.HourlyWeights[i] != second.HourlyWeights[i] {
			t.Fatalf("веса не детерминированы в корзине %d", i)
		}
	}
}

func TestBuildModelDecayFavorsRecent(t *testing.T) {
	trainedAt := time.Date(2026, 8, 4, 12, 0, 0, 0, time.UTC)
	// Одна корзина, свежая точка сильная, старая слабая.
	fresh := sampleAt("p1", tuesdayAt(trainedAt, 9), 80)
	old := sampleAt("p2", tuesdayAt(trainedAt.AddDate(0, 0, -90), 9), 0)

	model := BuildModel("u1", []domain.EngagementSample{fresh, old}, 100, trainedAt, 30)

	bucket := domain.BucketOf(fresh.PublishedAt)
	freshRate := fresh.EngagementRate(100)
	oldRate := old.EngagementRate(100)
	mid := (freshRate + oldRate) / 2
	got := model.HourlyWeights[bucket]
	if got <= mid {
		t.Fatalf("затухание должно тянуть вес к свежей точке: %f <= %f", got, mid)
	}
	if got >= freshRate {
		t.Fatalf("вес не может превышать свежую точку: %f", got)
	}
	if math.IsNaN(got) {
		t.Fatalf("вес не должен быть NaN")
	}
}

func TestStoreReplaceAtomic(t *testing.T) {
	store := NewStore()
	store.Replace(domain.PredictorModel{UserID: "u1", HourlyWeights: make([]float64, domain.ModelBuckets), Version: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			weights := make([]float64, domain.ModelBuckets)
			weights[0] = float64(i)
			store.Replace(domain.PredictorModel{UserID: "u1", HourlyWeights: weights, Version: int64(i)})
		}
	}()
	for i := 0; i < 1000; i++ {
		model, ok := store.Get("u1")
		if !ok {
			t.Fatalf("модель пропала из хранилища")
		}
		if len(model.HourlyWeights) != domain.ModelBuckets {
			t.Fatalf("читатель увидел частично обновлённую модель")
		}
	}
	<-done
}
