package timeslot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const coldStartConfidenceScale = 0.25

// Options настраивают предсказатель времени публикации.
type Options struct {
	Horizon        time.Duration
	Granularity    time.Duration
	MinSpacing     time.Duration
	MinSamples     int
	StaleThreshold time.Duration
}

func (o *Options) fill() {
	if o.Horizon <= 0 {
		o.Horizon = 14 * 24 * time.Hour
	}
	if o.Granularity <= 0 {
		o.Granularity = time.Hour
	}
	if o.MinSpacing <= 0 {
		o.MinSpacing = 4 * time.Hour
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 5
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 48 * time.Hour
	}
}

// Service подбирает время публикации по модели пользователя.
type Service struct {
	store  *Store
	models domain.ModelRepo
	slots  domain.SlotRepo
	log    zerolog.Logger
	opts   Options
}

// NewService создаёт предсказатель.
func NewService(store *Store, models domain.ModelRepo, slots domain.SlotRepo, logger zerolog.Logger, opts Options) *Service {
	opts.fill()
	return &Service{store: store, models: models, slots: slots, log: logger, opts: opts}
}

type candidate struct {
	at     time.Time
	weight float64
}

// SuggestSlots возвращает до count кандидатов времени публикации,
// отсортированных по убыванию уверенности.
func (s *Service) SuggestSlots(ctx context.Context, userID string, count int, notBefore time.Time, allowOverlap bool) ([]domain.SlotSuggestion, error) {
	if count <= 0 {
		count = 1
	}
	metrics.SuggestRequestsTotal.Inc()

	model, coldStart, err := s.modelFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if coldStart {
		metrics.ColdStartSuggestionsTotal.Inc()
	} else if stale := time.Since(model.LastTrainedAt); stale > s.opts.StaleThreshold {
		// Устаревшая модель — деградация качества, не ошибка.
		s.log.Warn().Str("user_id", userID).Dur("age", stale).Msg("predictor: модель устарела")
	}

	var busy []time.Time
	if !allowOverlap {
		active, err := s.slots.ListActiveByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("активные слоты пользователя: %w", err)
		}
		for _, slot := range active {
			if slot.State == domain.SlotPending || slot.State == domain.SlotDue {
				busy = append(busy, slot.ScheduledAt)
			}
		}
	}

	candidates := s.collectCandidates(model, notBefore, busy)
	if len(candidates) == 0 {
		return nil, domain.ErrNoViableSlot
	}

	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		weights[i] = c.weight
	}
	total := floats.Sum(weights)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].weight != candidates[j].weight {
			return candidates[i].weight > candidates[j].weight
		}
		return candidates[i].at.Before(candidates[j].at)
	})

	suggestions := make([]domain.SlotSuggestion, 0, count)
	var picked []time.Time
	for _, c := range candidates {
		if len(suggestions) == count {
			break
		}
		if !spacedEnough(c.at, picked, s.opts.MinSpacing) {
			continue
		}
		confidence := c.weight / total
		if coldStart {
			confidence *= coldStartConfidenceScale
		}
		suggestions = append(suggestions, domain.SlotSuggestion{At: c.at, Confidence: confidence, ColdStart: coldStart})
		picked = append(picked, c.at)
	}
	if len(suggestions) == 0 {
		return nil, domain.ErrNoViableSlot
	}
	return suggestions, nil
}

// collectCandidates перебирает горизонт с шагом Granularity, отбрасывая
// корзины без веса и моменты, нарушающие минимальный интервал.
func (s *Service) collectCandidates(model domain.PredictorModel, notBefore time.Time, busy []time.Time) []candidate {
	start := notBefore.Truncate(s.opts.Granularity)
	if start.Before(notBefore) {
		start = start.Add(s.opts.Granularity)
	}
	end := notBefore.Add(s.opts.Horizon)

	var out []candidate
	for at := start; at.Before(end); at = at.Add(s.opts.Granularity) {
		weight := model.HourlyWeights[domain.BucketOf(at)]
		if weight <= 0 {
			continue
		}
		if !spacedEnough(at, busy, s.opts.MinSpacing) {
			continue
		}
		out = append(out, candidate{at: at, weight: weight})
	}
	return out
}

// modelFor возвращает модель пользователя. Источник истины — репозиторий:
// переобучение в соседнем процессе становится видимым на следующем запросе.
// Снимок в Store служит запасным вариантом при недоступном репозитории.
// При отсутствии, недообученности или повреждении модели используется
// холодный прайор — запрос никогда не падает из-за пустой истории.
func (s *Service) modelFor(ctx context.Context, userID string) (domain.PredictorModel, bool, error) {
	loaded, err := s.models.Get(ctx, userID)
	switch {
	case err == nil:
		s.store.Replace(loaded)
		return s.usable(userID, loaded)
	case errors.Is(err, domain.ErrModelNotFound):
		return PriorModel(userID), true, nil
	}
	if model, ok := s.store.Get(userID); ok {
		// Репозиторий недоступен: прежний снимок лучше отказа.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("predictor: модель из снимка, репозиторий недоступен")
		return s.usable(userID, model)
	}
	return domain.PredictorModel{}, false, fmt.Errorf("загрузка модели: %w", err)
}

// usable отсеивает недообученные и повреждённые модели в пользу прайора.
func (s *Service) usable(userID string, model domain.PredictorModel) (domain.PredictorModel, bool, error) {
	if len(model.HourlyWeights) != domain.ModelBuckets || model.SampleCount < s.opts.MinSamples {
		return PriorModel(userID), true, nil
	}
	return model, false, nil
}

func spacedEnough(at time.Time, others []time.Time, spacing time.Duration) bool {
	for _, other := range others {
		delta := at.Sub(other)
		if delta < 0 {
			delta = -delta
		}
		if delta < spacing {
			return false
		}
	}
	return true
}
