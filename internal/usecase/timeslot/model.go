package timeslot

import (
	"math"
	"time"

	"content-autopilot/internal/domain"
)

// DefaultHalfLifeDays — период полураспада веса исторической точки.
const DefaultHalfLifeDays = 30.0

// peakSlot — элемент холодного прайора: типичные пиковые часы деловой сети.
type peakSlot struct {
	day    time.Weekday
	hour   int
	weight float64
}

var defaultPeakSlots = []peakSlot{
	{time.Tuesday, 8, 1.0},
	{time.Tuesday, 12, 0.95},
	{time.Wednesday, 9, 0.9},
	{time.Thursday, 8, 0.85},
	{time.Thursday, 17, 0.8},
	{time.Friday, 7, 0.75},
}

// PriorModel возвращает модель холодного старта для пользователя без истории.
func PriorModel(userID string) domain.PredictorModel {
	weights := make([]float64, domain.ModelBuckets)
	for _, slot := range defaultPeakSlots {
		weights[int(slot.day)*24+slot.hour] = slot.weight
	}
	return domain.PredictorModel{UserID: userID, HourlyWeights: weights}
}

// BuildModel обучает модель по истории вовлечённости. Функция детерминирована:
// одинаковые входы дают побитово идентичные веса.
func BuildModel(userID string, samples []domain.EngagementSample, followers int, trainedAt time.Time, halfLifeDays float64) domain.PredictorModel {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}

	numerator := make([]float64, domain.ModelBuckets)
	denominator := make([]float64, domain.ModelBuckets)
	posts := make(map[string]struct{}, len(samples))

	for _, sample := range samples {
		posts[sample.PostID] = struct{}{}
		ageDays := trainedAt.Sub(sample.PublishedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Pow(0.5, ageDays/halfLifeDays)
		bucket := domain.BucketOf(sample.PublishedAt)
		numerator[bucket] += sample.EngagementRate(followers) * decay
		denominator[bucket] += decay
	}

	weights := make([]float64, domain.ModelBuckets)
	for i := range weights {
		if denominator[i] > 0 {
			weights[i] = numerator[i] / denominator[i]
		}
	}

	return domain.PredictorModel{
		UserID:        userID,
		HourlyWeights: weights,
		LastTrainedAt: trainedAt,
		SampleCount:   len(posts),
	}
}
