package domain

import (
	"context"
	"time"
)

// RetrainCause описывает источник запроса на переобучение.
type RetrainCause string

const (
	// RetrainCauseSamples — пришли новые метрики вовлечённости.
	RetrainCauseSamples RetrainCause = "samples"
	// RetrainCauseScheduled — плановое ежедневное переобучение.
	RetrainCauseScheduled RetrainCause = "scheduled"
)

// RetrainJob содержит информацию о задаче переобучения модели пользователя.
type RetrainJob struct {
	ID          string       `json:"job_id,omitempty"`
	UserID      string       `json:"user_id"`
	Cause       RetrainCause `json:"cause"`
	RequestedAt time.Time    `json:"requested_at"`
}

// RetrainQueue описывает очередь задач переобучения.
type RetrainQueue interface {
	Enqueue(ctx context.Context, job RetrainJob) error
	Pop(ctx context.Context) (RetrainJob, error)
}
