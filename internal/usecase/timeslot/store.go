package timeslot

import (
	"sync"

	"content-autopilot/internal/domain"
)

// Store хранит актуальные модели предсказателя в памяти.
// Модель заменяется целиком: читатель получает либо прежний,
// либо новый снимок, но никогда частичное обновление.
type Store struct {
	mu     sync.RWMutex
	models map[string]*domain.PredictorModel
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{models: make(map[string]*domain.PredictorModel)}
}

// Get возвращает снимок модели пользователя.
func (s *Store) Get(userID string) (domain.PredictorModel, bool) {
	s.mu.RLock()
	model, ok := s.models[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.PredictorModel{}, false
	}
	return *model, true
}

// Replace замещает модель пользователя новой версией.
func (s *Store) Replace(model domain.PredictorModel) {
	snapshot := model
	s.mu.Lock()
	s.models[model.UserID] = &snapshot
	s.mu.Unlock()
}
