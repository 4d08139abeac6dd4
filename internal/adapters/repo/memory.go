package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"content-autopilot/internal/domain"
)

// Memory реализует репозитории в памяти. Используется в dev-окружении и тестах.
type Memory struct {
	mu        sync.Mutex
	users     map[string]domain.User
	variants  map[string]domain.ContentVariant
	slots     map[string]domain.ScheduleSlot
	samples   []domain.EngagementSample
	models    map[string]domain.PredictorModel
	snapshots []domain.GrowthSnapshot
	sampleSeq int64
	snapSeq   int64
}

// NewMemory создаёт хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]domain.User),
		variants: make(map[string]domain.ContentVariant),
		slots:    make(map[string]domain.ScheduleSlot),
		models:   make(map[string]domain.PredictorModel),
	}
}

// Users возвращает репозиторий пользователей.
func (m *Memory) Users() *MemoryUsers { return &MemoryUsers{base: m} }

// Variants возвращает репозиторий вариантов.
func (m *Memory) Variants() *MemoryVariants { return &MemoryVariants{base: m} }

// Slots возвращает репозиторий слотов.
func (m *Memory) Slots() *MemorySlots { return &MemorySlots{base: m} }

// Samples возвращает репозиторий метрик.
func (m *Memory) Samples() *MemorySamples { return &MemorySamples{base: m} }

// Models возвращает репозиторий моделей.
func (m *Memory) Models() *MemoryModels { return &MemoryModels{base: m} }

// Growth возвращает репозиторий срезов роста.
func (m *Memory) Growth() *MemoryGrowth { return &MemoryGrowth{base: m} }

// SeedUser кладёт пользователя в хранилище.
func (m *Memory) SeedUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// MemoryUsers реализует domain.UserRepo.
type MemoryUsers struct {
	base *Memory
}

var _ domain.UserRepo = (*MemoryUsers)(nil)

func (r *MemoryUsers) Get(ctx context.Context, userID string) (domain.User, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	u, ok := r.base.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUsers) ListIDs(ctx context.Context) ([]string, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	ids := make([]string, 0, len(r.base.users))
	for id := range r.base.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryUsers) UpdatePreferences(ctx context.Context, userID, toneStyle, contentGoals string) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	u, ok := r.base.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if toneStyle != "" {
		u.ToneStyle = toneStyle
	}
	if contentGoals != "" {
		u.ContentGoals = contentGoals
	}
	u.UpdatedAt = time.Now().UTC()
	r.base.users[userID] = u
	return nil
}

// MemoryVariants реализует domain.VariantRepo.
type MemoryVariants struct {
	base *Memory
}

var _ domain.VariantRepo = (*MemoryVariants)(nil)

func (r *MemoryVariants) SaveBatch(ctx context.Context, variants []domain.ContentVariant) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	for _, v := range variants {
		r.base.variants[v.VariantID] = v
	}
	return nil
}

func (r *MemoryVariants) ListByPost(ctx context.Context, postID string) ([]domain.ContentVariant, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var out []domain.ContentVariant
	for _, v := range r.base.variants {
		if v.PostID == postID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (r *MemoryVariants) ApplyRanking(ctx context.Context, variants []domain.ContentVariant) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	now := time.Now().UTC()
	for _, v := range variants {
		stored, ok := r.base.variants[v.VariantID]
		if !ok {
			continue
		}
		stored.PredictedScore = v.PredictedScore
		stored.Status = v.Status
		stored.UpdatedAt = now
		r.base.variants[v.VariantID] = stored
	}
	return nil
}

func (r *MemoryVariants) GetSelected(ctx context.Context, postID string) (domain.ContentVariant, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var (
		best  domain.ContentVariant
		found bool
	)
	for _, v := range r.base.variants {
		if v.PostID != postID || v.Status != domain.VariantSelected {
			continue
		}
		if !found || v.PredictedScore > best.PredictedScore || (v.PredictedScore == best.PredictedScore && v.VariantID < best.VariantID) {
			best = v
			found = true
		}
	}
	if !found {
		return domain.ContentVariant{}, domain.ErrVariantNotFound
	}
	return best, nil
}

func (r *MemoryVariants) ListSelectedTopics(ctx context.Context, userID string, since time.Time) ([]string, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	seen := make(map[string]struct{})
	var topics []string
	for _, v := range r.base.variants {
		if v.UserID != userID || v.Status != domain.VariantSelected || v.UpdatedAt.Before(since) {
			continue
		}
		if _, ok := seen[v.Topic]; ok {
			continue
		}
		seen[v.Topic] = struct{}{}
		topics = append(topics, v.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// MemorySlots реализует domain.SlotRepo. Захват слота атомарен
// относительно общего мьютекса хранилища.
type MemorySlots struct {
	base *Memory
}

var _ domain.SlotRepo = (*MemorySlots)(nil)

func slotActive(s domain.ScheduleSlot) bool {
	return !s.State.IsTerminal()
}

func (r *MemorySlots) Create(ctx context.Context, slot domain.ScheduleSlot) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	for _, existing := range r.base.slots {
		if existing.PostID == slot.PostID && slotActive(existing) {
			return domain.ErrConflictingSchedule
		}
	}
	r.base.slots[slot.SlotID] = slot
	return nil
}

func (r *MemorySlots) Get(ctx context.Context, slotID string) (domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return s, nil
}

func (r *MemorySlots) GetActiveByPost(ctx context.Context, postID string) (domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var (
		latest domain.ScheduleSlot
		found  bool
	)
	for _, s := range r.base.slots {
		if s.PostID != postID || !slotActive(s) {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
			found = true
		}
	}
	if !found {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return latest, nil
}

func (r *MemorySlots) LatestByPost(ctx context.Context, postID string) (domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var (
		latest domain.ScheduleSlot
		found  bool
	)
	for _, s := range r.base.slots {
		if s.PostID != postID {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) || (s.CreatedAt.Equal(latest.CreatedAt) && s.UpdatedAt.After(latest.UpdatedAt)) {
			latest = s
			found = true
		}
	}
	if !found {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return latest, nil
}

func (r *MemorySlots) ListActiveByUser(ctx context.Context, userID string) ([]domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var out []domain.ScheduleSlot
	for _, s := range r.base.slots {
		if s.UserID == userID && slotActive(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *MemorySlots) MarkDueBatch(ctx context.Context, now time.Time) (int, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	promoted := 0
	for id, s := range r.base.slots {
		if s.State == domain.SlotPending && !s.ScheduledAt.After(now) {
			s.State = domain.SlotDue
			s.UpdatedAt = now
			r.base.slots[id] = s
			promoted++
		}
	}
	return promoted, nil
}

func (r *MemorySlots) ListClaimable(ctx context.Context, now, reclaimBefore time.Time) ([]domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var out []domain.ScheduleSlot
	for _, s := range r.base.slots {
		if s.State == domain.SlotDue && !s.ScheduledAt.After(now) {
			out = append(out, s)
			continue
		}
		if s.State == domain.SlotDispatching && s.ClaimedAt != nil && s.ClaimedAt.Before(reclaimBefore) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out, nil
}

func (r *MemorySlots) Claim(ctx context.Context, slotID string, now, reclaimBefore time.Time) (domain.ScheduleSlot, bool, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok {
		return domain.ScheduleSlot{}, false, nil
	}
	claimable := s.State == domain.SlotDue ||
		(s.State == domain.SlotDispatching && s.ClaimedAt != nil && s.ClaimedAt.Before(reclaimBefore))
	if !claimable {
		return domain.ScheduleSlot{}, false, nil
	}
	claimedAt := now
	s.State = domain.SlotDispatching
	s.Attempts++
	s.ClaimedAt = &claimedAt
	s.UpdatedAt = now
	r.base.slots[slotID] = s
	return s, true, nil
}

func (r *MemorySlots) FinishPublished(ctx context.Context, slotID, externalPostID string, at time.Time) (bool, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok || s.State != domain.SlotDispatching {
		return false, nil
	}
	publishedAt := at
	s.State = domain.SlotPublished
	s.ExternalPostID = externalPostID
	s.PublishedAt = &publishedAt
	s.LastError = ""
	s.UpdatedAt = at
	r.base.slots[slotID] = s
	return true, nil
}

func (r *MemorySlots) Retry(ctx context.Context, slotID string, nextAt time.Time, lastError string) (bool, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok || s.State != domain.SlotDispatching {
		return false, nil
	}
	s.State = domain.SlotPending
	s.ScheduledAt = nextAt
	s.LastError = lastError
	s.ClaimedAt = nil
	s.UpdatedAt = time.Now().UTC()
	r.base.slots[slotID] = s
	return true, nil
}

func (r *MemorySlots) FinishFailed(ctx context.Context, slotID, lastError string) (bool, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok || s.State != domain.SlotDispatching {
		return false, nil
	}
	s.State = domain.SlotFailed
	s.LastError = lastError
	s.UpdatedAt = time.Now().UTC()
	r.base.slots[slotID] = s
	return true, nil
}

func (r *MemorySlots) Cancel(ctx context.Context, slotID string) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	s, ok := r.base.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	switch s.State {
	case domain.SlotPending, domain.SlotDue:
		s.State = domain.SlotCancelled
		s.UpdatedAt = time.Now().UTC()
		r.base.slots[slotID] = s
		return nil
	case domain.SlotDispatching:
		return domain.ErrSlotDispatching
	default:
		return domain.ErrSlotTerminal
	}
}

func (r *MemorySlots) RescheduleActive(ctx context.Context, postID string, slot domain.ScheduleSlot) (domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var (
		active domain.ScheduleSlot
		found  bool
	)
	for _, s := range r.base.slots {
		if s.PostID != postID || !slotActive(s) {
			continue
		}
		if !found || s.CreatedAt.After(active.CreatedAt) {
			active = s
			found = true
		}
	}
	if !found {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	if active.State == domain.SlotDispatching {
		return domain.ScheduleSlot{}, domain.ErrSlotDispatching
	}
	active.State = domain.SlotCancelled
	active.UpdatedAt = time.Now().UTC()
	r.base.slots[active.SlotID] = active
	r.base.slots[slot.SlotID] = slot
	return slot, nil
}

func (r *MemorySlots) ListPublishedSince(ctx context.Context, since time.Time) ([]domain.ScheduleSlot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var out []domain.ScheduleSlot
	for _, s := range r.base.slots {
		if s.State == domain.SlotPublished && s.PublishedAt != nil && !s.PublishedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(*out[j].PublishedAt) })
	return out, nil
}

// MemorySamples реализует domain.SampleRepo.
type MemorySamples struct {
	base *Memory
}

var _ domain.SampleRepo = (*MemorySamples)(nil)

func (r *MemorySamples) Append(ctx context.Context, samples []domain.EngagementSample) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	for _, s := range samples {
		r.base.sampleSeq++
		s.ID = r.base.sampleSeq
		r.base.samples = append(r.base.samples, s)
	}
	return nil
}

func (r *MemorySamples) ListByUser(ctx context.Context, userID string, since time.Time) ([]domain.EngagementSample, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	var out []domain.EngagementSample
	for _, s := range r.base.samples {
		if s.UserID == userID && !s.SampledAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SampledAt.Equal(out[j].SampledAt) {
			return out[i].SampledAt.Before(out[j].SampledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MemoryModels реализует domain.ModelRepo.
type MemoryModels struct {
	base *Memory
}

var _ domain.ModelRepo = (*MemoryModels)(nil)

func (r *MemoryModels) Save(ctx context.Context, model domain.PredictorModel) (domain.PredictorModel, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	if prev, ok := r.base.models[model.UserID]; ok {
		model.Version = prev.Version + 1
	} else {
		model.Version = 1
	}
	weights := make([]float64, len(model.HourlyWeights))
	copy(weights, model.HourlyWeights)
	model.HourlyWeights = weights
	r.base.models[model.UserID] = model
	return model, nil
}

func (r *MemoryModels) Get(ctx context.Context, userID string) (domain.PredictorModel, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	m, ok := r.base.models[userID]
	if !ok {
		return domain.PredictorModel{}, domain.ErrModelNotFound
	}
	weights := make([]float64, len(m.HourlyWeights))
	copy(weights, m.HourlyWeights)
	m.HourlyWeights = weights
	return m, nil
}

// MemoryGrowth реализует domain.GrowthRepo.
type MemoryGrowth struct {
	base *Memory
}

var _ domain.GrowthRepo = (*MemoryGrowth)(nil)

func (r *MemoryGrowth) AddSnapshot(ctx context.Context, snapshot domain.GrowthSnapshot) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	r.base.snapSeq++
	snapshot.ID = r.base.snapSeq
	r.base.snapshots = append(r.base.snapshots, snapshot)
	return nil
}

func (r *MemoryGrowth) ListSnapshots(ctx context.Context, userID string, limit int) ([]domain.GrowthSnapshot, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()
	if limit <= 0 {
		limit = 30
	}
	var out []domain.GrowthSnapshot
	for _, s := range r.base.snapshots {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnappedAt.Equal(out[j].SnappedAt) {
			return out[i].SnappedAt.After(out[j].SnappedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
