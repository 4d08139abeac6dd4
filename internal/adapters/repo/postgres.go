package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// Postgres — общая база репозиториев на pgxpool.
// Каждый репозиторий предметной области выделен в отдельный тип,
// доступный через аксессоры.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Users возвращает репозиторий пользователей.
func (p *Postgres) Users() *PostgresUsers { return &PostgresUsers{base: p} }

// Variants возвращает репозиторий вариантов.
func (p *Postgres) Variants() *PostgresVariants { return &PostgresVariants{base: p} }

// Slots возвращает репозиторий слотов.
func (p *Postgres) Slots() *PostgresSlots { return &PostgresSlots{base: p} }

// Samples возвращает репозиторий метрик.
func (p *Postgres) Samples() *PostgresSamples { return &PostgresSamples{base: p} }

// Models возвращает репозиторий моделей.
func (p *Postgres) Models() *PostgresModels { return &PostgresModels{base: p} }

// Growth возвращает репозиторий срезов роста.
func (p *Postgres) Growth() *PostgresGrowth { return &PostgresGrowth{base: p} }

// PostgresUsers реализует domain.UserRepo.
type PostgresUsers struct {
	base *Postgres
}

var _ domain.UserRepo = (*PostgresUsers)(nil)

// Get возвращает пользователя по идентификатору.
func (r *PostgresUsers) Get(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	var u domain.User
	start := time.Now()
	err := r.base.pool.QueryRow(ctx, `
SELECT id, email, name, niche, content_goals, posting_frequency, tone_style, target_audience, tz, follower_count, access_token, created_at, updated_at
FROM users WHERE id=$1
`, userID).Scan(&u.ID, &u.Email, &u.Name, &u.Niche, &u.ContentGoals, &u.PostingFrequency, &u.ToneStyle, &u.TargetAudience, &u.Timezone, &u.FollowerCount, &u.AccessToken, &u.CreatedAt, &u.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, err
}

// ListIDs возвращает идентификаторы всех пользователей.
func (r *PostgresUsers) ListIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list_ids", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePreferences обновляет тон и цели контента.
func (r *PostgresUsers) UpdatePreferences(ctx context.Context, userID, toneStyle, contentGoals string) error {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE users SET tone_style=COALESCE(NULLIF($2,''), tone_style), content_goals=COALESCE(NULLIF($3,''), content_goals), updated_at=now()
WHERE id=$1
`, userID, toneStyle, contentGoals)
	metrics.ObserveNetworkRequest("postgres", "users_update_preferences", "users", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// PostgresVariants реализует domain.VariantRepo.
type PostgresVariants struct {
	base *Postgres
}

var _ domain.VariantRepo = (*PostgresVariants)(nil)

// SaveBatch сохраняет варианты батчем.
func (r *PostgresVariants) SaveBatch(ctx context.Context, variants []domain.ContentVariant) error {
	if len(variants) == 0 {
		return nil
	}
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, v := range variants {
		batch.Queue(`
INSERT INTO content_variants (variant_id, post_id, user_id, topic, format, hook, body, cta, hashtags, predicted_score, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (variant_id) DO UPDATE SET hook=EXCLUDED.hook, body=EXCLUDED.body, cta=EXCLUDED.cta, hashtags=EXCLUDED.hashtags, updated_at=EXCLUDED.updated_at
`, v.VariantID, v.PostID, v.UserID, v.Topic, v.Format, v.Hook, v.Body, v.CTA, v.Hashtags, v.PredictedScore, v.Status, v.CreatedAt, v.UpdatedAt)
	}
	start := time.Now()
	br := r.base.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "content_variants_send_batch", "content_variants", start, nil)
	defer br.Close()
	for range variants {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "content_variants_batch_exec", "content_variants", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListByPost возвращает все варианты поста.
func (r *PostgresVariants) ListByPost(ctx context.Context, postID string) ([]domain.ContentVariant, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT variant_id, post_id, user_id, topic, format, hook, body, cta, hashtags, predicted_score, status, created_at, updated_at
FROM content_variants WHERE post_id=$1
ORDER BY variant_id
`, postID)
	metrics.ObserveNetworkRequest("postgres", "content_variants_list_by_post", "content_variants", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVariants(rows)
}

// ApplyRanking сохраняет оценки и статусы, проставленные ранкером.
func (r *PostgresVariants) ApplyRanking(ctx context.Context, variants []domain.ContentVariant) error {
	if len(variants) == 0 {
		return nil
	}
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, v := range variants {
		batch.Queue(`
UPDATE content_variants SET predicted_score=$2, status=$3, updated_at=now()
WHERE variant_id=$1
`, v.VariantID, v.PredictedScore, v.Status)
	}
	start := time.Now()
	br := r.base.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "content_variants_apply_ranking", "content_variants", start, nil)
	defer br.Close()
	for range variants {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "content_variants_ranking_exec", "content_variants", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetSelected возвращает выбранный вариант поста.
func (r *PostgresVariants) GetSelected(ctx context.Context, postID string) (domain.ContentVariant, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := r.base.pool.QueryRow(ctx, `
SELECT variant_id, post_id, user_id, topic, format, hook, body, cta, hashtags, predicted_score, status, created_at, updated_at
FROM content_variants WHERE post_id=$1 AND status=$2
ORDER BY predicted_score DESC, variant_id
LIMIT 1
`, postID, domain.VariantSelected)
	v, err := scanVariant(row)
	metrics.ObserveNetworkRequest("postgres", "content_variants_get_selected", "content_variants", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentVariant{}, domain.ErrVariantNotFound
	}
	return v, err
}

// ListSelectedTopics возвращает темы выбранных вариантов пользователя начиная с since.
func (r *PostgresVariants) ListSelectedTopics(ctx context.Context, userID string, since time.Time) ([]string, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT DISTINCT topic FROM content_variants
WHERE user_id=$1 AND status=$2 AND updated_at >= $3
ORDER BY topic
`, userID, domain.VariantSelected, since)
	metrics.ObserveNetworkRequest("postgres", "content_variants_list_topics", "content_variants", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

func scanVariant(row pgx.Row) (domain.ContentVariant, error) {
	var v domain.ContentVariant
	err := row.Scan(&v.VariantID, &v.PostID, &v.UserID, &v.Topic, &v.Format, &v.Hook, &v.Body, &v.CTA, &v.Hashtags, &v.PredictedScore, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func scanVariants(rows pgx.Rows) ([]domain.ContentVariant, error) {
	var variants []domain.ContentVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// PostgresSlots реализует domain.SlotRepo.
type PostgresSlots struct {
	base *Postgres
}

var _ domain.SlotRepo = (*PostgresSlots)(nil)

const slotColumns = `slot_id, user_id, post_id, scheduled_at, state, attempts, last_error, external_post_id, claimed_at, published_at, created_at, updated_at`

func scanSlot(row pgx.Row) (domain.ScheduleSlot, error) {
	var (
		s           domain.ScheduleSlot
		claimedAt   sql.NullTime
		publishedAt sql.NullTime
		externalID  sql.NullString
		lastError   sql.NullString
	)
	err := row.Scan(&s.SlotID, &s.UserID, &s.PostID, &s.ScheduledAt, &s.State, &s.Attempts, &lastError, &externalID, &claimedAt, &publishedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	if lastError.Valid {
		s.LastError = lastError.String
	}
	if externalID.Valid {
		s.ExternalPostID = externalID.String
	}
	if claimedAt.Valid {
		ts := claimedAt.Time
		s.ClaimedAt = &ts
	}
	if publishedAt.Valid {
		ts := publishedAt.Time
		s.PublishedAt = &ts
	}
	return s, nil
}

func scanSlots(rows pgx.Rows) ([]domain.ScheduleSlot, error) {
	var slots []domain.ScheduleSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// Create создаёт слот. Частичный уникальный индекс по post_id для активных
// состояний превращает второй активный слот поста в ErrConflictingSchedule.
func (r *PostgresSlots) Create(ctx context.Context, slot domain.ScheduleSlot) error {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := r.base.pool.Exec(ctx, `
INSERT INTO schedule_slots (slot_id, user_id, post_id, scheduled_at, state, attempts, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, slot.SlotID, slot.UserID, slot.PostID, slot.ScheduledAt, slot.State, slot.Attempts, slot.CreatedAt, slot.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_create", "schedule_slots", start, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrConflictingSchedule
	}
	return err
}

// Get возвращает слот по идентификатору.
func (r *PostgresSlots) Get(ctx context.Context, slotID string) (domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := r.base.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM schedule_slots WHERE slot_id=$1`, slotID)
	s, err := scanSlot(row)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_get", "schedule_slots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return s, err
}

// GetActiveByPost возвращает активный слот поста.
func (r *PostgresSlots) GetActiveByPost(ctx context.Context, postID string) (domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := r.base.pool.QueryRow(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE post_id=$1 AND state IN ('pending','due','dispatching')
ORDER BY created_at DESC
LIMIT 1
`, postID)
	s, err := scanSlot(row)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_get_active", "schedule_slots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return s, err
}

// LatestByPost возвращает последний по времени создания слот поста.
func (r *PostgresSlots) LatestByPost(ctx context.Context, postID string) (domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := r.base.pool.QueryRow(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE post_id=$1
ORDER BY created_at DESC
LIMIT 1
`, postID)
	s, err := scanSlot(row)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_latest", "schedule_slots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	return s, err
}

// ListActiveByUser возвращает активные слоты пользователя.
func (r *PostgresSlots) ListActiveByUser(ctx context.Context, userID string) ([]domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE user_id=$1 AND state IN ('pending','due','dispatching')
ORDER BY scheduled_at
`, userID)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_list_active", "schedule_slots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// MarkDueBatch переводит pending-слоты с наступившим временем в due.
func (r *PostgresSlots) MarkDueBatch(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE schedule_slots SET state='due', updated_at=now()
WHERE state='pending' AND scheduled_at <= $1
`, now)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_mark_due", "schedule_slots", start, err)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// ListClaimable возвращает due-слоты и зависшие dispatching-слоты.
func (r *PostgresSlots) ListClaimable(ctx context.Context, now, reclaimBefore time.Time) ([]domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE (state='due' AND scheduled_at <= $1)
   OR (state='dispatching' AND claimed_at < $2)
ORDER BY scheduled_at, slot_id
`, now, reclaimBefore)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_list_claimable", "schedule_slots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// Claim атомарно захватывает слот. Условный UPDATE гарантирует, что из
// конкурирующих диспетчеров ровно один получит ok=true.
func (r *PostgresSlots) Claim(ctx context.Context, slotID string, now, reclaimBefore time.Time) (domain.ScheduleSlot, bool, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := r.base.pool.QueryRow(ctx, `
UPDATE schedule_slots
SET state='dispatching', attempts=attempts+1, claimed_at=$2, updated_at=now()
WHERE slot_id=$1 AND (state='due' OR (state='dispatching' AND claimed_at < $3))
RETURNING `+slotColumns+`
`, slotID, now, reclaimBefore)
	s, err := scanSlot(row)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_claim", "schedule_slots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleSlot{}, false, nil
	}
	if err != nil {
		return domain.ScheduleSlot{}, false, err
	}
	return s, true, nil
}

// FinishPublished помечает слот опубликованным. Терминальные состояния не перезаписываются.
func (r *PostgresSlots) FinishPublished(ctx context.Context, slotID, externalPostID string, at time.Time) (bool, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE schedule_slots
SET state='published', external_post_id=$2, published_at=$3, last_error=NULL, updated_at=now()
WHERE slot_id=$1 AND state='dispatching'
`, slotID, externalPostID, at)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_finish_published", "schedule_slots", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// Retry возвращает слот в pending с новым временем.
func (r *PostgresSlots) Retry(ctx context.Context, slotID string, nextAt time.Time, lastError string) (bool, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE schedule_slots
SET state='pending', scheduled_at=$2, last_error=$3, claimed_at=NULL, updated_at=now()
WHERE slot_id=$1 AND state='dispatching'
`, slotID, nextAt, lastError)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_retry", "schedule_slots", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// FinishFailed помечает слот проваленным.
func (r *PostgresSlots) FinishFailed(ctx context.Context, slotID, lastError string) (bool, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE schedule_slots
SET state='failed', last_error=$2, updated_at=now()
WHERE slot_id=$1 AND state='dispatching'
`, slotID, lastError)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_finish_failed", "schedule_slots", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// Cancel отменяет слот. Отменяются только pending- и due-слоты.
func (r *PostgresSlots) Cancel(ctx context.Context, slotID string) error {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := r.base.pool.Exec(ctx, `
UPDATE schedule_slots SET state='cancelled', updated_at=now()
WHERE slot_id=$1 AND state IN ('pending','due')
`, slotID)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_cancel", "schedule_slots", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() > 0 {
		return nil
	}
	slot, err := r.Get(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.State == domain.SlotDispatching {
		return domain.ErrSlotDispatching
	}
	return domain.ErrSlotTerminal
}

// RescheduleActive атомарно отменяет активный слот поста и создаёт новый.
func (r *PostgresSlots) RescheduleActive(ctx context.Context, postID string, slot domain.ScheduleSlot) (domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := r.base.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "schedule_slots", start, err)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	row := tx.QueryRow(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE post_id=$1 AND state IN ('pending','due','dispatching')
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`, postID)
	active, err := scanSlot(row)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_get_active_for_update", "schedule_slots", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduleSlot{}, domain.ErrSlotNotFound
	}
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	if active.State == domain.SlotDispatching {
		return domain.ScheduleSlot{}, domain.ErrSlotDispatching
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE schedule_slots SET state='cancelled', updated_at=now() WHERE slot_id=$1
`, active.SlotID)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_cancel_for_reschedule", "schedule_slots", start, err)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO schedule_slots (slot_id, user_id, post_id, scheduled_at, state, attempts, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, slot.SlotID, slot.UserID, slot.PostID, slot.ScheduledAt, slot.State, slot.Attempts, slot.CreatedAt, slot.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_create_for_reschedule", "schedule_slots", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ScheduleSlot{}, domain.ErrConflictingSchedule
		}
		return domain.ScheduleSlot{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "schedule_slots", start, err)
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	return slot, nil
}

// ListPublishedSince возвращает опубликованные слоты начиная с since.
func (r *PostgresSlots) ListPublishedSince(ctx context.Context, since time.Time) ([]domain.ScheduleSlot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT `+slotColumns+` FROM schedule_slots
WHERE state='published' AND published_at >= $1
ORDER BY published_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "schedule_slots_list_published", "schedule_slots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// PostgresSamples реализует domain.SampleRepo.
type PostgresSamples struct {
	base *Postgres
}

var _ domain.SampleRepo = (*PostgresSamples)(nil)

// Append добавляет точки временного ряда. Существующие записи не изменяются.
func (r *PostgresSamples) Append(ctx context.Context, samples []domain.EngagementSample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(`
INSERT INTO engagement_samples (post_id, user_id, published_at, sampled_at, impressions, likes, comments, shares, follower_delta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, s.PostID, s.UserID, s.PublishedAt, s.SampledAt, s.Impressions, s.Likes, s.Comments, s.Shares, s.FollowerDelta)
	}
	start := time.Now()
	br := r.base.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "engagement_samples_send_batch", "engagement_samples", start, nil)
	defer br.Close()
	for range samples {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "engagement_samples_batch_exec", "engagement_samples", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListByUser возвращает метрики пользователя начиная с since.
func (r *PostgresSamples) ListByUser(ctx context.Context, userID string, since time.Time) ([]domain.EngagementSample, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT id, post_id, user_id, published_at, sampled_at, impressions, likes, comments, shares, follower_delta
FROM engagement_samples
WHERE user_id=$1 AND sampled_at >= $2
ORDER BY sampled_at, id
`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "engagement_samples_list", "engagement_samples", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []domain.EngagementSample
	for rows.Next() {
		var s domain.EngagementSample
		if err := rows.Scan(&s.ID, &s.PostID, &s.UserID, &s.PublishedAt, &s.SampledAt, &s.Impressions, &s.Likes, &s.Comments, &s.Shares, &s.FollowerDelta); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// PostgresModels реализует domain.ModelRepo.
type PostgresModels struct {
	base *Postgres
}

var _ domain.ModelRepo = (*PostgresModels)(nil)

// Save замещает модель пользователя целиком, версия растёт монотонно.
func (r *PostgresModels) Save(ctx context.Context, model domain.PredictorModel) (domain.PredictorModel, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := r.base.pool.QueryRow(ctx, `
INSERT INTO predictor_models (user_id, hourly_weights, last_trained_at, sample_count, version)
VALUES ($1,$2,$3,$4,1)
ON CONFLICT (user_id) DO UPDATE
SET hourly_weights=EXCLUDED.hourly_weights,
    last_trained_at=EXCLUDED.last_trained_at,
    sample_count=EXCLUDED.sample_count,
    version=predictor_models.version+1
RETURNING version
`, model.UserID, model.HourlyWeights, model.LastTrainedAt, model.SampleCount).Scan(&model.Version)
	metrics.ObserveNetworkRequest("postgres", "predictor_models_save", "predictor_models", start, err)
	return model, err
}

// Get возвращает сохранённую модель пользователя.
func (r *PostgresModels) Get(ctx context.Context, userID string) (domain.PredictorModel, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	var m domain.PredictorModel
	start := time.Now()
	err := r.base.pool.QueryRow(ctx, `
SELECT user_id, hourly_weights, last_trained_at, sample_count, version
FROM predictor_models WHERE user_id=$1
`, userID).Scan(&m.UserID, &m.HourlyWeights, &m.LastTrainedAt, &m.SampleCount, &m.Version)
	metrics.ObserveNetworkRequest("postgres", "predictor_models_get", "predictor_models", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PredictorModel{}, domain.ErrModelNotFound
	}
	return m, err
}

// PostgresGrowth реализует domain.GrowthRepo.
type PostgresGrowth struct {
	base *Postgres
}

var _ domain.GrowthRepo = (*PostgresGrowth)(nil)

// AddSnapshot сохраняет срез роста.
func (r *PostgresGrowth) AddSnapshot(ctx context.Context, snapshot domain.GrowthSnapshot) error {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := r.base.pool.Exec(ctx, `
INSERT INTO growth_snapshots (user_id, follower_count, connection_count, profile_views, snapped_at)
VALUES ($1,$2,$3,$4,$5)
`, snapshot.UserID, snapshot.FollowerCount, snapshot.ConnectionCount, snapshot.ProfileViews, snapshot.SnappedAt)
	metrics.ObserveNetworkRequest("postgres", "growth_snapshots_add", "growth_snapshots", start, err)
	return err
}

// ListSnapshots возвращает последние срезы пользователя.
func (r *PostgresGrowth) ListSnapshots(ctx context.Context, userID string, limit int) ([]domain.GrowthSnapshot, error) {
	ctx, cancel := r.base.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 30
	}
	start := time.Now()
	rows, err := r.base.pool.Query(ctx, `
SELECT id, user_id, follower_count, connection_count, profile_views, snapped_at
FROM growth_snapshots
WHERE user_id=$1
ORDER BY snapped_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "growth_snapshots_list", "growth_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snapshots []domain.GrowthSnapshot
	for rows.Next() {
		var s domain.GrowthSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.FollowerCount, &s.ConnectionCount, &s.ProfileViews, &s.SnappedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
