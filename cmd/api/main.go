package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	chi "github.com/go-chi/chi/v5"

	"content-autopilot/internal/adapters/generator"
	"content-autopilot/internal/adapters/publisher"
	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/adapters/scorer"
	"content-autopilot/internal/adapters/trends"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/cache"
	"content-autopilot/internal/infra/config"
	"content-autopilot/internal/infra/db"
	httpinfra "content-autopilot/internal/infra/http"
	loginfra "content-autopilot/internal/infra/log"
	"content-autopilot/internal/infra/metrics"
	openaiinfra "content-autopilot/internal/infra/openai"
	"content-autopilot/internal/infra/queue"
	"content-autopilot/internal/usecase/analytics"
	"content-autopilot/internal/usecase/dispatch"
	"content-autopilot/internal/usecase/ranking"
	"content-autopilot/internal/usecase/refine"
	"content-autopilot/internal/usecase/schedule"
	"content-autopilot/internal/usecase/strategy"
	"content-autopilot/internal/usecase/timeslot"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)
	log := loginfra.Component(logger, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	pg := repo.NewPostgres(pool)
	users := pg.Users()
	variants := pg.Variants()
	slots := pg.Slots()
	samples := pg.Samples()
	models := pg.Models()
	growth := pg.Growth()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	appCache := cache.NewRedis(redisClient)

	var retrainQueue domain.RetrainQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitRetrainQueue(cfg.RabbitURL, cfg.Queues.Retrain)
		if err != nil {
			log.Fatal().Err(err).Msg("api: нет подключения к брокеру")
		}
		defer rabbit.Close()
		retrainQueue = rabbit
	} else {
		retrainQueue = queue.NewRedisRetrainQueue(redisClient, cfg.Queues.Retrain)
	}

	var gen domain.Generator
	if cfg.OpenAI.APIKey != "" {
		client := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		gen = generator.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	} else {
		gen = generator.NewSimple()
	}

	linkedinPublisher := publisher.NewLinkedIn(cfg.LinkedIn.BaseURL, cfg.LinkedIn.Timeout)

	modelStore := timeslot.NewStore()
	predictor := timeslot.NewService(modelStore, models, slots, loginfra.Component(logger, "predictor"), timeslot.Options{
		Horizon:        time.Duration(cfg.Predictor.HorizonDays) * 24 * time.Hour,
		MinSpacing:     cfg.Predictor.MinSpacing,
		MinSamples:     cfg.Predictor.MinSamples,
		StaleThreshold: cfg.Predictor.StaleThreshold,
	})

	ranker := ranking.NewService(variants, scorer.NewSimple(200), cfg.Ranking.TopK)
	scheduler := schedule.NewService(slots, variants)
	dispatcher := dispatch.NewService(slots, variants, users, linkedinPublisher, loginfra.Component(logger, "dispatch"), dispatch.Options{
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		ReclaimAfter:   cfg.Dispatch.ReclaimAfter,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
	})
	analyticsSvc := analytics.NewService(samples, growth, users)
	refiner := refine.NewService(samples, models, users, variants, slots, modelStore, appCache, retrainQueue, loginfra.Component(logger, "refine"), refine.Options{
		HalfLifeDays: cfg.Predictor.HalfLifeDays,
		TopicWindow:  time.Duration(cfg.Ranking.DiversityWindow) * 24 * time.Hour,
	})
	strategySvc := strategy.NewService(users, trends.NewStatic(), analyticsSvc, predictor)

	api := &apiHandler{
		users:     users,
		variants:  variants,
		gen:       gen,
		ranker:    ranker,
		scheduler: scheduler,
		predictor: predictor,
		dispatch:  dispatcher,
		analytics: analyticsSvc,
		refiner:   refiner,
		strategy:  strategySvc,
		log:       log,
	}

	srv := httpinfra.NewServer(loginfra.Component(logger, "http"))
	api.mount(srv.Router)

	metrics.StartServer(ctx, loginfra.Component(logger, "metrics"), cfg.MetricsAddr)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: некорректное завершение")
	}
}

type apiHandler struct {
	users     domain.UserRepo
	variants  domain.VariantRepo
	gen       domain.Generator
	ranker    *ranking.Service
	scheduler *schedule.Service
	predictor *timeslot.Service
	dispatch  *dispatch.Service
	analytics *analytics.Service
	refiner   *refine.Service
	strategy  *strategy.Service
	log       zerolog.Logger
}

func (h *apiHandler) mount(r chi.Router) {
	r.Post("/api/v1/content/generate", h.generateContent)
	r.Post("/api/v1/content/{postID}/rank", h.rankVariants)

	r.Post("/api/v1/schedule", h.enqueueSchedule)
	r.Patch("/api/v1/schedule/{postID}", h.reschedule)
	r.Delete("/api/v1/schedule/slots/{slotID}", h.cancelSlot)
	r.Get("/api/v1/schedule/calendar", h.calendar)
	r.Get("/api/v1/schedule/suggest", h.suggestSlots)

	r.Post("/api/v1/publish/dispatch", h.dispatchNow)
	r.Get("/api/v1/publish/status/{postID}", h.publishStatus)

	r.Post("/api/v1/analytics/ingest", h.ingestSamples)
	r.Get("/api/v1/analytics/summary", h.engagementSummary)
	r.Get("/api/v1/analytics/growth", h.growthHistory)

	r.Get("/api/v1/strategy/recommendations", h.strategyRecommendations)
	r.Post("/api/v1/strategy/update", h.updateStrategy)
}

type generateRequest struct {
	UserID       string `json:"user_id"`
	Topic        string `json:"topic"`
	VariantCount int    `json:"variant_count"`
}

func (h *apiHandler) generateContent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	user, err := h.users.Get(r.Context(), req.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	variants, err := h.gen.Generate(r.Context(), user, req.Topic, req.VariantCount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.variants.SaveBatch(r.Context(), variants); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"post_id":  variants[0].PostID,
		"variants": toVariantResponses(variants),
	})
}

type rankRequest struct {
	Niche string `json:"niche"`
}

func (h *apiHandler) rankVariants(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	postID := chi.URLParam(r, "postID")
	var req rankRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	batch, err := h.variants.ListByPost(r.Context(), postID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusNotFound, "variants not found")
		return
	}

	niche := req.Niche
	if niche == "" {
		if user, err := h.users.Get(r.Context(), batch[0].UserID); err == nil {
			niche = user.Niche
		}
	}
	bctx := ranking.BatchContext{
		Niche:        niche,
		RecentTopics: h.refiner.RecentTopics(r.Context(), batch[0].UserID),
	}
	ranked, err := h.ranker.Rank(r.Context(), batch, bctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"variants": toVariantResponses(ranked)})
}

type enqueueRequest struct {
	PostID      string     `json:"post_id"`
	UserID      string     `json:"user_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (h *apiHandler) enqueueSchedule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PostID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "post_id and user_id are required")
		return
	}

	at := time.Time{}
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	} else {
		suggestions, err := h.predictor.SuggestSlots(r.Context(), req.UserID, 1, time.Now().UTC(), false)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		at = suggestions[0].At
	}

	slot, err := h.scheduler.Enqueue(r.Context(), req.PostID, req.UserID, at)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, toSlotResponse(slot))
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (h *apiHandler) reschedule(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	postID := chi.URLParam(r, "postID")
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	slot, err := h.scheduler.Reschedule(r.Context(), postID, req.ScheduledAt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, toSlotResponse(slot))
}

func (h *apiHandler) cancelSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	if err := h.scheduler.Cancel(r.Context(), slotID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) calendar(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	slots, err := h.scheduler.Calendar(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, toSlotResponse(slot))
	}
	writeJSON(w, map[string]any{"slots": out})
}

func (h *apiHandler) suggestSlots(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	suggestions, err := h.predictor.SuggestSlots(r.Context(), userID, count, time.Now().UTC(), false)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	type suggestionResponse struct {
		At         time.Time `json:"at"`
		Confidence float64   `json:"confidence"`
		ColdStart  bool      `json:"cold_start"`
	}
	out := make([]suggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, suggestionResponse{At: s.At, Confidence: s.Confidence, ColdStart: s.ColdStart})
	}
	writeJSON(w, map[string]any{"suggestions": out})
}

func (h *apiHandler) dispatchNow(w http.ResponseWriter, r *http.Request) {
	published, err := h.dispatch.RunCycle(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int{"published": published})
}

func (h *apiHandler) publishStatus(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	slot, err := h.scheduler.Status(r.Context(), postID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, toSlotResponse(slot))
}

type sampleRequest struct {
	PostID        string    `json:"post_id"`
	UserID        string    `json:"user_id"`
	PublishedAt   time.Time `json:"published_at"`
	SampledAt     time.Time `json:"sampled_at"`
	Impressions   int       `json:"impressions"`
	Likes         int       `json:"likes"`
	Comments      int       `json:"comments"`
	Shares        int       `json:"shares"`
	FollowerDelta int       `json:"follower_delta"`
}

func (h *apiHandler) ingestSamples(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Samples []sampleRequest `json:"samples"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	samples := make([]domain.EngagementSample, 0, len(req.Samples))
	for _, s := range req.Samples {
		sampledAt := s.SampledAt
		if sampledAt.IsZero() {
			sampledAt = time.Now().UTC()
		}
		samples = append(samples, domain.EngagementSample{
			PostID:        s.PostID,
			UserID:        s.UserID,
			PublishedAt:   s.PublishedAt,
			SampledAt:     sampledAt,
			Impressions:   s.Impressions,
			Likes:         s.Likes,
			Comments:      s.Comments,
			Shares:        s.Shares,
			FollowerDelta: s.FollowerDelta,
		})
	}
	accepted, err := h.refiner.Ingest(r.Context(), samples)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int{"accepted": accepted})
}

func (h *apiHandler) engagementSummary(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	summary, err := h.analytics.Summary(r.Context(), userID, days)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"total_impressions":   summary.TotalImpressions,
		"total_likes":         summary.TotalLikes,
		"total_comments":      summary.TotalComments,
		"total_shares":        summary.TotalShares,
		"avg_engagement_rate": summary.AvgEngagementRate,
		"best_posting_day":    summary.BestPostingDay.String(),
		"best_posting_hour":   summary.BestPostingHour,
		"top_posts":           summary.TopPosts,
	})
}

func (h *apiHandler) growthHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	snapshots, err := h.analytics.GrowthHistory(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"snapshots": snapshots})
}

func (h *apiHandler) strategyRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	rec, err := h.strategy.Recommendations(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, rec)
}

type strategyUpdateRequest struct {
	UserID       string `json:"user_id"`
	ToneStyle    string `json:"tone_style"`
	ContentGoals string `json:"content_goals"`
}

func (h *apiHandler) updateStrategy(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req strategyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.strategy.UpdatePreferences(r.Context(), req.UserID, req.ToneStyle, req.ContentGoals); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeDomainError переводит доменные ошибки в HTTP статусы.
func (h *apiHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrSlotNotFound),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrModelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflictingSchedule),
		errors.Is(err, domain.ErrSlotTerminal),
		errors.Is(err, domain.ErrSlotDispatching):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoViableSlot):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type variantResponse struct {
	VariantID      string   `json:"variant_id"`
	PostID         string   `json:"post_id"`
	Topic          string   `json:"topic"`
	Format         string   `json:"format"`
	Hook           string   `json:"hook"`
	Body           string   `json:"body"`
	CTA            string   `json:"cta"`
	Hashtags       []string `json:"hashtags"`
	PredictedScore float64  `json:"predicted_score"`
	Status         string   `json:"status"`
}

func toVariantResponses(variants []domain.ContentVariant) []variantResponse {
	out := make([]variantResponse, 0, len(variants))
	for _, v := range variants {
		out = append(out, variantResponse{
			VariantID:      v.VariantID,
			PostID:         v.PostID,
			Topic:          v.Topic,
			Format:         v.Format,
			Hook:           v.Hook,
			Body:           v.Body,
			CTA:            v.CTA,
			Hashtags:       v.Hashtags,
			PredictedScore: v.PredictedScore,
			Status:         string(v.Status),
		})
	}
	return out
}

type slotResponse struct {
	SlotID         string     `json:"slot_id"`
	PostID         string     `json:"post_id"`
	UserID         string     `json:"user_id"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	State          string     `json:"state"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	ExternalPostID string     `json:"external_post_id,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

func toSlotResponse(slot domain.ScheduleSlot) slotResponse {
	return slotResponse{
		SlotID:         slot.SlotID,
		PostID:         slot.PostID,
		UserID:         slot.UserID,
		ScheduledAt:    slot.ScheduledAt,
		State:          string(slot.State),
		Attempts:       slot.Attempts,
		LastError:      slot.LastError,
		ExternalPostID: slot.ExternalPostID,
		PublishedAt:    slot.PublishedAt,
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
