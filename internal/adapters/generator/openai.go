package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"content-autopilot/internal/domain"
	openai "content-autopilot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует генератор вариантов через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт генератор.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type variantPayload struct {
	Variants []struct {
		Hook     string   `json:"hook"`
		Body     string   `json:"body"`
		CTA      string   `json:"cta"`
		Hashtags []string `json:"hashtags"`
		Format   string   `json:"format"`
	} `json:"variants"`
}

// Generate реализует domain.Generator.
func (g *OpenAI) Generate(ctx context.Context, user domain.User, topic string, variantCount int) ([]domain.ContentVariant, error) {
	if topic == "" {
		topic = user.Niche
	}
	if variantCount <= 0 {
		variantCount = 3
	}
	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Подготовь %d вариантов профессионального поста на тему «%s».
Ниша автора: %s. Тон: %s. Аудитория: %s.
Верни JSON формата {"variants": [{"hook": "...", "body": "...", "cta": "...", "hashtags": ["..."], "format": "thought_leadership|story|insight|hook|carousel"}]} без пояснений.`,
		variantCount, topic, user.Niche, user.ToneStyle, user.TargetAudience)

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   1500,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты контент-стратег деловой социальной сети. Пиши по-деловому, без воды.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(genCtx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: пустой ответ")
	}
	var parsed variantPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	if len(parsed.Variants) == 0 {
		return nil, fmt.Errorf("openai completion: нет вариантов в ответе")
	}

	postID := uuid.NewString()
	now := time.Now().UTC()
	variants := make([]domain.ContentVariant, 0, len(parsed.Variants))
	for _, v := range parsed.Variants {
		format := v.Format
		if format == "" {
			format = "insight"
		}
		variants = append(variants, domain.ContentVariant{
			VariantID: uuid.NewString(),
			PostID:    postID,
			UserID:    user.ID,
			Topic:     topic,
			Format:    format,
			Hook:      strings.TrimSpace(v.Hook),
			Body:      strings.TrimSpace(v.Body),
			CTA:       strings.TrimSpace(v.CTA),
			Hashtags:  v.Hashtags,
			Status:    domain.VariantCandidate,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return variants, nil
}
