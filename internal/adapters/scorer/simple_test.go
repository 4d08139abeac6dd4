package scorer

import (
	"context"
	"math"
	"strings"
	"testing"

	"content-autopilot/internal/domain"
)

func TestScoreEmptyVariant(t *testing.T) {
	s := NewSimple(200)
	got, err := s.Score(context.Background(), domain.ContentVariant{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != 0 {
		t.Fatalf("пустой вариант должен получать ноль, получили %f", got)
	}
}

func TestScoreFullVariant(t *testing.T) {
	s := NewSimple(10)
	variant := domain.ContentVariant{
		Hook:     "Почему ваши посты не работают?",
		Body:     strings.Repeat("слово ", 10),
		CTA:      "Напишите в комментариях",
		Hashtags: []string{"a", "b", "c", "d", "e"},
	}
	got, err := s.Score(context.Background(), variant)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("идеальный вариант должен получать единицу, получили %f", got)
	}
}

func TestScoreHookQuestionBeatsPlain(t *testing.T) {
	s := NewSimple(200)
	plain, _ := s.Score(context.Background(), domain.ContentVariant{Hook: "Обычный заголовок"})
	question, _ := s.Score(context.Background(), domain.ContentVariant{Hook: "А вы это знали?"})
	if question <= plain {
		t.Fatalf("вопросительный крючок должен оцениваться выше: %f <= %f", question, plain)
	}
}

func TestScoreLengthCapped(t *testing.T) {
	s := NewSimple(10)
	short, _ := s.Score(context.Background(), domain.ContentVariant{Body: strings.Repeat("слово ", 10)})
	long, _ := s.Score(context.Background(), domain.ContentVariant{Body: strings.Repeat("слово ", 100)})
	if long > short {
		t.Fatalf("длина сверх цели не должна добавлять баллов: %f > %f", long, short)
	}
}

func TestScoreHashtagOveruse(t *testing.T) {
	s := NewSimple(200)
	tags := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "tag"
		}
		return out
	}
	ideal, _ := s.Score(context.Background(), domain.ContentVariant{Hashtags: tags(5)})
	overloaded, _ := s.Score(context.Background(), domain.ContentVariant{Hashtags: tags(9)})
	extreme, _ := s.Score(context.Background(), domain.ContentVariant{Hashtags: tags(20)})
	if overloaded >= ideal {
		t.Fatalf("перебор хэштегов должен штрафоваться: %f >= %f", overloaded, ideal)
	}
	if extreme != 0 {
		t.Fatalf("запредельное число хэштегов обнуляет компонент: %f", extreme)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewSimple(200)
	variant := domain.ContentVariant{
		Hook:     "Заголовок!",
		Body:     "Короткий текст о продукте",
		CTA:      "Подписывайтесь",
		Hashtags: []string{"growth", "saas"},
	}
	first, _ := s.Score(context.Background(), variant)
	for i := 0; i < 5; i++ {
		got, _ := s.Score(context.Background(), variant)
		if got != first {
			t.Fatalf("оценка недетерминирована: %f != %f", got, first)
		}
	}
}
