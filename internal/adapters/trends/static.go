package trends

import (
	"context"
	"strings"
)

var nicheTopics = map[string][]string{
	"saas": {
		"метрики удержания в SaaS",
		"ценообразование по ценности",
		"product-led growth",
		"работа с оттоком клиентов",
	},
	"marketing": {
		"контент-воронки в B2B",
		"личный бренд основателя",
		"performance-маркетинг без бюджета",
		"email как канал роста",
	},
	"engineering": {
		"инженерная культура в распределённых командах",
		"наблюдаемость production-систем",
		"техдолг как управленческое решение",
		"карьера инженера после senior",
	},
}

var genericTopics = []string{
	"уроки провалившегося проекта",
	"как устроен мой рабочий день",
	"главная ошибка прошлого квартала",
	"инструменты, которые экономят время",
	"наём первых сотрудников",
	"работа с обратной связью клиентов",
	"стратегия на следующий квартал",
}

// StaticSource отдаёт курируемые темы по ключевым словам ниши.
// Используется как детерминированная замена внешнего источника трендов.
type StaticSource struct{}

// NewStatic создаёт источник.
func NewStatic() *StaticSource {
	return &StaticSource{}
}

// TrendingTopics реализует domain.TrendSource.
func (s *StaticSource) TrendingTopics(ctx context.Context, niche string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	lower := strings.ToLower(niche)
	topics := make([]string, 0, limit)
	for _, key := range []string{"saas", "marketing", "engineering"} {
		if strings.Contains(lower, key) {
			topics = append(topics, nicheTopics[key]...)
			break
		}
	}
	topics = append(topics, genericTopics...)
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}
