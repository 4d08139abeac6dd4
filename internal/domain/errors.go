package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidBatch возвращается, если на ранжирование пришли варианты разных постов.
var ErrInvalidBatch = errors.New("варианты принадлежат разным постам или пользователям")

// ErrNoViableSlot возвращается, если в горизонте не осталось ни одного кандидата.
var ErrNoViableSlot = errors.New("нет доступного времени публикации в горизонте")

// ErrConflictingSchedule возвращается при попытке запланировать пост повторно.
var ErrConflictingSchedule = errors.New("у поста уже есть активный слот публикации")

// ErrSlotTerminal возвращается при попытке изменить завершённый слот.
var ErrSlotTerminal = errors.New("слот в терминальном состоянии")

// ErrSlotDispatching возвращается при отмене слота, который уже публикуется.
var ErrSlotDispatching = errors.New("слот захвачен диспетчером, дождитесь результата")

// ErrSlotNotFound возвращается, если слот не существует.
var ErrSlotNotFound = errors.New("слот не найден")

// ErrVariantNotFound возвращается, если у поста нет выбранного варианта.
var ErrVariantNotFound = errors.New("вариант не найден")

// ErrUserNotFound возвращается, если пользователь не существует.
var ErrUserNotFound = errors.New("пользователь не найден")

// ErrModelNotFound возвращается, если модель пользователя ещё не обучена.
var ErrModelNotFound = errors.New("модель предсказателя не обучена")

// PublishError описывает сбой внешней платформы публикации.
// Такие сбои считаются временными и повторяются по политике ретраев.
type PublishError struct {
	StatusCode int
	Message    string
}

// Error реализует error.
func (e *PublishError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("публикация отклонена: статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("публикация не удалась: %s", e.Message)
}
