package apperr

import (
	"errors"
	"fmt"
)

// Kind — категория бизнес-ошибки, по которой транспортный слой выбирает HTTP-статус.
// Внутренние детали (тексты драйвера БД и т.п.) наружу не выходят.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindFailedPrecondition
	KindPermissionDenied
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindFailedPrecondition:
		return "failed_precondition"
	case KindPermissionDenied:
		return "permission_denied"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error — ошибка с категорией и сообщением для вызывающей стороны
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap сохраняет исходную ошибку для логов, наружу уходит только категория и сообщение
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error           { return New(KindNotFound, message) }
func Conflict(message string) *Error           { return New(KindConflict, message) }
func FailedPrecondition(message string) *Error { return New(KindFailedPrecondition, message) }
func PermissionDenied(message string) *Error   { return New(KindPermissionDenied, message) }
func Unavailable(message string) *Error        { return New(KindUnavailable, message) }

// KindOf извлекает категорию из цепочки ошибок; KindUnknown, если её там нет
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf возвращает безопасное для клиента сообщение
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is позволяет сравнивать ошибки по категории через errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}
