package notification

import "context"

// Channel - канал доставки уведомлений (лог, Redis, внешний push).
type Channel interface {
	// Name возвращает имя канала для логов.
	Name() string

	// Send доставляет сообщение.
	Send(ctx context.Context, msg Message) error
}
