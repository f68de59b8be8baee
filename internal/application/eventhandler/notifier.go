// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения прогресса и запускают побочные эффекты:
// уведомления и освобождение таймеров, захваченных другим инстансом.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/focus-quest/internal/domain/notification"
	"github.com/alem-hub/focus-quest/internal/domain/progression"
	"github.com/alem-hub/focus-quest/pkg/circuitbreaker"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION GATEWAY
// Ядро вызывает только этот интерфейс; доставка - забота каналов.
// ═══════════════════════════════════════════════════════════════════════════

// Notifier - шлюз уведомлений пользователя.
type Notifier interface {
	// SessionCompleted сообщает о засчитанной сессии.
	SessionCompleted(ctx context.Context, userID string, duration time.Duration, earnedExp float64) error

	// LeveledUp сообщает о новом уровне.
	LeveledUp(ctx context.Context, userID string, newLevel int) error

	// SessionRejected сообщает, что сессия не засчитана из-за фона.
	SessionRejected(ctx context.Context, userID string, background, maxAllowed time.Duration) error

	// CompanionUnlocked сообщает о новом компаньоне.
	CompanionUnlocked(ctx context.Context, userID, companionID string) error
}

// ChannelNotifierConfig содержит зависимости ChannelNotifier.
type ChannelNotifierConfig struct {
	Channels []notification.Channel

	// Tiers и Catalog обогащают тексты названием трофея и именем компаньона.
	Tiers   *progression.TierTable
	Catalog *progression.Catalog

	// Retrier для одной доставки (nil = retry.NotifierRetrier()).
	Retrier *retry.Retrier

	Now    func() time.Time
	Logger *slog.Logger
}

// ChannelNotifier строит notification.Message и рассылает его по каналам.
// Каждый канал защищён своим circuit breaker.
type ChannelNotifier struct {
	channels []notification.Channel
	breakers map[string]*circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	tiers    *progression.TierTable
	catalog  *progression.Catalog
	now      func() time.Time
	logger   *slog.Logger
}

// NewChannelNotifier создаёт notifier.
func NewChannelNotifier(cfg ChannelNotifierConfig) *ChannelNotifier {
	if cfg.Retrier == nil {
		cfg.Retrier = retry.NotifierRetrier()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "notifier")

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channel := ch.Name()
		breakers[channel] = circuitbreaker.NotifierBreaker(func(_ string, from, to circuitbreaker.State) {
			logger.Warn("notification channel breaker changed",
				"channel", channel,
				"from", from.String(),
				"to", to.String(),
			)
		})
	}

	return &ChannelNotifier{
		channels: cfg.Channels,
		breakers: breakers,
		retrier:  cfg.Retrier,
		tiers:    cfg.Tiers,
		catalog:  cfg.Catalog,
		now:      cfg.Now,
		logger:   logger,
	}
}

// SessionCompleted реализует Notifier.
func (n *ChannelNotifier) SessionCompleted(ctx context.Context, userID string, duration time.Duration, earnedExp float64) error {
	return n.deliver(ctx, notification.SessionCompleted(userID, duration, earnedExp, n.now()))
}

// LeveledUp реализует Notifier.
func (n *ChannelNotifier) LeveledUp(ctx context.Context, userID string, newLevel int) error {
	tierName := ""
	if n.tiers != nil {
		tierName = n.tiers.Resolve(newLevel).String()
	}
	return n.deliver(ctx, notification.LeveledUp(userID, newLevel, tierName, n.now()))
}

// SessionRejected реализует Notifier.
func (n *ChannelNotifier) SessionRejected(ctx context.Context, userID string, background, maxAllowed time.Duration) error {
	return n.deliver(ctx, notification.SessionRejected(userID, background, maxAllowed, n.now()))
}

// CompanionUnlocked реализует Notifier.
func (n *ChannelNotifier) CompanionUnlocked(ctx context.Context, userID, companionID string) error {
	name := ""
	if n.catalog != nil {
		if c, ok := n.catalog.Get(companionID); ok {
			name = c.Name
		}
	}
	return n.deliver(ctx, notification.CompanionUnlocked(userID, companionID, name, n.now()))
}

// deliver отправляет сообщение во все каналы и объединяет ошибки.
func (n *ChannelNotifier) deliver(ctx context.Context, msg notification.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, ch := range n.channels {
		breaker := n.breakers[ch.Name()]
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			return n.retrier.Do(ctx, func(ctx context.Context) error {
				return ch.Send(ctx, msg)
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
			continue
		}

		n.logger.Debug("notification delivered",
			"channel", ch.Name(),
			"type", msg.Type,
			"user_id", msg.UserID,
		)
	}
	return errors.Join(errs...)
}

// NopNotifier ничего не отправляет.
type NopNotifier struct{}

// SessionCompleted реализует Notifier.
func (NopNotifier) SessionCompleted(context.Context, string, time.Duration, float64) error {
	return nil
}

// LeveledUp реализует Notifier.
func (NopNotifier) LeveledUp(context.Context, string, int) error { return nil }

// SessionRejected реализует Notifier.
func (NopNotifier) SessionRejected(context.Context, string, time.Duration, time.Duration) error {
	return nil
}

// CompanionUnlocked реализует Notifier.
func (NopNotifier) CompanionUnlocked(context.Context, string, string) error { return nil }
