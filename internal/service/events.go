package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// Events receives order manager and scheduler state changes. Methods are
// called with the manager lock held and must not block.
type Events interface {
	OrderChanged(ctx context.Context, o domain.Order)
	PositionChanged(ctx context.Context, p domain.Position)
	PositionClosed(ctx context.Context, p domain.Position, rec domain.PnLRecord)
	KillSwitch(ctx context.Context, st domain.RiskState)
	FlattenFailed(ctx context.Context, p domain.Position, err error)
	MarketRotated(ctx context.Context, ev domain.MarketRotated)
}

// NopEvents discards everything.
type NopEvents struct{}

func (NopEvents) OrderChanged(context.Context, domain.Order)                        {}
func (NopEvents) PositionChanged(context.Context, domain.Position)                  {}
func (NopEvents) PositionClosed(context.Context, domain.Position, domain.PnLRecord) {}
func (NopEvents) KillSwitch(context.Context, domain.RiskState)                      {}
func (NopEvents) FlattenFailed(context.Context, domain.Position, error)             {}
func (NopEvents) MarketRotated(context.Context, domain.MarketRotated)               {}

// Fanout forwards every event to each member in order.
type Fanout []Events

func (f Fanout) OrderChanged(ctx context.Context, o domain.Order) {
	for _, e := range f {
		e.OrderChanged(ctx, o)
	}
}

func (f Fanout) PositionChanged(ctx context.Context, p domain.Position) {
	for _, e := range f {
		e.PositionChanged(ctx, p)
	}
}

func (f Fanout) PositionClosed(ctx context.Context, p domain.Position, rec domain.PnLRecord) {
	for _, e := range f {
		e.PositionClosed(ctx, p, rec)
	}
}

func (f Fanout) KillSwitch(ctx context.Context, st domain.RiskState) {
	for _, e := range f {
		e.KillSwitch(ctx, st)
	}
}

func (f Fanout) FlattenFailed(ctx context.Context, p domain.Position, err error) {
	for _, e := range f {
		e.FlattenFailed(ctx, p, err)
	}
}

func (f Fanout) MarketRotated(ctx context.Context, ev domain.MarketRotated) {
	for _, e := range f {
		e.MarketRotated(ctx, ev)
	}
}

// Broadcaster publishes state changes on the signal bus and queues operator
// alerts. Alerts are delivered by Run so senders never block the caller;
// when the queue is full the alert is dropped and logged.
type Broadcaster struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	alerts   chan notify.Alert
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster. Either bus or notifier may be nil.
func NewBroadcaster(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:      bus,
		notifier: notifier,
		alerts:   make(chan notify.Alert, 64),
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-b.alerts:
			if err := b.notifier.Notify(ctx, a); err != nil {
				b.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", a.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (b *Broadcaster) OrderChanged(ctx context.Context, o domain.Order) {
	b.publish(ctx, domain.ChannelOrders, o)
	if o.Status == domain.OrderStatusRejected {
		b.enqueue(ctx, notify.OrderRejected(o))
	}
}

func (b *Broadcaster) PositionChanged(ctx context.Context, p domain.Position) {
	b.publish(ctx, domain.ChannelPositions, p)
}

func (b *Broadcaster) PositionClosed(ctx context.Context, p domain.Position, rec domain.PnLRecord) {
	b.publish(ctx, domain.ChannelPositions, p)
	b.enqueue(ctx, notify.PositionClosed(p, rec))
}

func (b *Broadcaster) KillSwitch(ctx context.Context, st domain.RiskState) {
	b.publish(ctx, domain.ChannelRisk, st)
	b.enqueue(ctx, notify.KillSwitch(st))
}

func (b *Broadcaster) FlattenFailed(ctx context.Context, p domain.Position, err error) {
	b.enqueue(ctx, notify.Flatten(p, err))
}

func (b *Broadcaster) MarketRotated(ctx context.Context, ev domain.MarketRotated) {
	b.publish(ctx, domain.ChannelRotation, ev)
	b.enqueue(ctx, notify.Rotation(ev))
}

func (b *Broadcaster) publish(ctx context.Context, channel string, v any) {
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, channel, payload); err != nil {
		b.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// enqueue queues a for delivery. Alerts the notifier would filter out are
// skipped here so they do not take queue slots.
func (b *Broadcaster) enqueue(ctx context.Context, a notify.Alert) {
	if b.notifier == nil || !b.notifier.Enabled(a.Event) {
		return
	}
	select {
	case b.alerts <- a:
	default:
		b.logger.WarnContext(ctx, "alert queue full, dropping", slog.String("event", a.Event))
	}
}
