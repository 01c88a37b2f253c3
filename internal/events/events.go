package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	xerrors "cryptonite/internal/errors"
)

// Channel 表示事件投递渠道。
type Channel string

// 支持的投递渠道
const (
	ChannelAudit    Channel = "audit"
	ChannelRabbitMQ Channel = "rabbitmq"
)

// TypeTransactionOutcome 是执行器完成一次交易后发布的事件类型。
const TypeTransactionOutcome = "transaction.outcome"

// Event 描述一次交易执行的结果。
type Event struct {
	Type         string            `json:"type"`
	DescriptorID string            `json:"descriptor_id"`
	Kind         string            `json:"kind"`
	Status       string            `json:"status"`
	Signature    string            `json:"signature,omitempty"`
	Explorer     string            `json:"explorer,omitempty"`
	Code         xerrors.Code      `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
	Severity     xerrors.Severity  `json:"severity,omitempty"`
	Retryable    bool              `json:"retryable,omitempty"`
	Alert        bool              `json:"alert,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Notifier 把结果事件写到某一个渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 是执行器看到的事件出口。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 按注册顺序投递事件。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 过滤 nil 通知器，同一渠道只保留第一个。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	seen := make(map[Channel]struct{}, len(notifiers))
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, dup := seen[n.Channel()]; dup {
			continue
		}
		seen[n.Channel()] = struct{}{}
		set = append(set, n)
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道，单个渠道失败不影响其他渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		out = append(out, n.Channel())
	}
	return out
}
