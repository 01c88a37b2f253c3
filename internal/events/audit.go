package events

import (
	"context"
	"log/slog"

	"cryptonite/pkg/logger"
)

// AuditNotifier 将事件写入审计日志。
type AuditNotifier struct {
	Logger *slog.Logger
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 写入一条审计记录。
func (n *AuditNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []slog.Attr{
		slog.String("type", event.Type),
		slog.String("descriptor_id", event.DescriptorID),
		slog.String("kind", event.Kind),
		slog.String("status", event.Status),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.Signature != "" {
		attrs = append(attrs, slog.String("signature", event.Signature))
	}
	if event.Explorer != "" {
		attrs = append(attrs, slog.String("explorer", event.Explorer))
	}
	level := slog.LevelInfo
	if event.Code != "" {
		attrs = append(attrs,
			slog.String("code", string(event.Code)),
			slog.String("error", event.Message),
			slog.String("severity", string(event.Severity)),
			slog.Bool("retryable", event.Retryable))
	}
	if event.Alert {
		level = slog.LevelWarn
		attrs = append(attrs, slog.Bool("alert", true))
	}
	log.LogAttrs(ctx, level, "transaction outcome", attrs...)
	return nil
}
