package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes each change set as one structured log record.
type LogNotifier struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLogNotifier logs at Info level to logger, or slog.Default() if nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger, Level: slog.LevelInfo}
}

// Notify logs cs.
func (n *LogNotifier) Notify(ctx context.Context, cs ChangeSet) {
	attrs := []slog.Attr{
		slog.String("id", cs.ID),
		slog.Int64("seq", cs.Seq),
		slog.String("rule", cs.Rule),
		slog.Any("affected", cs.Affected),
	}
	if cs.RecipientRemap != nil {
		attrs = append(attrs, slog.Group("recipient_remap",
			slog.Int64("old", int64(cs.RecipientRemap.Old)),
			slog.Int64("new", int64(cs.RecipientRemap.New))))
	}
	if cs.ThreadRemap != nil {
		attrs = append(attrs, slog.Group("thread_remap",
			slog.Int64("old", int64(cs.ThreadRemap.Old)),
			slog.Int64("new", int64(cs.ThreadRemap.New))))
	}
	if !cs.ChangedNumber.IsZero() {
		attrs = append(attrs, slog.Int64("changed_number", int64(cs.ChangedNumber)))
	}
	n.Logger.LogAttrs(ctx, n.Level, "recipients changed", attrs...)
}
