package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// LogMailer writes messages to the log instead of delivering them. Used when
// SMTP is disabled so verification codes remain reachable in development.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer returns a Mailer that logs every message at info level.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.Info("mail not delivered (smtp disabled)",
		zap.String("to", strings.Join(msg.To, ",")),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
