package services

import (
	"context"
	"strings"

	"github.com/charlesng35/idcore/pkg/mail"
)

// MailQueue accepts outbound messages for asynchronous delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, msg mail.Message) error
}

// RequestMeta describes the client behind a workflow call.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
