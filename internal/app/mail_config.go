package app

import (
	"github.com/charlesng35/idcore/internal/mailqueue"
	"github.com/charlesng35/idcore/pkg/mail"
)

// SMTPSettings converts MailConfig to the mail package representation.
func (c MailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		FromName: c.SMTP.FromName,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// QueueConfig converts the retry policy into mail queue parameters. Zero
// values fall back to the queue defaults.
func (c MailConfig) QueueConfig() mailqueue.Config {
	return mailqueue.Config{
		Interval:    c.ProcessingInterval,
		MaxRetries:  c.MaxRetries,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		BatchSize:   c.BatchSize,
		Parallelism: c.Parallelism,
		SendTimeout: c.SendTimeout,
	}
}
