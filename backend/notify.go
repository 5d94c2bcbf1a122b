package main

import (
	"context"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// EmailSender delivers plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type sendGridSender struct {
	client *sendgrid.Client
	from   string
}

func newSendGridSender(apiKey, from string) *sendGridSender {
	return &sendGridSender{client: sendgrid.NewSendClient(apiKey), from: from}
}

func (s *sendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail("Roommate Finder", s.from),
		subject,
		mail.NewEmail("", to),
		body,
		"",
	)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

type twilioSender struct {
	client *twilio.RestClient
	from   string
}

func newTwilioSender(accountSID, authToken, from string) *twilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &twilioSender{client: client, from: from}
}

func (s *twilioSender) SendSMS(_ context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}

// logSender prints messages instead of delivering them. Used in development.
type logSender struct{}

func (logSender) SendEmail(_ context.Context, to, subject, body string) error {
	log.Printf("[OTP] email to=%s subject=%q body=%q", to, subject, body)
	return nil
}

func (logSender) SendSMS(_ context.Context, to, body string) error {
	log.Printf("[OTP] sms to=%s body=%q", to, body)
	return nil
}

func newEmailSender(cfg *Config) EmailSender {
	if cfg.EmailProvider == "sendgrid" {
		return newSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom)
	}
	return logSender{}
}

func newSMSSender(cfg *Config) SMSSender {
	if cfg.SMSProvider == "twilio" {
		return newTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	return logSender{}
}
