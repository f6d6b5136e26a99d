package services

import (
	"context"
	"fmt"
	"time"

	"subscription-api/internal/models"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoService sends transactional email through Brevo.
type BrevoService struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
	appName   string
}

// NewBrevoService creates a Brevo sender. It returns nil when apiKey is empty
// so callers can treat email as disabled.
func NewBrevoService(apiKey, fromEmail, fromName, appName string) *BrevoService {
	if apiKey == "" || fromEmail == "" {
		return nil
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoService{
		client:    brevo.NewAPIClient(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		appName:   appName,
	}
}

// NotifyTrialEnding sends the trial ending notice for subscription to user.
func (s *BrevoService) NotifyTrialEnding(ctx context.Context, user *models.User, subscription *models.Subscription) error {
	if user == nil || user.Email == "" {
		return fmt.Errorf("no email address for user")
	}

	subject, html, text := trialEndingContent(s.appName, subscription.CurrentPeriodEnd)
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: user.Email},
		},
		Subject:     subject,
		HtmlContent: html,
		TextContent: text,
	}

	if _, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("brevo send to %s: %w", user.Email, err)
	}
	return nil
}

func trialEndingContent(appName string, trialEnd time.Time) (subject, html, text string) {
	day := trialEnd.UTC().Format("January 2, 2006")
	subject = fmt.Sprintf("Your %s trial ends soon", appName)
	html = fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="UTF-8">
			<title>%s</title>
		</head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px; text-align: center;">
				<h1 style="color: #333; margin-bottom: 20px;">Your trial ends on %s</h1>
				<p style="color: #666; font-size: 16px;">Your subscription will start billing automatically when the trial ends.</p>
				<p style="color: #999; font-size: 14px; margin-top: 20px;">You can cancel any time from your account page.</p>
			</div>
		</body>
		</html>
	`, subject, day)
	text = fmt.Sprintf("Your %s trial ends on %s.\n\nYour subscription will start billing automatically when the trial ends. You can cancel any time from your account page.\n", appName, day)
	return subject, html, text
}
