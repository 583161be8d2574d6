package notify

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultResendURL = "https://api.resend.com/emails"
	defaultTwilioURL = "https://api.twilio.com/2010-04-01"
)

// EmailSender posts alerts to the Resend API.
type EmailSender struct {
	APIKey   string
	From     string
	To       []string
	Endpoint string
}

func (s *EmailSender) Channel() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, a Alert) error {
	who := a.CustomerName
	if who == "" {
		who = a.ConversationKey
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<p><strong>%s</strong> (%s)</p>", html.EscapeString(who), html.EscapeString(a.ConversationKey))
	fmt.Fprintf(&b, "<blockquote>%s</blockquote>", html.EscapeString(a.Preview))
	if a.DashboardURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Open conversation</a></p>`, html.EscapeString(a.DashboardURL))
	}

	agent := fiber.Post(endpoint(s.Endpoint, defaultResendURL))
	agent.Set(fiber.HeaderAuthorization, "Bearer "+s.APIKey)
	agent.JSON(fiber.Map{
		"from":    s.From,
		"to":      s.To,
		"subject": "New support message: " + who,
		"html":    b.String(),
	})
	return do(ctx, agent)
}

// SMSSender posts alerts to the Twilio Messages API.
type SMSSender struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	BaseURL    string
}

func (s *SMSSender) Channel() string { return "sms" }

func (s *SMSSender) Send(ctx context.Context, a Alert) error {
	who := a.CustomerName
	if who == "" {
		who = a.ConversationKey
	}
	form := url.Values{}
	form.Set("From", s.From)
	form.Set("To", s.To)
	form.Set("Body", fmt.Sprintf("Support: new message from %s: %s", who, a.Preview))

	base := strings.TrimRight(endpoint(s.BaseURL, defaultTwilioURL), "/")
	agent := fiber.Post(base + "/Accounts/" + url.PathEscape(s.AccountSID) + "/Messages.json")
	agent.BasicAuth(s.AccountSID, s.AuthToken)
	agent.ContentType(fiber.MIMEApplicationForm)
	agent.Body([]byte(form.Encode()))
	return do(ctx, agent)
}

func endpoint(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func do(ctx context.Context, agent *fiber.Agent) error {
	timeout := sendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return ctx.Err()
		}
	}
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return err
	}
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("status %d: %s", code, strings.TrimSpace(string(body)))
	}
	return nil
}
