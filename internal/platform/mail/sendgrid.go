package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/services"
)

const defaultFromName = "Farmstall"

type sender interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridMailer delivers order confirmations through the SendGrid v3 API.
type SendGridMailer struct {
	client   sender
	from     *sgmail.Email
	logger   *zap.Logger
	currency string
}

var _ services.OrderMailer = (*SendGridMailer)(nil)

// Option customises a SendGridMailer.
type Option func(*SendGridMailer)

// WithLogger overrides the mailer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *SendGridMailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCurrencySymbol sets the prefix used when rendering amounts.
func WithCurrencySymbol(symbol string) Option {
	return func(m *SendGridMailer) {
		m.currency = symbol
	}
}

// NewSendGridMailer constructs a mailer for apiKey sending from fromAddress.
func NewSendGridMailer(apiKey, fromAddress, fromName string, opts ...Option) (*SendGridMailer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("sendgrid mailer: api key is required")
	}
	return newMailer(sendgrid.NewSendClient(apiKey), fromAddress, fromName, opts...)
}

func newMailer(client sender, fromAddress, fromName string, opts ...Option) (*SendGridMailer, error) {
	fromAddress = strings.TrimSpace(fromAddress)
	if fromAddress == "" {
		return nil, errors.New("sendgrid mailer: from address is required")
	}
	if strings.TrimSpace(fromName) == "" {
		fromName = defaultFromName
	}
	m := &SendGridMailer{
		client:   client,
		from:     sgmail.NewEmail(fromName, fromAddress),
		logger:   zap.NewNop(),
		currency: "₱",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendOrderConfirmation mails the order summary to user.
func (m *SendGridMailer) SendOrderConfirmation(ctx context.Context, user services.SessionUser, order services.Order) error {
	to := strings.TrimSpace(user.Email)
	if to == "" {
		to = order.UserEmail
	}
	if to == "" {
		return errors.New("sendgrid mailer: recipient is empty")
	}

	subject := fmt.Sprintf("Order #%s received", order.ID)
	plain := m.renderPlain(user, order)
	message := sgmail.NewSingleEmail(
		m.from,
		subject,
		sgmail.NewEmail(user.Name, to),
		plain,
		"<pre>"+html.EscapeString(plain)+"</pre>",
	)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		m.logger.Warn("sendgrid rejected message",
			zap.Int("status", response.StatusCode),
			zap.String("orderID", order.ID),
		)
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	m.logger.Info("order confirmation sent",
		zap.Int("status", response.StatusCode),
		zap.String("orderID", order.ID),
	)
	return nil
}

func (m *SendGridMailer) renderPlain(user services.SessionUser, order services.Order) string {
	var b strings.Builder
	name := user.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Thanks for your order #%s placed on %s.\n\n", order.ID, order.Date.UTC().Format("2006-01-02"))
	for _, item := range order.Items {
		line := fmt.Sprintf("- %s x%d @ %s%s", item.Name, item.EffectiveQuantity(), m.currency, item.Price.StringFixed(2))
		if item.HasBulkDiscount {
			line += " (bulk discount)"
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "\nTotal: %s%s\nStatus: %s\n", m.currency, order.Total.StringFixed(2), order.Status)
	return b.String()
}
