package services

import (
	"context"
	"sync"

	"github.com/farmstall/api/internal/platform/textutil"
)

const maxNotificationLength = 200

// NotificationCollector gathers the toasts and cart badge updates raised while serving one request.
// It satisfies both Notifier and CartCountObserver.
type NotificationCollector struct {
	mu       sync.Mutex
	messages []string
	count    *CartCount
	logger   func(context.Context, string, map[string]any)
}

var (
	_ Notifier          = (*NotificationCollector)(nil)
	_ CartCountObserver = (*NotificationCollector)(nil)
)

// NewNotificationCollector constructs an empty collector. A nil logger disables logging.
func NewNotificationCollector(logger func(context.Context, string, map[string]any)) *NotificationCollector {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &NotificationCollector{logger: logger}
}

// Notify records message as plain text. Blank messages are dropped.
func (c *NotificationCollector) Notify(ctx context.Context, message string) {
	message = textutil.Truncate(textutil.PlainText(message), maxNotificationLength)
	if message == "" {
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.mu.Unlock()
	c.logger(ctx, "notification", map[string]any{"message": message})
}

// CartCountChanged keeps the latest badge state.
func (c *NotificationCollector) CartCountChanged(_ context.Context, count CartCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = &count
}

// Messages returns the recorded notifications in the order they were raised.
func (c *NotificationCollector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// CartCount returns the last badge state pushed, reporting false when the cart was never counted.
func (c *NotificationCollector) CartCount() (CartCount, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		return CartCount{}, false
	}
	return *c.count, true
}
