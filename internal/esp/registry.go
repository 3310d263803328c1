package esp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/config"
)

// NewFromConfig builds a Sender with every enabled provider registered. rdb
// may be nil, in which case sends are not rate limited.
func NewFromConfig(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*Sender, error) {
	var limiter Limiter
	if rdb != nil && cfg.Routing.RateLimitPerProviderPerMinute > 0 {
		limiter = NewRedisLimiter(rdb, cfg.Routing.RateLimitPerProviderPerMinute)
	}
	s := NewSender(cfg.Dispatch.SendTimeout(), limiter)
	httpClient := &http.Client{}

	if cfg.SES.Enabled {
		ses, err := NewSES(ctx, cfg.SES.Region, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.ConfigurationSet)
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		s.Register(ses)
	}
	if cfg.SparkPost.Enabled {
		s.Register(NewSparkPost(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL, httpClient))
	}
	if cfg.Mailgun.Enabled {
		s.Register(NewMailgun(cfg.Mailgun.Domain, cfg.Mailgun.APIKey, cfg.Mailgun.BaseURL))
	}
	if cfg.SendGrid.Enabled {
		s.Register(NewSendGrid(cfg.SendGrid.APIKey, cfg.SendGrid.BaseURL))
	}
	return s, nil
}

// FilterOrder keeps the providers from order that s can actually send
// through, preserving their order.
func FilterOrder(s *Sender, order []string) []string {
	out := make([]string, 0, len(order))
	for _, name := range order {
		if s.Has(name) {
			out = append(out, name)
		}
	}
	return out
}
