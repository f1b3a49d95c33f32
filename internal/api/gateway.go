package api

import "context"

// Gateway is the response of GET /gateway.
type Gateway struct {
	URL string `json:"url"`
}

// SessionStartLimit reports the bot's identify budget.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"` // Milliseconds
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"` // Recommended shard count
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GetGateway returns the public gateway URL. No authentication required.
func (c *Client) GetGateway(ctx context.Context) (Gateway, error) {
	var g Gateway
	if err := c.get(ctx, "/gateway", nil, &g); err != nil {
		return Gateway{}, err
	}
	return g, nil
}

// GetGatewayBot returns the bot gateway URL, the recommended shard count,
// and the session start limit. The response is fetched once and cached;
// concurrent callers share a single request. InvalidateGatewayBot forces
// a refetch.
func (c *Client) GetGatewayBot(ctx context.Context) (GatewayBot, error) {
	c.gatewayMu.Lock()
	if c.gatewayBot != nil {
		gb := *c.gatewayBot
		c.gatewayMu.Unlock()
		return gb, nil
	}
	c.gatewayMu.Unlock()

	v, err, shared := c.gatewayGroup.Do("gateway_bot", func() (any, error) {
		var gb GatewayBot
		if err := c.get(ctx, "/gateway/bot", nil, &gb); err != nil {
			return nil, err
		}

		c.gatewayMu.Lock()
		c.gatewayBot = &gb
		c.gatewayMu.Unlock()

		return gb, nil
	})
	if err != nil {
		return GatewayBot{}, err
	}
	if shared {
		c.logger.Debug("gateway bot lookup shared across callers")
	}
	return v.(GatewayBot), nil
}

// InvalidateGatewayBot drops the cached /gateway/bot response.
func (c *Client) InvalidateGatewayBot() {
	c.gatewayMu.Lock()
	c.gatewayBot = nil
	c.gatewayMu.Unlock()
}
