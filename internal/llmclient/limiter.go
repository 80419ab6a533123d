package llmclient

import (
	"context"

	"golang.org/x/time/rate"
)

// limitedClient paces calls to the wrapped client.
type limitedClient struct {
	client  Client
	limiter *rate.Limiter
}

func (c *limitedClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.client.Generate(ctx, req)
}
