// ABOUTME: Agent topic calls: list topics, show one, post a payload

package client

import (
	"bytes"
	"context"
	"net/http"

	"github.com/2389/nightlife/internal/respond"
)

// Topics lists every topic on the agent.
func (c *Client) Topics(ctx context.Context) (*respond.TopicRegistry, error) {
	var resp respond.TopicRegistry
	if err := c.doJSON(ctx, http.MethodGet, []string{"topics"}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Topic returns one topic's handlers.
func (c *Client) Topic(ctx context.Context, name string) (*respond.TopicHandlers, error) {
	var resp respond.TopicHandlers
	if err := c.doJSON(ctx, http.MethodGet, []string{"topic", name}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostTopic runs the topic's handlers with payload.
func (c *Client) PostTopic(ctx context.Context, name string, payload []byte) (*respond.TopicResults, error) {
	var resp respond.TopicResults
	err := c.do(ctx, http.MethodPost, []string{"topic", name}, nil, bytes.NewReader(payload), "application/octet-stream", &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
