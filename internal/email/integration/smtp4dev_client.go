//go:build integration

// Package integration runs the mail loops against a local smtp4dev server.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMTP4DevClient talks to the smtp4dev v3 REST API.
type SMTP4DevClient struct {
	base   string
	client *http.Client
}

func NewSMTP4DevClient(base string, httpClient *http.Client) *SMTP4DevClient {
	if base == "" {
		base = "http://localhost:8025/api/v3"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMTP4DevClient{base: strings.TrimRight(base, "/"), client: httpClient}
}

// Message is the summary smtp4dev lists per received message.
type Message struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to"`
}

// DeleteAllMessages empties the server.
func (c *SMTP4DevClient) DeleteAllMessages(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/messages", nil)
}

// ListMessages returns the received messages, newest first.
func (c *SMTP4DevClient) ListMessages(ctx context.Context) ([]Message, error) {
	var page struct {
		Results []Message `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages?pageSize=200", &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Raw returns the RFC 822 source of message id.
func (c *SMTP4DevClient) Raw(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/messages/"+url.PathEscape(id)+"/raw", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("smtp4dev raw %s: %s", id, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// WaitForSubject polls until a message whose subject contains token arrives.
func (c *SMTP4DevClient) WaitForSubject(ctx context.Context, token string, timeout time.Duration) (Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := c.ListMessages(ctx)
		if err != nil {
			return Message{}, err
		}
		for _, m := range msgs {
			if strings.Contains(m.Subject, token) {
				return m, nil
			}
		}
		if time.Now().After(deadline) {
			return Message{}, fmt.Errorf("no message with %q after %s", token, timeout)
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
}

func (c *SMTP4DevClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("smtp4dev %s %s failed: %s (%s)", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
