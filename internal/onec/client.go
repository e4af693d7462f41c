// Package onec talks to the 1C ticketing system through its HTTP proxy.
package onec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/retry"
)

var ErrBackend = errors.New("ticketing backend error")

const maxErrorBody = 512

type Config struct {
	ProxyURL   string
	OrderPath  string
	WSPath     string
	ModifyPath string
	Login      string
	Password   string
	Token      string
	Timeout    time.Duration
}

type Client struct {
	Config Config
	HTTP   *http.Client
	Retry  retry.Policy
	Logger zerolog.Logger
	// Observe, when set, receives the duration and outcome of every call.
	Observe func(op string, d time.Duration, err error)
}

func NewClient(cfg Config, retries int, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		Config: cfg,
		HTTP:   &http.Client{},
		Retry:  retry.Policy{MaxAttempts: retries + 1, Backoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second},
		Logger: logger,
	}
}

type proxyConfig struct {
	ClientPath string `json:"clientPath"`
	Login      string `json:"login,omitempty"`
	Password   string `json:"password,omitempty"`
}

type envelope struct {
	Config proxyConfig `json:"config"`
	Params any         `json:"params,omitempty"`
	Token  string      `json:"token"`
}

func (c *Client) envelope(clientPath string, params any) envelope {
	return envelope{
		Config: proxyConfig{ClientPath: clientPath, Login: c.Config.Login, Password: c.Config.Password},
		Params: params,
		Token:  c.Config.Token,
	}
}

// Create submits a new order. Any non-200 answer is a failure.
func (c *Client) Create(ctx context.Context, order Order) error {
	body := c.envelope(c.Config.OrderPath, OrderParams{Order: order})
	_, err := c.post(ctx, "create", "/hs", body)
	if err != nil {
		return err
	}
	c.Logger.Info().Str("partner_number", order.PartnerNumber).Msg("order created")
	return nil
}

type lookupParams struct {
	QueryID       string `json:"Идентификатор"`
	PartnerNumber string `json:"НомерПартнера"`
}

type lookupResponse struct {
	Result map[string][]models.ExistingTicket `json:"result"`
}

// Lookup lists the tickets registered under a partner number. Results are
// grouped by database. The first non-empty group wins.
func (c *Client) Lookup(ctx context.Context, partnerNumber string) ([]models.ExistingTicket, error) {
	body := c.envelope(c.Config.WSPath, lookupParams{QueryID: "bid_info", PartnerNumber: partnerNumber})
	raw, err := c.post(ctx, "lookup", "/ws", body)
	if err != nil {
		return nil, err
	}
	var res lookupResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decode lookup: %v", ErrBackend, err)
	}
	for _, name := range sortedKeys(res.Result) {
		if tickets := res.Result[name]; len(tickets) > 0 {
			return tickets, nil
		}
	}
	return nil, nil
}

type Revision struct {
	Number   string `json:"number"`
	Revision int    `json:"revision"`
	Locality string `json:"locality"`
}

type readParams struct {
	QueryID string `json:"Идентификатор"`
	Number  string `json:"Номер"`
}

// ReadForModification returns the current revision of a ticket.
func (c *Client) ReadForModification(ctx context.Context, number string) (Revision, error) {
	body := c.envelope(c.Config.ModifyPath, readParams{QueryID: "bid_read", Number: number})
	raw, err := c.post(ctx, "read", "/hs", body)
	if err != nil {
		return Revision{}, err
	}
	var rev Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return Revision{}, fmt.Errorf("%w: decode revision: %v", ErrBackend, err)
	}
	if rev.Number == "" {
		rev.Number = number
	}
	return rev, nil
}

type ModifyParams struct {
	QueryID  string `json:"Идентификатор"`
	Number   string `json:"Номер"`
	Revision int    `json:"revision"`
	Locality string `json:"locality,omitempty"`
	Comment  string `json:"comment,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Modify writes a delta on top of rev. The revision sent is rev+1 so the
// backend refuses it if somebody else changed the ticket in between.
func (c *Client) Modify(ctx context.Context, rev Revision, comment, phone string) error {
	params := ModifyParams{
		QueryID:  "bid_update",
		Number:   rev.Number,
		Revision: rev.Revision + 1,
		Locality: rev.Locality,
		Comment:  comment,
		Phone:    phone,
	}
	_, err := c.post(ctx, "modify", "/hs", c.envelope(c.Config.ModifyPath, params))
	return err
}

func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	if strings.TrimSpace(c.Config.ProxyURL) == "" {
		return nil, fmt.Errorf("%w: proxy url is not configured", ErrBackend)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.Config.ProxyURL, "/") + path

	start := time.Now()
	var out []byte
	err = c.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			c.Logger.Warn().Str("op", op).Int("attempt", attempt+1).Msg("retrying 1c request")
		}
		res, err := c.once(ctx, url, payload)
		out = res
		return err
	})
	if c.Observe != nil {
		c.Observe(op, time.Since(start), err)
	}
	if err != nil {
		c.Logger.Error().Err(err).Str("op", op).Msg("1c request failed")
		return nil, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, url string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %s: %s", ErrBackend, resp.Status, truncate(string(raw), maxErrorBody))
		if resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return raw, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
