package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bufficorns/internal/game"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response. RemainingMillis is set on cooldown rejections.
type APIError struct {
	Status          int
	Message         string
	RemainingMillis int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (c *Client) Claim(ctx context.Context, key, username string) (game.ClaimResult, error) {
	var out game.ClaimResult
	body := map[string]any{"key": key}
	if username != "" {
		body["username"] = username
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/players/claim", "", body, &out)
	return out, err
}

func (c *Client) Player(ctx context.Context, token, key string) (game.PlayerState, error) {
	var out game.PlayerState
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(key), token, nil, &out)
	return out, err
}

func (c *Client) SelectBufficorn(ctx context.Context, token string, creationIndex int) (game.Bufficorn, error) {
	var out game.Bufficorn
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/players/selected-bufficorn/%d", creationIndex), token, nil, &out)
	return out, err
}

func (c *Client) Trade(ctx context.Context, token, to string, cooldown *int64) (game.Trade, error) {
	var out game.Trade
	body := map[string]any{"to": to}
	if cooldown != nil {
		body["cooldown"] = *cooldown
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", token, body, &out)
	return out, err
}

func (c *Client) TradeHistory(ctx context.Context, token string, limit, offset int) (game.TradeHistory, error) {
	var out struct {
		Trades game.TradeHistory `json:"trades"`
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/trades?"+q.Encode(), token, nil, &out)
	return out.Trades, err
}

func (c *Client) Leaderboard(ctx context.Context, trait game.Trait, limit, offset int) (game.Leaderboard, error) {
	var out game.Leaderboard
	q := url.Values{}
	if trait != "" {
		q.Set("resource", string(trait))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	path := "/v1/leaderboard"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error           string `json:"error"`
			RemainingMillis int64  `json:"remaining_millis"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.RemainingMillis = payload.RemainingMillis
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
