package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skinvault/escrowd/internal/pkg/apperrors"
)

// APIClient 通过平台 REST API 实现 TradeClient。
// 所有调用都可能被平台限流；429 统一映射为 ErrRateLimited，
// 交给上层的断路器和登录退避处理。
type APIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAPIClient(baseURL, apiKey string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) Login(ctx context.Context, botID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/bots/%s/session", botID), nil, nil)
}

func (c *APIClient) Ping(ctx context.Context, botID string) error {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/bots/%s/ping", botID), nil, nil)
}

func (c *APIClient) GetInventory(ctx context.Context, identity string) ([]Asset, error) {
	var out struct {
		Assets []Asset `json:"assets"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/inventory/%s", identity), nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *APIClient) SendOffer(ctx context.Context, botID, partner string, give, receive []Asset, message string) (string, error) {
	body := map[string]any{
		"partner":          partner,
		"items_to_give":    give,
		"items_to_receive": receive,
		"message":          message,
	}
	var out struct {
		OfferID string `json:"offer_id"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/bots/%s/offers", botID), body, &out); err != nil {
		return "", err
	}
	return out.OfferID, nil
}

func (c *APIClient) AcceptOffer(ctx context.Context, botID, offerID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/bots/%s/offers/%s/accept", botID, offerID), nil, nil)
}

func (c *APIClient) DeclineOffer(ctx context.Context, botID, offerID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/bots/%s/offers/%s/decline", botID, offerID), nil, nil)
}

func (c *APIClient) GetOffer(ctx context.Context, botID, offerID string) (*Offer, error) {
	var out Offer
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/bots/%s/offers/%s", botID, offerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Valuate returns the platform market price for an item, used when
// valuing direct deposits.
func (c *APIClient) Valuate(ctx context.Context, itemRef string) (decimal.Decimal, error) {
	var out struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/market/prices/%s", url.PathEscape(itemRef)), nil, &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no market price for %s", itemRef)
	}
	return out.Price, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.New(apperrors.ErrUpstream, fmt.Sprintf("platform request %s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("platform resource %s not found", path), nil)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.New(apperrors.ErrUpstream,
			fmt.Sprintf("platform returned %d for %s %s: %s", resp.StatusCode, method, path, raw), nil)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
