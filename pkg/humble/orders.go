package humble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultOrderWorkers is the fan-out width for order-detail fetches.
const DefaultOrderWorkers = 30

// Order is one purchase as listed by the orders endpoint.
type Order struct {
	GameKey string `json:"gamekey"`
}

// Orders lists the gamekeys of every purchase on the account.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := c.getJSON(ctx, ordersAPIPath, &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// OrderDetails fetches the full detail payload for one order, including all
// third-party key data. The payload is returned as decoded JSON because its
// shape varies wildly across bundle generations; the extract package digs
// the entitlements out of it.
func (c *Client) OrderDetails(ctx context.Context, gamekey string) (map[string]any, error) {
	var detail map[string]any
	path := orderDetailsPath + url.PathEscape(gamekey) + "?all_tpkds=true"
	if err := c.getJSON(ctx, path, &detail); err != nil {
		return nil, fmt.Errorf("order %s: %w", gamekey, err)
	}
	return detail, nil
}

// AllOrderDetails fetches every order's detail payload concurrently.
// Results are unordered; each payload is keyed by its own content. A single
// failed order fails the whole fetch.
func (c *Client) AllOrderDetails(ctx context.Context, orders []Order, workers int) ([]any, error) {
	if workers <= 0 {
		workers = DefaultOrderWorkers
	}

	var mu sync.Mutex
	details := make([]any, 0, len(orders))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			detail, err := c.OrderDetails(ctx, order.GameKey)
			if err != nil {
				return err
			}
			mu.Lock()
			details = append(details, detail)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Int("orders", len(details)).Msg("Fetched Humble order details")
	return details, nil
}

// redeemResponse is the reveal endpoint's payload.
type redeemResponse struct {
	Success  bool   `json:"success"`
	Key      string `json:"key"`
	ErrorMsg string `json:"error_msg"`
}

// RevealKey asks Humble to reveal the raw key for one entitlement,
// identified by its key type (machine name), order gamekey and key index.
// Revealing consumes the gift-link option for that entitlement.
func (c *Client) RevealKey(ctx context.Context, machineName, gamekey string, keyIndex int) (string, error) {
	payload := url.Values{
		"keytype":  {machineName},
		"key":      {gamekey},
		"keyindex": {strconv.Itoa(keyIndex)},
	}

	resp, err := c.postForm(ctx, redeemAPIPath, payload)
	if err != nil {
		return "", fmt.Errorf("reveal key: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reveal key: %w", err)
	}

	var result redeemResponse
	if err := json.Unmarshal(body, &result); err != nil {
		// Some key types come back as a bare string body
		if resp.StatusCode == 200 && len(body) > 0 {
			return string(body), nil
		}
		return "", fmt.Errorf("reveal key: undecodable response (status %d)", resp.StatusCode)
	}

	if resp.StatusCode != 200 || result.ErrorMsg != "" || !result.Success {
		reason := result.ErrorMsg
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("reveal key: %s", reason)
	}
	return result.Key, nil
}
