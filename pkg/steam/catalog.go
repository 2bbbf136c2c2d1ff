package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

const (
	appListPath     = "/IStoreService/GetAppList/v1/"
	appListPageSize = 50000
)

// App is one catalog entry from IStoreService.
type App struct {
	AppID int    `json:"appid"`
	Name  string `json:"name"`
}

// AppList fetches the full Steam app catalog. Pagination uses the last app
// id seen as a cursor and continues until the service reports no more
// results. Requires a Steam Web API key. Any failure mid-pagination fails
// the whole fetch.
func (c *Client) AppList(ctx context.Context, apiKey string) ([]App, error) {
	var all []App
	lastAppID := 0

	for {
		params := url.Values{
			"key":              {apiKey},
			"include_games":    {"true"},
			"include_dlc":      {"true"},
			"include_software": {"true"},
			"max_results":      {strconv.Itoa(appListPageSize)},
		}
		if lastAppID != 0 {
			params.Set("last_appid", strconv.Itoa(lastAppID))
		}

		page, err := c.appListPage(ctx, params)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Apps...)
		if !page.HaveMoreResults || page.LastAppID == 0 {
			break
		}
		lastAppID = page.LastAppID
	}

	log.Debug().Int("apps", len(all)).Msg("Fetched Steam app list")
	return all, nil
}

type appListPage struct {
	Apps            []App `json:"apps"`
	HaveMoreResults bool  `json:"have_more_results"`
	LastAppID       int   `json:"last_appid"`
}

func (c *Client) appListPage(ctx context.Context, params url.Values) (*appListPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+appListPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch app list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app list returned %d", resp.StatusCode)
	}

	var wrapper struct {
		Response appListPage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("decode app list: %w", err)
	}
	return &wrapper.Response, nil
}
