// Package jikan implements the MyAnimeList fallback metadata client,
// consulted only when AniList yields no usable description.
package jikan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yasadev/ani-mate/internal/httpx"
)

// Endpoint is the public Jikan v4 REST API.
const Endpoint = "https://api.jikan.moe/v4"

const maxBodySize = 1 << 20

// Info is the subset of a Jikan anime record ani-mate consumes.
// Score is on MAL's 0-10 scale scaled to 0-100 to match AniList.
type Info struct {
	Description string
	Cover       string
	Genres      []string
	Score       int
}

// Client issues read-only lookups against Jikan.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base (tests point it at a fake).
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Jikan client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: httpx.FastClient(),
		endpoint:   Endpoint,
		timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Info searches MAL for title and returns its synopsis record. The
// second result is false when nothing matched.
func (c *Client) Info(ctx context.Context, title string) (Info, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.endpoint + "/anime?q=" + url.QueryEscape(title) + "&limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Info{}, false, errors.Wrap(err, "jikan: build request")
	}
	req.Header.Set("User-Agent", httpx.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Info{}, false, errors.Wrap(err, "jikan: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, false, errors.Errorf("jikan: upstream returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Info{}, false, errors.Wrap(err, "jikan: read response")
	}
	if strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
		return Info{}, false, errors.New("jikan: upstream returned HTML instead of JSON")
	}

	var parsed struct {
		Data []struct {
			Synopsis string `json:"synopsis"`
			Images   struct {
				JPG struct {
					LargeImageURL string `json:"large_image_url"`
				} `json:"jpg"`
			} `json:"images"`
			Genres []struct {
				Name string `json:"name"`
			} `json:"genres"`
			Score float64 `json:"score"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Info{}, false, errors.Wrap(err, "jikan: parse response")
	}
	if len(parsed.Data) == 0 {
		return Info{}, false, nil
	}

	anime := parsed.Data[0]
	info := Info{
		Description: anime.Synopsis,
		Cover:       anime.Images.JPG.LargeImageURL,
	}
	for _, g := range anime.Genres {
		info.Genres = append(info.Genres, g.Name)
	}
	if anime.Score > 0 {
		info.Score = int(anime.Score * 10)
	}
	return info, true, nil
}
