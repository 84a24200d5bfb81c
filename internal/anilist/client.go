// Package anilist implements the AniList GraphQL client used for
// fuzzy search, cover/description lookups, relation graphs, and the
// airing schedule.
package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/yasadev/ani-mate/internal/httpx"
)

// Endpoint is the public AniList GraphQL API.
const Endpoint = "https://graphql.anilist.co"

const maxBodySize = 4 << 20

// Media is one AniList media record, possibly with relation edges.
type Media struct {
	ID           int
	TitleEnglish string
	TitleRomaji  string
	Cover        string
	Description  string
	Format       string
	Episodes     int
	Status       string
	Relations    []Relation
}

// Relation is one edge of a media's relation graph.
type Relation struct {
	Type         string
	ID           int
	TitleEnglish string
	TitleRomaji  string
}

// CoverInfo is the result of a batched cover lookup for one title.
type CoverInfo struct {
	Cover        string
	Description  string
	TitleEnglish string
}

// Schedule is one airing-schedule row.
type Schedule struct {
	MediaID       int
	TitleEnglish  string
	TitleRomaji   string
	Episode       int
	AiringAt      int64
	Cover         string
	Format        string
	TotalEpisodes int
}

// Info is the description/cover/genre record for one title.
type Info struct {
	Description string
	Cover       string
	Genres      []string
	Score       int
}

// Client issues rate-limited POST queries against AniList. AniList
// throttles aggressively, so every call waits on a shared limiter.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the GraphQL endpoint (tests point it at a fake).
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLimiter overrides the request pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates an AniList client paced at one request per second
// with a small burst.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: httpx.FastClient(),
		endpoint:   Endpoint,
		timeout:    5 * time.Second,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// post issues one GraphQL call and returns the raw body.
func (c *Client) post(ctx context.Context, query string, variables interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "anilist: limiter wait")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, errors.Wrap(err, "anilist: encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "anilist: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "anilist: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("anilist: upstream returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "anilist: read response")
	}
	if strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
		return nil, errors.New("anilist: upstream returned HTML instead of JSON")
	}
	return body, nil
}

type mediaJSON struct {
	ID    int `json:"id"`
	Title struct {
		English string `json:"english"`
		Romaji  string `json:"romaji"`
	} `json:"title"`
	CoverImage struct {
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"coverImage"`
	Description string   `json:"description"`
	Format      string   `json:"format"`
	Episodes    int      `json:"episodes"`
	Status      string   `json:"status"`
	Genres      []string `json:"genres"`
	AvgScore    int      `json:"averageScore"`
	Relations   struct {
		Edges []struct {
			RelationType string `json:"relationType"`
			Node         struct {
				ID    int    `json:"id"`
				Type  string `json:"type"`
				Title struct {
					English string `json:"english"`
					Romaji  string `json:"romaji"`
				} `json:"title"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"relations"`
}

func (m mediaJSON) toMedia() Media {
	out := Media{
		ID:           m.ID,
		TitleEnglish: m.Title.English,
		TitleRomaji:  m.Title.Romaji,
		Cover:        m.CoverImage.Medium,
		Description:  m.Description,
		Format:       m.Format,
		Episodes:     m.Episodes,
		Status:       m.Status,
	}
	for _, edge := range m.Relations.Edges {
		if edge.Node.Type != "" && edge.Node.Type != "ANIME" {
			continue
		}
		out.Relations = append(out.Relations, Relation{
			Type:         edge.RelationType,
			ID:           edge.Node.ID,
			TitleEnglish: edge.Node.Title.English,
			TitleRomaji:  edge.Node.Title.Romaji,
		})
	}
	return out
}

const searchGQL = `query ($search: String, $perPage: Int) {
	Page(page: 1, perPage: $perPage) {
		media(search: $search, type: ANIME, sort: [SEARCH_MATCH]) {
			id title { english romaji } coverImage { medium }
			description(asHtml: false) format episodes status
			relations {
				edges {
					relationType
					node { id type title { english romaji } }
				}
			}
		}
	}
}`

// Search performs a fuzzy title search, returning up to limit media
// records with their relation edges.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Media, error) {
	body, err := c.post(ctx, searchGQL, map[string]interface{}{
		"search":  query,
		"perPage": limit,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Page struct {
				Media []mediaJSON `json:"media"`
			} `json:"Page"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "anilist: parse search response")
	}

	out := make([]Media, 0, len(parsed.Data.Page.Media))
	for _, m := range parsed.Data.Page.Media {
		out = append(out, m.toMedia())
	}
	return out, nil
}

// CoverBatch looks up covers/descriptions for several titles in one
// request using aliased sub-queries (q0..qN bound to $s0..$sN). Titles
// AniList does not know are omitted from the result, so callers can
// record them as failed lookups and retry on the short TTL.
func (c *Client) CoverBatch(ctx context.Context, titles []string) (map[string]CoverInfo, error) {
	if len(titles) == 0 {
		return map[string]CoverInfo{}, nil
	}

	var varDefs, fragments []string
	variables := make(map[string]interface{}, len(titles))
	for i, title := range titles {
		varDefs = append(varDefs, fmt.Sprintf("$s%d: String", i))
		fragments = append(fragments, fmt.Sprintf(
			`q%d: Page(perPage: 1) { media(search: $s%d, type: ANIME) { title { english romaji } coverImage { medium } description(asHtml: false) } }`, i, i))
		variables[fmt.Sprintf("s%d", i)] = title
	}
	query := fmt.Sprintf("query (%s) { %s }", strings.Join(varDefs, ", "), strings.Join(fragments, "\n"))

	body, err := c.post(ctx, query, variables)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data map[string]struct {
			Media []mediaJSON `json:"media"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "anilist: parse cover batch response")
	}

	out := make(map[string]CoverInfo, len(titles))
	for i, title := range titles {
		page := parsed.Data[fmt.Sprintf("q%d", i)]
		if len(page.Media) == 0 {
			continue
		}
		m := page.Media[0]
		out[title] = CoverInfo{
			Cover:        m.CoverImage.Medium,
			Description:  m.Description,
			TitleEnglish: m.Title.English,
		}
	}
	return out, nil
}

const airingGQL = `query ($page: Int, $gt: Int, $lt: Int) {
	Page(page: $page, perPage: 50) {
		pageInfo { hasNextPage }
		airingSchedules(airingAt_greater: $gt, airingAt_lesser: $lt, sort: [TIME]) {
			episode airingAt media {
				id title { romaji english } coverImage { medium } format episodes status
			}
		}
	}
}`

// maxAiringPages caps schedule pagination for a single day window.
const maxAiringPages = 10

// AiringSchedule returns every episode airing in [dayStart, dayEnd)
// Unix seconds, paginated at 50 per page.
func (c *Client) AiringSchedule(ctx context.Context, dayStart, dayEnd int64) ([]Schedule, error) {
	var out []Schedule
	for page := 1; page <= maxAiringPages; page++ {
		body, err := c.post(ctx, airingGQL, map[string]interface{}{
			"page": page,
			"gt":   dayStart,
			"lt":   dayEnd,
		})
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Data struct {
				Page struct {
					PageInfo struct {
						HasNextPage bool `json:"hasNextPage"`
					} `json:"pageInfo"`
					AiringSchedules []struct {
						Episode  int       `json:"episode"`
						AiringAt int64     `json:"airingAt"`
						Media    mediaJSON `json:"media"`
					} `json:"airingSchedules"`
				} `json:"Page"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, errors.Wrap(err, "anilist: parse airing response")
		}

		for _, s := range parsed.Data.Page.AiringSchedules {
			out = append(out, Schedule{
				MediaID:       s.Media.ID,
				TitleEnglish:  s.Media.Title.English,
				TitleRomaji:   s.Media.Title.Romaji,
				Episode:       s.Episode,
				AiringAt:      s.AiringAt,
				Cover:         s.Media.CoverImage.Medium,
				Format:        s.Media.Format,
				TotalEpisodes: s.Media.Episodes,
			})
		}
		if !parsed.Data.Page.PageInfo.HasNextPage {
			break
		}
	}
	return out, nil
}

const infoGQL = `query ($search: String) {
	Page(perPage: 1) {
		media(search: $search, type: ANIME) {
			description(asHtml: false) coverImage { large } genres averageScore
		}
	}
}`

// Info looks up the description/cover/genres/score for a title. The
// second result is false when AniList has no usable description, which
// signals the caller to fall back to the tertiary source.
func (c *Client) Info(ctx context.Context, title string) (Info, bool, error) {
	body, err := c.post(ctx, infoGQL, map[string]interface{}{"search": title})
	if err != nil {
		return Info{}, false, err
	}

	var parsed struct {
		Data struct {
			Page struct {
				Media []mediaJSON `json:"media"`
			} `json:"Page"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Info{}, false, errors.Wrap(err, "anilist: parse info response")
	}

	if len(parsed.Data.Page.Media) == 0 || parsed.Data.Page.Media[0].Description == "" {
		return Info{}, false, nil
	}
	m := parsed.Data.Page.Media[0]
	return Info{
		Description: m.Description,
		Cover:       m.CoverImage.Large,
		Genres:      m.Genres,
		Score:       m.AvgScore,
	}, true, nil
}
