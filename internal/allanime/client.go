// Package allanime implements the AllAnime catalog client: GraphQL
// search, episode lists, trending, and stream-link resolution.
package allanime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yasadev/ani-mate/internal/httpx"
	"github.com/yasadev/ani-mate/internal/models"
)

const (
	Referer = "https://allanime.to"
	Base    = "https://allanime.day"
	API     = "https://api.allanime.day/api"
)

// responses larger than this are not catalog payloads
const maxBodySize = 4 << 20

// Client issues read-only queries against the AllAnime GraphQL API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	referer    string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the API endpoint (tests point it at a fake).
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout bounds each catalog call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates an AllAnime client with pooled transport defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: httpx.FastClient(),
		apiURL:     API,
		referer:    Referer,
		timeout:    8 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const searchGQL = `query($search: SearchInput $limit: Int $page: Int $translationType: VaildTranslationTypeEnumType $countryOrigin: VaildCountryOriginEnumType) { shows( search: $search limit: $limit page: $page translationType: $translationType countryOrigin: $countryOrigin ) { edges { _id name availableEpisodes __typename } } }`

const episodesGQL = `query ($showId: String!) { show( _id: $showId ) { _id availableEpisodesDetail } }`

const popularGQL = `query($type: VaildPopularTypeEnumType!, $size: Int!, $dateRange: Int, $page: Int) { queryPopular(type: $type, size: $size, dateRange: $dateRange, page: $page) { recommendations { anyCard { _id name availableEpisodes __typename } } } }`

const sourcesGQL = `query ($showId: String!, $translationType: VaildTranslationTypeEnumType!, $episodeString: String!) { episode( showId: $showId translationType: $translationType episodeString: $episodeString ) { episodeString sourceUrls } }`

// get issues one GraphQL call as a GET with query+variables URL
// parameters and returns the raw body. A body that opens with '<' is a
// Cloudflare challenge page, reported as a fetch failure.
func (c *Client) get(ctx context.Context, gql string, variables interface{}) ([]byte, error) {
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, errors.Wrap(err, "allanime: encode variables")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "allanime: build request")
	}
	q := req.URL.Query()
	q.Set("variables", string(varsJSON))
	q.Set("query", gql)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Referer", c.referer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "allanime: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("allanime: upstream returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "allanime: read response")
	}
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "<") {
		return nil, errors.New("allanime: upstream returned HTML instead of JSON")
	}
	return body, nil
}

type showEdge struct {
	ID                string         `json:"_id"`
	Name              string         `json:"name"`
	AvailableEpisodes map[string]int `json:"availableEpisodes"`
}

// summarize turns a raw show edge into a ShowSummary, or ok=false when
// the show has no episodes for the requested mode.
func summarize(edge showEdge, mode string) (models.ShowSummary, bool) {
	count := edge.AvailableEpisodes[mode]
	if count <= 0 {
		return models.ShowSummary{}, false
	}
	return models.ShowSummary{
		ID:       edge.ID,
		Name:     edge.Name,
		Episodes: count,
		Kind:     models.KindForEpisodeCount(count),
	}, true
}

// Search queries the catalog for shows matching query in the given
// audio mode ("sub" or "dub"). Shows with zero available episodes for
// the mode are dropped; results come back sorted by episode count
// descending.
func (c *Client) Search(ctx context.Context, query, mode string) ([]models.ShowSummary, error) {
	return c.search(ctx, query, mode, 40)
}

// SearchLimited is Search with a caller-chosen result cap, used for the
// aggregator's supplemental lookups.
func (c *Client) SearchLimited(ctx context.Context, query, mode string, limit int) ([]models.ShowSummary, error) {
	return c.search(ctx, query, mode, limit)
}

func (c *Client) search(ctx context.Context, query, mode string, limit int) ([]models.ShowSummary, error) {
	if mode == "" {
		mode = "sub"
	}
	variables := map[string]interface{}{
		"search": map[string]interface{}{
			"allowAdult":   true,
			"allowUnknown": false,
			"query":        query,
		},
		"limit":           limit,
		"page":            1,
		"translationType": mode,
		"countryOrigin":   "ALL",
	}

	body, err := c.get(ctx, searchGQL, variables)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Shows struct {
				Edges []showEdge `json:"edges"`
			} `json:"shows"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "allanime: parse search response")
	}

	results := make([]models.ShowSummary, 0, len(parsed.Data.Shows.Edges))
	for _, edge := range parsed.Data.Shows.Edges {
		if show, ok := summarize(edge, mode); ok {
			results = append(results, show)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Episodes > results[j].Episodes
	})
	return results, nil
}

// EpisodeList returns the episode tokens available for a show in the
// given mode, sorted ascending by numeric value. Tokens may be
// fractional ("12.5" specials), so the sort parses them as floats.
func (c *Client) EpisodeList(ctx context.Context, showID, mode string) ([]string, error) {
	if mode == "" {
		mode = "sub"
	}
	body, err := c.get(ctx, episodesGQL, map[string]interface{}{"showId": showID})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Show struct {
				AvailableEpisodesDetail map[string][]interface{} `json:"availableEpisodesDetail"`
			} `json:"show"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "allanime: parse episodes response")
	}

	var episodes []string
	for _, raw := range parsed.Data.Show.AvailableEpisodesDetail[mode] {
		switch v := raw.(type) {
		case string:
			episodes = append(episodes, v)
		case float64:
			episodes = append(episodes, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	SortEpisodeTokens(episodes)
	return episodes, nil
}

// SortEpisodeTokens orders episode tokens ascending by numeric value.
// Unparsable tokens sort after all numeric ones, keeping their relative
// order.
func SortEpisodeTokens(tokens []string) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, errA := strconv.ParseFloat(tokens[i], 64)
		b, errB := strconv.ParseFloat(tokens[j], 64)
		if errA != nil || errB != nil {
			return errA == nil && errB != nil
		}
		return a < b
	})
}

// DailyPopular returns today's trending shows for the given mode.
func (c *Client) DailyPopular(ctx context.Context, mode string) ([]models.ShowSummary, error) {
	if mode == "" {
		mode = "sub"
	}
	variables := map[string]interface{}{
		"type":      "anime",
		"size":      25,
		"dateRange": 1,
		"page":      1,
	}
	body, err := c.get(ctx, popularGQL, variables)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			QueryPopular struct {
				Recommendations []struct {
					AnyCard *showEdge `json:"anyCard"`
				} `json:"recommendations"`
			} `json:"queryPopular"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "allanime: parse popular response")
	}

	var results []models.ShowSummary
	for _, rec := range parsed.Data.QueryPopular.Recommendations {
		if rec.AnyCard == nil {
			continue
		}
		if show, ok := summarize(*rec.AnyCard, mode); ok {
			results = append(results, show)
		}
	}
	return results, nil
}

// EpisodeSourcesRaw fetches the raw episode-source payload. The
// sourceUrls field is not always well-formed JSON, so the body is
// returned as opaque text for pattern extraction by the resolver.
func (c *Client) EpisodeSourcesRaw(ctx context.Context, showID, episode, mode string) (string, error) {
	if mode == "" {
		mode = "sub"
	}
	variables := map[string]interface{}{
		"showId":          showID,
		"translationType": mode,
		"episodeString":   episode,
	}
	body, err := c.get(ctx, sourcesGQL, variables)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
