package allanime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yasadev/ani-mate/internal/models"
)

func newFakeAPI(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client := NewClient(WithAPIURL(ts.URL), WithHTTPClient(ts.Client()))
	return ts, client
}

func TestClientSearch(t *testing.T) {
	t.Parallel()

	searchBody := `{"data":{"shows":{"edges":[
		{"_id":"a1","name":"Small Show","availableEpisodes":{"sub":3,"dub":0}},
		{"_id":"a2","name":"Long Show","availableEpisodes":{"sub":100,"dub":80}},
		{"_id":"a3","name":"Dub Only","availableEpisodes":{"sub":0,"dub":12}},
		{"_id":"a4","name":"A Movie","availableEpisodes":{"sub":1,"dub":1}}
	]}}}`

	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("query"))
		assert.NotEmpty(t, r.URL.Query().Get("variables"))
		assert.Equal(t, "https://allanime.to", r.Header.Get("Referer"))
		_, _ = w.Write([]byte(searchBody))
	})

	results, err := client.Search(context.Background(), "show", "sub")
	require.NoError(t, err)

	// Dub-only show is dropped in sub mode; remainder sorts by episode
	// count descending.
	require.Len(t, results, 3)
	assert.Equal(t, "a2", results[0].ID)
	assert.Equal(t, models.KindSeries, results[0].Kind)
	assert.Equal(t, "a1", results[1].ID)
	assert.Equal(t, models.KindShort, results[1].Kind)
	assert.Equal(t, "a4", results[2].ID)
	assert.Equal(t, models.KindMovie, results[2].Kind)
}

func TestClientSearchDubMode(t *testing.T) {
	t.Parallel()

	body := `{"data":{"shows":{"edges":[
		{"_id":"a1","name":"Sub Only","availableEpisodes":{"sub":5,"dub":0}},
		{"_id":"a2","name":"Dubbed","availableEpisodes":{"sub":5,"dub":4}}
	]}}}`
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	results, err := client.Search(context.Background(), "x", "dub")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a2", results[0].ID)
	assert.Equal(t, 4, results[0].Episodes)
}

func TestClientRejectsHTMLBody(t *testing.T) {
	t.Parallel()

	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Just a moment...</body></html>"))
	})

	_, err := client.Search(context.Background(), "x", "sub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTML")
}

func TestClientRejectsUpstreamError(t *testing.T) {
	t.Parallel()

	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Search(context.Background(), "x", "sub")
	require.Error(t, err)
}

func TestClientEpisodeList(t *testing.T) {
	t.Parallel()

	body := `{"data":{"show":{"_id":"a1","availableEpisodesDetail":{
		"sub":["12.5","2","10","1"],
		"dub":["1"]
	}}}}`
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	episodes, err := client.EpisodeList(context.Background(), "a1", "sub")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10", "12.5"}, episodes)
}

func TestSortEpisodeTokens(t *testing.T) {
	t.Parallel()

	tokens := []string{"10", "special-b", "2", "1.5", "special-a", "1"}
	SortEpisodeTokens(tokens)
	assert.Equal(t, []string{"1", "1.5", "2", "10", "special-a", "special-b"}, tokens)
}

func TestClientDailyPopular(t *testing.T) {
	t.Parallel()

	body := `{"data":{"queryPopular":{"recommendations":[
		{"anyCard":{"_id":"p1","name":"Trending One","availableEpisodes":{"sub":24}}},
		{"anyCard":null},
		{"anyCard":{"_id":"p2","name":"Trending Two","availableEpisodes":{"sub":0}}}
	]}}}`
	_, client := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		vars := r.URL.Query().Get("variables")
		assert.True(t, strings.Contains(vars, `"dateRange":1`))
		_, _ = w.Write([]byte(body))
	})

	results, err := client.DailyPopular(context.Background(), "sub")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
	assert.Equal(t, models.KindSeries, results[0].Kind)
}
