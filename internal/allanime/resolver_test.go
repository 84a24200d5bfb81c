package allanime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sourcesPayload builds a raw episode response carrying the given
// obfuscated sourceUrl/sourceName pairs.
func sourcesPayload(pairs ...[2]string) string {
	body := `{"data":{"episode":{"episodeString":"1","sourceUrls":[`
	for i, p := range pairs {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"sourceUrl":"--%s","sourceName":"%s"}`, p[0], p[1])
	}
	return body + `]}}}`
}

// newResolverHarness wires a fake catalog API and a fake provider host
// into one Resolver. manifest maps provider paths to response bodies;
// a path mapped to "" answers 500.
func newResolverHarness(t *testing.T, sourcesBody string, manifests map[string]string) *Resolver {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := manifests[r.URL.Path]
		if !ok || body == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(provider.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sourcesBody))
	}))
	t.Cleanup(api.Close)

	catalog := NewClient(WithAPIURL(api.URL), WithHTTPClient(api.Client()))
	return NewResolver(catalog,
		WithLinkBase(provider.URL),
		WithProviderHTTPClient(provider.Client()),
	)
}

func TestResolvePrefersHLS(t *testing.T) {
	t.Parallel()

	encoded := encodeProviderPath(t, "/apivtwo/clock?id=ok")
	manifest := `{"links":[` +
		`{"link":"https:\/\/cdn.example\/ep1-1080.mp4","resolutionStr":"1080p"},` +
		`{"link":"https:\/\/cdn.example\/master.m3u8","resolutionStr":"hls P"}` +
		`]}`
	r := newResolverHarness(t, sourcesPayload([2]string{encoded, "Default"}),
		map[string]string{"/apivtwo/clock.json": manifest})

	stream, err := r.Resolve(context.Background(), "show1", "1", "sub", "best")
	require.NoError(t, err)
	require.NotNil(t, stream)

	assert.Equal(t, "https://cdn.example/master.m3u8", stream.URL)
	assert.Equal(t, "Default", stream.Provider)
	require.Len(t, stream.AllLinks, 2)
	assert.Equal(t, "https://cdn.example/master.m3u8", stream.AllLinks[0].URL)
	assert.Equal(t, "https://cdn.example/ep1-1080.mp4", stream.AllLinks[1].URL)
}

func TestResolveQualitySelection(t *testing.T) {
	t.Parallel()

	encoded := encodeProviderPath(t, "/apivtwo/clock?id=q")
	manifest := `{"links":[` +
		`{"link":"https:\/\/cdn\/v-1080.mp4","resolutionStr":"1080p"},` +
		`{"link":"https:\/\/cdn\/v-720.mp4","resolutionStr":"720p"},` +
		`{"link":"https:\/\/cdn\/v-480.mp4","resolutionStr":"480p"}` +
		`]}`
	payload := sourcesPayload([2]string{encoded, "Default"})
	manifests := map[string]string{"/apivtwo/clock.json": manifest}

	t.Run("substring match", func(t *testing.T) {
		r := newResolverHarness(t, payload, manifests)
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "720")
		require.NoError(t, err)
		require.NotNil(t, stream)
		assert.Equal(t, "720p", stream.Resolution)
	})

	t.Run("worst takes the tail", func(t *testing.T) {
		r := newResolverHarness(t, payload, manifests)
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "worst")
		require.NoError(t, err)
		require.NotNil(t, stream)
		assert.Equal(t, "480p", stream.Resolution)
	})

	t.Run("unmatched substring falls back to best", func(t *testing.T) {
		r := newResolverHarness(t, payload, manifests)
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "4k")
		require.NoError(t, err)
		require.NotNil(t, stream)
		assert.Equal(t, "1080p", stream.Resolution)
	})
}

func TestResolveHardsubPreference(t *testing.T) {
	t.Parallel()

	encoded := encodeProviderPath(t, "/apivtwo/clock?id=hs")
	manifest := `{"streams":[` +
		`{"hls":true,"url":"https:\/\/h\/raw.m3u8","hardsub_lang":"pt-BR"},` +
		`{"hls":true,"url":"https:\/\/h\/en.m3u8","hardsub_lang":"en-US"}` +
		`]}`
	r := newResolverHarness(t, sourcesPayload([2]string{encoded, "Luf-mp4"}),
		map[string]string{"/apivtwo/clock.json": manifest})

	stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "https://h/en.m3u8", stream.URL)
	assert.Equal(t, "hls", stream.Resolution)
}

func TestResolveDirectLink(t *testing.T) {
	t.Parallel()

	encoded := encodeProviderPath(t, "https://cdn.example.com/video.mp4")
	r := newResolverHarness(t, sourcesPayload([2]string{encoded, "Yt-mp4"}), nil)

	stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "https://cdn.example.com/video.mp4", stream.URL)
	assert.Equal(t, "Mp4", stream.Resolution)
	assert.Equal(t, "Yt-mp4", stream.Provider)
}

func TestResolveSurvivesProviderFailures(t *testing.T) {
	t.Parallel()

	good := encodeProviderPath(t, "/apivtwo/clock?id=good")
	bad1 := encodeProviderPath(t, "/apivtwo/clock?id=bad1")
	bad2 := encodeProviderPath(t, "/apivtwo/clock?id=bad2")
	payload := sourcesPayload(
		[2]string{bad1, "Broken One"},
		[2]string{good, "Default"},
		[2]string{bad2, "Broken Two"},
	)

	var hits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.RawQuery != "id=good" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"links":[{"link":"https:\/\/cdn\/ok.m3u8","resolutionStr":"hls P"}]}`))
	}))
	t.Cleanup(provider.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(api.Close)

	catalog := NewClient(WithAPIURL(api.URL), WithHTTPClient(api.Client()))
	r := NewResolver(catalog, WithLinkBase(provider.URL), WithProviderHTTPClient(provider.Client()))

	stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "https://cdn/ok.m3u8", stream.URL)
	assert.Equal(t, "Default", stream.Provider)
	assert.Len(t, stream.AllLinks, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestResolveNoStreams(t *testing.T) {
	t.Parallel()

	t.Run("no sources at all", func(t *testing.T) {
		r := newResolverHarness(t, `{"data":{"episode":{"episodeString":"1","sourceUrls":[]}}}`, nil)
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
		require.NoError(t, err)
		assert.Nil(t, stream)
	})

	t.Run("every provider fails", func(t *testing.T) {
		encoded := encodeProviderPath(t, "/apivtwo/clock?id=dead")
		r := newResolverHarness(t, sourcesPayload([2]string{encoded, "Default"}), nil)
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
		require.NoError(t, err)
		assert.Nil(t, stream)
	})

	t.Run("provider answers with an HTML page", func(t *testing.T) {
		encoded := encodeProviderPath(t, "/apivtwo/clock?id=html")
		r := newResolverHarness(t, sourcesPayload([2]string{encoded, "Default"}),
			map[string]string{"/apivtwo/clock.json": "<html>blocked</html>"})
		stream, err := r.Resolve(context.Background(), "s", "1", "sub", "best")
		require.NoError(t, err)
		assert.Nil(t, stream)
	})
}

func TestExtractManifestLinksUnescapes(t *testing.T) {
	t.Parallel()

	body := `{"links":[{"link":"https:\/\/cdn\/a\/b.m3u8","resolutionStr":"hls P"}]}`
	links := extractManifestLinks(body, "Default")
	require.Len(t, links, 1)
	assert.Equal(t, "https://cdn/a/b.m3u8", links[0].URL)
}
