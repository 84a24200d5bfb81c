package allanime

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/yasadev/ani-mate/internal/httpx"
	"github.com/yasadev/ani-mate/internal/logger"
	"github.com/yasadev/ani-mate/internal/models"
)

// The episode payload is scanned textually: AllAnime does not always
// return well-formed JSON for sourceUrls, so these patterns operate on
// the raw response body. Keep them separate from the typed JSON paths.
var (
	sourcePairRe = regexp.MustCompile(`"sourceUrl":"--([^"]*)"[^}]*"sourceName":"([^"]*)"`)
	linkPairRe   = regexp.MustCompile(`"link":"([^"]*)"[^}]*"resolutionStr":"([^"]*)"`)
	hlsHardsubRe = regexp.MustCompile(`"hls"[^}]*"url":"([^"]*)"[^}]*"hardsub_lang":"en-US"`)
	hlsAnyRe     = regexp.MustCompile(`"hls"[^}]*"url":"([^"]*)"`)
)

// provider manifests are small JSON documents; anything bigger is an
// error page or binary
const maxManifestSize = 50000

// Resolver turns a (show, episode, mode) triple into playable stream
// links by decoding every provider candidate and fetching them
// concurrently.
type Resolver struct {
	catalog         *Client
	httpClient      *http.Client
	linkBase        string
	providerTimeout time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLinkBase overrides the base URL prepended to relative provider
// paths.
func WithLinkBase(base string) ResolverOption {
	return func(r *Resolver) { r.linkBase = base }
}

// WithProviderTimeout bounds each provider manifest fetch.
func WithProviderTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.providerTimeout = d }
}

// WithProviderHTTPClient overrides the client used for manifest fetches.
func WithProviderHTTPClient(h *http.Client) ResolverOption {
	return func(r *Resolver) { r.httpClient = h }
}

// NewResolver creates a Resolver on top of the given catalog client.
func NewResolver(catalog *Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:         catalog,
		httpClient:      httpx.SharedClient(),
		linkBase:        Base,
		providerTimeout: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type sourceRef struct {
	encoded string
	name    string
}

// Resolve fetches every provider for the episode, extracts stream
// links, ranks them HLS-first, and selects one per quality ("best",
// "worst", or a substring such as "1080"). A single provider failing
// contributes zero links; only the catalog call itself failing is an
// error. When no provider yields a link the result is (nil, nil):
// no content, not a broken system.
func (r *Resolver) Resolve(ctx context.Context, showID, episode, mode, quality string) (*models.ResolvedStream, error) {
	if quality == "" {
		quality = "best"
	}

	raw, err := r.catalog.EpisodeSourcesRaw(ctx, showID, episode, mode)
	if err != nil {
		return nil, err
	}

	sources := extractSourceRefs(raw)
	if len(sources) == 0 {
		return nil, nil
	}

	// Unordered best-effort fan-out: all providers dispatched together,
	// each failure degrades to zero links without touching siblings.
	perProvider := make([][]models.ProviderLink, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(idx int, src sourceRef) {
			defer wg.Done()
			links, err := r.fetchProvider(ctx, src)
			if err != nil {
				logger.Debug("provider fetch failed", "provider", src.name, "err", err)
				return
			}
			perProvider[idx] = links
		}(i, src)
	}
	wg.Wait()

	var all []models.ProviderLink
	for _, links := range perProvider {
		all = append(all, links...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	rankLinks(all)
	selected := selectQuality(all, quality)

	return &models.ResolvedStream{
		URL:        selected.URL,
		Resolution: selected.Resolution,
		Provider:   selected.Provider,
		AllLinks:   all,
	}, nil
}

// extractSourceRefs pulls the "--"-prefixed sourceUrl/sourceName pairs
// out of the raw episode payload.
func extractSourceRefs(raw string) []sourceRef {
	var refs []sourceRef
	for _, m := range sourcePairRe.FindAllStringSubmatch(raw, -1) {
		refs = append(refs, sourceRef{encoded: m[1], name: m[2]})
	}
	return refs
}

// fetchProvider resolves one provider candidate: decode its path, then
// either synthesize a direct-file link or fetch the manifest endpoint
// and extract stream links from it.
func (r *Resolver) fetchProvider(ctx context.Context, src sourceRef) ([]models.ProviderLink, error) {
	path := DecodeProviderID(src.encoded)
	linkURL := path
	if !strings.HasPrefix(linkURL, "http") {
		linkURL = r.linkBase + path
	}

	// No manifest marker means the decoded path already points at a
	// video file.
	if !strings.Contains(linkURL, "clock.json") && !strings.Contains(linkURL, "/apivtwo/") {
		return []models.ProviderLink{directLink(linkURL, src.name)}, nil
	}

	body, err := r.fetchManifest(ctx, linkURL)
	if err != nil {
		return nil, err
	}
	return extractManifestLinks(body, src.name), nil
}

func directLink(linkURL, provider string) models.ProviderLink {
	resolution := "auto"
	pathOnly := linkURL
	if i := strings.IndexByte(pathOnly, '?'); i >= 0 {
		pathOnly = pathOnly[:i]
	}
	if strings.HasSuffix(strings.ToLower(pathOnly), ".mp4") ||
		strings.Contains(strings.ToLower(provider), "mp4") {
		resolution = "Mp4"
	}
	return models.ProviderLink{URL: linkURL, Resolution: resolution, Provider: provider}
}

func (r *Resolver) fetchManifest(ctx context.Context, manifestURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", httpx.UserAgent)
	req.Header.Set("Referer", Referer)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errors.Errorf("provider returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return "", err
	}
	text := string(body)
	if strings.HasPrefix(strings.TrimSpace(text), "<") || len(text) > maxManifestSize {
		return "", errors.New("provider returned non-manifest response")
	}
	return text, nil
}

// extractManifestLinks scans a provider manifest for (link,
// resolutionStr) pairs and HLS entries. HLS entries hard-subbed in
// English are preferred; when none match, any HLS entry is accepted.
func extractManifestLinks(body, provider string) []models.ProviderLink {
	var links []models.ProviderLink

	for _, m := range linkPairRe.FindAllStringSubmatch(body, -1) {
		links = append(links, models.ProviderLink{
			URL:        unescapeLink(m[1]),
			Resolution: m[2],
			Provider:   provider,
		})
	}

	for _, m := range hlsHardsubRe.FindAllStringSubmatch(body, -1) {
		links = append(links, models.ProviderLink{
			URL:        unescapeLink(m[1]),
			Resolution: "hls",
			Provider:   provider,
		})
	}

	if len(links) == 0 {
		for _, m := range hlsAnyRe.FindAllStringSubmatch(body, -1) {
			links = append(links, models.ProviderLink{
				URL:        unescapeLink(m[1]),
				Resolution: "hls",
				Provider:   provider,
			})
		}
	}

	return links
}

// unescapeLink undoes the JSON string escaping providers apply to URLs.
func unescapeLink(link string) string {
	link = strings.ReplaceAll(link, `\u002F`, "/")
	return strings.ReplaceAll(link, `\`, "")
}

func isHLS(l models.ProviderLink) bool {
	return strings.Contains(l.URL, ".m3u8") || strings.EqualFold(l.Resolution, "hls")
}

// rankLinks orders adaptive-manifest links before everything else,
// keeping the original order within each group.
func rankLinks(links []models.ProviderLink) {
	sort.SliceStable(links, func(i, j int) bool {
		return isHLS(links[i]) && !isHLS(links[j])
	})
}

// selectQuality picks a link from the ranked list: "best" takes the
// head, "worst" the tail, anything else the first resolution containing
// the requested value as a substring (falling back to best).
func selectQuality(links []models.ProviderLink, quality string) models.ProviderLink {
	switch quality {
	case "best":
		return links[0]
	case "worst":
		return links[len(links)-1]
	default:
		for _, l := range links {
			if strings.Contains(l.Resolution, quality) {
				return l
			}
		}
		return links[0]
	}
}
