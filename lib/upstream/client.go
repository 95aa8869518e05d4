package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cenk/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	circuit "github.com/rubyist/circuitbreaker"
)

var (
	log = logger.GetLogger("upstream")

	metricRequests = metrics.NewCounter(`hexmirror_upstream_requests_total`)
	metricFailures = metrics.NewCounter(`hexmirror_upstream_failures_total`)
)

const userAgent = "hexmirror/1.0"

// passthroughHeaders are the caching headers of a registry blob that are
// forwarded verbatim to clients. Everything else is dropped.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Etag",
	"Cache-Control",
	"Last-Modified",
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client talks to the upstream hex.pm API and repository CDN. It is safe for
// concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	breakers *xsync.MapOf[string, *circuit.Breaker]
}

// NewClient validates the config and creates an upstream client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		http:     newHTTPClient(cfg.Timeout),
		breakers: xsync.NewMapOf[string, *circuit.Breaker](),
	}, nil
}

// Enabled reports whether the upstream is switched on.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// breakerFor returns the circuit breaker of a host, creating it on first
// use. The breaker trips after 5 consecutive failures and recovers with
// exponential backoff.
func (c *Client) breakerFor(host string) *circuit.Breaker {
	breaker, _ := c.breakers.LoadOrCompute(host, func() *circuit.Breaker {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = 30 * time.Second
		expBackoff.MaxInterval = 5 * time.Minute
		expBackoff.Reset()

		return circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    expBackoff,
			ShouldTrip: circuit.ThresholdTripFunc(5),
		})
	})
	return breaker
}

// get performs one GET with retries and circuit breaking. It returns the
// response body and headers, or ErrDisabled, ErrNotFound or ErrUnavailable.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	if !c.cfg.Enabled {
		return nil, nil, ErrDisabled
	}

	host := hostOf(rawURL)
	breaker := c.breakerFor(host)
	if !breaker.Ready() {
		metricFailures.Inc()
		return nil, nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUnavailable)
	}

	var (
		body     []byte
		header   http.Header
		notFound error
	)

	op := func() error {
		err := breaker.Call(func() error {
			b, h, err := c.doGet(ctx, rawURL)
			if errors.Is(err, ErrNotFound) {
				// A 404 is a healthy upstream answer, it must neither trip
				// the breaker nor be retried.
				notFound = err
				return nil
			}
			body, header = b, h
			return err
		}, 0)
		if errors.Is(err, circuit.ErrBreakerOpen) {
			return backoff.Permanent(fmt.Errorf("circuit breaker open for %s: %w", host, ErrUnavailable))
		}
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.RetryAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		metricFailures.Inc()
		return nil, nil, err
	}
	if notFound != nil {
		return nil, nil, notFound
	}
	return body, header, nil
}

// doGet is a single request attempt with status mapping.
func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, */*")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", c.cfg.APIKey)
	}

	metricRequests.Inc()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
		}
		return body, resp.Header, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, ErrNotFound

	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}
}

// --------------------------------------------------------------------------
// API endpoints
// --------------------------------------------------------------------------

// Wire shapes of the hex.pm API.
type packageResponse struct {
	Name string `json:"name"`
	Meta struct {
		Description string            `json:"description"`
		Licenses    []string          `json:"licenses"`
		Links       map[string]string `json:"links"`
	} `json:"meta"`
	Releases  []releaseInfo `json:"releases"`
	Downloads struct {
		All uint64 `json:"all"`
	} `json:"downloads"`
	HTMLURL     string `json:"html_url"`
	DocsHTMLURL string `json:"docs_html_url"`
}

type releaseInfo struct {
	Version    string `json:"version"`
	InsertedAt string `json:"inserted_at"`
	URL        string `json:"url"`
}

type releaseResponse struct {
	Version     string `json:"version"`
	HasDocs     bool   `json:"has_docs"`
	Downloads   uint64 `json:"downloads"`
	HTMLURL     string `json:"html_url"`
	PackageURL  string `json:"package_url"`
	DocsHTMLURL string `json:"docs_html_url"`
	Retirement  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"retirement"`
	Requirements map[string]struct {
		Requirement string `json:"requirement"`
		Optional    bool   `json:"optional"`
		App         string `json:"app"`
		Repository  string `json:"repository"`
	} `json:"requirements"`
}

// FetchPackage fetches a package and all its releases from the upstream API.
// Per-release detail fetches that fail are logged and degrade to the basic
// release info instead of failing the whole package.
func (c *Client) FetchPackage(ctx context.Context, name string) (*PackageData, error) {
	raw, _, err := c.get(ctx, c.cfg.APIURL+"/packages/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	var resp packageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding package %s: %v", ErrUnavailable, name, err)
	}

	pkg := &PackageData{
		Name:        resp.Name,
		Description: resp.Meta.Description,
		Licenses:    resp.Meta.Licenses,
		Links:       resp.Meta.Links,
		Downloads:   resp.Downloads.All,
		HTMLURL:     resp.HTMLURL,
		DocsHTMLURL: resp.DocsHTMLURL,
	}
	for _, rel := range resp.Releases {
		pkg.Releases = append(pkg.Releases, c.fetchRelease(ctx, name, rel))
	}
	return pkg, nil
}

// fetchRelease loads the detail record of one release (requirements,
// retirement, docs flag).
func (c *Client) fetchRelease(ctx context.Context, name string, rel releaseInfo) ReleaseData {
	out := ReleaseData{Version: rel.Version, URL: rel.URL}
	out.InsertedAt, _ = time.Parse(time.RFC3339, rel.InsertedAt)

	detailURL := fmt.Sprintf("%s/packages/%s/releases/%s",
		c.cfg.APIURL, url.PathEscape(name), url.PathEscape(rel.Version))
	raw, _, err := c.get(ctx, detailURL)
	if err != nil {
		log.Warningf("failed to fetch release details for %s %s: %v", name, rel.Version, err)
		return out
	}

	var resp releaseResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Warningf("failed to decode release details for %s %s: %v", name, rel.Version, err)
		return out
	}

	out.Downloads = resp.Downloads
	out.HasDocs = resp.HasDocs
	out.HTMLURL = resp.HTMLURL
	out.PackageURL = resp.PackageURL
	out.DocsHTMLURL = resp.DocsHTMLURL
	if len(resp.Requirements) > 0 {
		out.Requirements = make(map[string]RequirementData, len(resp.Requirements))
		for dep, r := range resp.Requirements {
			out.Requirements[dep] = RequirementData{
				Requirement: r.Requirement,
				Optional:    r.Optional,
				App:         r.App,
				Repository:  r.Repository,
			}
		}
	}
	if resp.Retirement != nil {
		out.Retirement = &RetirementData{
			Reason:  resp.Retirement.Reason,
			Message: resp.Retirement.Message,
		}
	}
	return out
}

// FetchArtifact downloads the release tarball from the repository CDN.
func (c *Client) FetchArtifact(ctx context.Context, name, version string) ([]byte, error) {
	tarURL := fmt.Sprintf("%s/tarballs/%s-%s.tar",
		c.cfg.RepoURL, url.PathEscape(name), url.PathEscape(version))
	body, _, err := c.get(ctx, tarURL)
	return body, err
}

// FetchRegistryBlob fetches a raw registry blob (names, versions, package
// index entries) from the repository CDN and keeps only the passthrough
// caching headers.
func (c *Client) FetchRegistryBlob(ctx context.Context, path string) (*BlobData, error) {
	body, header, err := c.get(ctx, c.cfg.RepoURL+"/"+path)
	if err != nil {
		return nil, err
	}

	filtered := make(http.Header, len(passthroughHeaders))
	for _, name := range passthroughHeaders {
		if v := header.Get(name); v != "" {
			filtered.Set(name, v)
		}
	}
	return &BlobData{Body: body, Header: filtered}, nil
}
