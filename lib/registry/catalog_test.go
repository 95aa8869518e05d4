package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hexmirror/hexmirror/lib/blob"
	"github.com/hexmirror/hexmirror/lib/codec"
	"github.com/hexmirror/hexmirror/lib/store/lstore"
	"github.com/hexmirror/hexmirror/lib/upstream"
)

// --------------------------------------------------------------------------
// Test fixtures
// --------------------------------------------------------------------------

// fakeUpstream is an in-memory UpstreamSource for catalog tests.
type fakeUpstream struct {
	mu        sync.Mutex
	packages  map[string]*upstream.PackageData
	artifacts map[string][]byte
	err       error
	fetches   atomic.Int32
	delay     time.Duration
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		packages:  make(map[string]*upstream.PackageData),
		artifacts: make(map[string][]byte),
	}
}

func (f *fakeUpstream) FetchPackage(ctx context.Context, name string) (*upstream.PackageData, error) {
	f.fetches.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pkg, ok := f.packages[name]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return pkg, nil
}

func (f *fakeUpstream) FetchArtifact(ctx context.Context, name, version string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.artifacts[name+"-"+version]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return data, nil
}

func newTestCatalog(up UpstreamSource) *Catalog {
	return New(lstore.NewLocalStore(), blob.NewMemoryStore(), codec.NewJSONCodec(), up)
}

func publishRequest(name, version string) PublishRequest {
	return PublishRequest{
		Name:      name,
		Version:   version,
		Meta:      Meta{Description: "a test package"},
		Tarball:   []byte("tar for " + name + " " + version),
		Publisher: "alice",
	}
}

func upstreamPackage(name string, versions ...string) *upstream.PackageData {
	pkg := &upstream.PackageData{
		Name:        name,
		Description: "upstream " + name,
		Licenses:    []string{"Apache-2.0"},
		Downloads:   42,
	}
	for _, v := range versions {
		pkg.Releases = append(pkg.Releases, upstream.ReleaseData{
			Version:    v,
			InsertedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Requirements: map[string]upstream.RequirementData{
				"decimal": {Requirement: "~> 2.0", App: "decimal"},
			},
		})
	}
	return pkg
}

// --------------------------------------------------------------------------
// Publish
// --------------------------------------------------------------------------

func TestPublishAndResolveLocal(t *testing.T) {
	c := newTestCatalog(nil)

	rel, err := c.Publish(publishRequest("ecto", "3.11.0"))
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if rel.Source != SourceLocal {
		t.Errorf("Source = %q, want local", rel.Source)
	}

	ap, err := c.Resolve(context.Background(), "ecto")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if ap.Source != SourceLocal || ap.Status != StatusActive {
		t.Errorf("resolved %q/%q, want local/active", ap.Source, ap.Status)
	}
	if len(ap.Releases) != 1 || ap.Releases[0].Version != "3.11.0" {
		t.Errorf("unexpected releases: %+v", ap.Releases)
	}
}

func TestPublishDuplicateVersion(t *testing.T) {
	c := newTestCatalog(nil)

	if _, err := c.Publish(publishRequest("ecto", "3.11.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if _, err := c.Publish(publishRequest("ecto", "3.11.0")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Publish() error = %v, want ErrAlreadyExists", err)
	}

	// A different version of the same package is fine.
	if _, err := c.Publish(publishRequest("ecto", "3.12.0")); err != nil {
		t.Errorf("Publish() of new version failed: %v", err)
	}
}

func TestPublishDuplicateKeepsArtifact(t *testing.T) {
	c := newTestCatalog(nil)

	first := publishRequest("ecto", "1.0.0")
	first.Tarball = []byte("original bytes")
	first.Docs = []byte("original docs")
	if _, err := c.Publish(first); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	// The rejected duplicate must not touch the stored artifacts.
	dup := publishRequest("ecto", "1.0.0")
	dup.Tarball = []byte("replacement bytes")
	dup.Docs = []byte("replacement docs")
	if _, err := c.Publish(dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Publish() error = %v, want ErrAlreadyExists", err)
	}

	data, err := c.GetArtifact(context.Background(), "ecto", "1.0.0")
	if err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}
	if string(data) != "original bytes" {
		t.Errorf("artifact after rejected duplicate = %q, want %q", data, "original bytes")
	}
	docs, err := c.blobs.Get(docsKey("ecto", "1.0.0"))
	if err != nil {
		t.Fatalf("docs blob missing: %v", err)
	}
	if string(docs) != "original docs" {
		t.Errorf("docs after rejected duplicate = %q, want %q", docs, "original docs")
	}
}

func TestPublishValidation(t *testing.T) {
	c := newTestCatalog(nil)

	tests := []struct {
		name    string
		mutate  func(*PublishRequest)
		wantErr error
	}{
		{"bad name", func(r *PublishRequest) { r.Name = "Not-Valid" }, ErrInvalidName},
		{"empty name", func(r *PublishRequest) { r.Name = "" }, ErrInvalidName},
		{"bad version", func(r *PublishRequest) { r.Version = "1.0" }, ErrInvalidVersion},
		{"version with prefix", func(r *PublishRequest) { r.Version = "v1.0.0" }, ErrInvalidVersion},
		{"bad range", func(r *PublishRequest) {
			r.Requirements = map[string]Requirement{"dep": {Requirement: "not a range"}}
		}, ErrInvalidRequirements},
		{"empty range", func(r *PublishRequest) {
			r.Requirements = map[string]Requirement{"dep": {}}
		}, ErrInvalidRequirements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := publishRequest("ecto", "1.0.0")
			tt.mutate(&req)
			if _, err := c.Publish(req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishAcceptsHexStyleRanges(t *testing.T) {
	c := newTestCatalog(nil)

	req := publishRequest("phoenix_live_view", "0.20.1")
	req.Requirements = map[string]Requirement{
		"phoenix": {Requirement: "~> 1.6.15", App: "phoenix"},
		"plug":    {Requirement: ">= 1.14.0, < 2.0.0", App: "plug"},
	}
	if _, err := c.Publish(req); err != nil {
		t.Errorf("Publish() failed: %v", err)
	}
}

func TestPublishBumpsRegistryVersion(t *testing.T) {
	c := newTestCatalog(nil)

	before, _ := c.RegistryVersion()
	if _, err := c.Publish(publishRequest("ecto", "1.0.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	after, _ := c.RegistryVersion()
	if after != before+1 {
		t.Errorf("registry version %d -> %d, want +1", before, after)
	}
}

func TestPublishRecordsOwner(t *testing.T) {
	c := newTestCatalog(nil)

	if _, err := c.Publish(publishRequest("ecto", "1.0.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	owners, err := c.Owners("ecto")
	if err != nil {
		t.Fatalf("Owners() failed: %v", err)
	}
	if len(owners) != 1 || owners[0].Username != "alice" || owners[0].Level != LevelOwner {
		t.Errorf("unexpected owners: %+v", owners)
	}
}

// --------------------------------------------------------------------------
// Resolve and cache fill
// --------------------------------------------------------------------------

func TestResolveFillsCacheFromUpstream(t *testing.T) {
	up := newFakeUpstream()
	pkg := upstreamPackage("decimal", "2.1.1", "2.0.0")
	pkg.Releases[0].URL = "https://hex.pm/api/packages/decimal/releases/2.1.1"
	pkg.Releases[0].HTMLURL = "https://hex.pm/packages/decimal/2.1.1"
	pkg.Releases[0].PackageURL = "https://hex.pm/api/packages/decimal"
	up.packages["decimal"] = pkg
	c := newTestCatalog(up)

	ap, err := c.Resolve(context.Background(), "decimal")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if ap.Source != SourceCached || ap.Status != StatusActive {
		t.Errorf("resolved %q/%q, want cached/active", ap.Source, ap.Status)
	}
	if len(ap.Releases) != 2 {
		t.Fatalf("len(Releases) = %d, want 2", len(ap.Releases))
	}
	// Newest version first.
	if ap.Releases[0].Version != "2.1.1" {
		t.Errorf("first release = %s, want 2.1.1", ap.Releases[0].Version)
	}
	// Per-release URLs come from the upstream release record.
	rel := ap.Releases[0]
	if rel.URL != "https://hex.pm/api/packages/decimal/releases/2.1.1" ||
		rel.HTMLURL != "https://hex.pm/packages/decimal/2.1.1" ||
		rel.PackageURL != "https://hex.pm/api/packages/decimal" {
		t.Errorf("release URLs not carried from upstream: url=%q html=%q package=%q",
			rel.URL, rel.HTMLURL, rel.PackageURL)
	}

	// The second resolve is served from the cache.
	if _, err := c.Resolve(context.Background(), "decimal"); err != nil {
		t.Fatalf("second Resolve() failed: %v", err)
	}
	if got := up.fetches.Load(); got != 1 {
		t.Errorf("upstream fetched %d times, want 1", got)
	}
}

func TestResolveMissWithoutUpstream(t *testing.T) {
	c := newTestCatalog(nil)
	if _, err := c.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolveDisabledUpstreamIsNotFound(t *testing.T) {
	up := newFakeUpstream()
	up.err = upstream.ErrDisabled
	c := newTestCatalog(up)

	if _, err := c.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolveUpstreamFailure(t *testing.T) {
	up := newFakeUpstream()
	up.err = upstream.ErrUnavailable
	c := newTestCatalog(up)

	if _, err := c.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestResolveLocalShadowsCached(t *testing.T) {
	up := newFakeUpstream()
	up.packages["ecto"] = upstreamPackage("ecto", "3.10.0")
	c := newTestCatalog(up)

	// Fill the cache, then publish a local package under the same name.
	if _, err := c.Resolve(context.Background(), "ecto"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if _, err := c.Publish(publishRequest("ecto", "0.1.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	ap, err := c.Resolve(context.Background(), "ecto")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if ap.Source != SourceLocal {
		t.Errorf("Source = %q, want local (local wins)", ap.Source)
	}
	if len(ap.Releases) != 1 || ap.Releases[0].Version != "0.1.0" {
		t.Errorf("releases must come from the local source only: %+v", ap.Releases)
	}

	// The cached rows still exist, they are just shadowed.
	list, _, err := c.List(ListOptions{Source: SourceCached})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != StatusShadowed {
		t.Errorf("cached row should be shadowed: %+v", list)
	}
}

func TestConcurrentResolveFillsOnce(t *testing.T) {
	up := newFakeUpstream()
	up.packages["jason"] = upstreamPackage("jason", "1.4.0")
	up.delay = 20 * time.Millisecond
	c := newTestCatalog(up)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Resolve(context.Background(), "jason")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: Resolve() failed: %v", i, err)
		}
	}
	if got := up.fetches.Load(); got != 1 {
		t.Errorf("upstream fetched %d times, want 1 (single flight)", got)
	}

	// Exactly one cached row exists.
	list, total, err := c.List(ListOptions{Source: SourceCached})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("total = %d, len = %d, want 1/1", total, len(list))
	}
}

func TestCacheFillIsIdempotent(t *testing.T) {
	up := newFakeUpstream()
	up.packages["jason"] = upstreamPackage("jason", "1.4.0")
	c := newTestCatalog(up)

	data := up.packages["jason"]
	if err := c.cacheFill(data); err != nil {
		t.Fatalf("cacheFill() failed: %v", err)
	}
	if err := c.cacheFill(data); err != nil {
		t.Fatalf("second cacheFill() failed: %v", err)
	}

	_, total, err := c.List(ListOptions{Source: SourceCached})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestCacheFillCarriesUpstreamRetirement(t *testing.T) {
	up := newFakeUpstream()
	pkg := upstreamPackage("poison", "5.0.0")
	pkg.Releases[0].Retirement = &upstream.RetirementData{Reason: "deprecated", Message: "use jason"}
	up.packages["poison"] = pkg
	c := newTestCatalog(up)

	ap, err := c.Resolve(context.Background(), "poison")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	rel := ap.Releases[0]
	if !rel.Retired || rel.Retirement == nil || rel.Retirement.Reason != ReasonDeprecated {
		t.Errorf("unexpected retirement: %+v", rel.Retirement)
	}
}

func TestResolveRelease(t *testing.T) {
	up := newFakeUpstream()
	up.packages["decimal"] = upstreamPackage("decimal", "2.1.1")
	c := newTestCatalog(up)

	if _, err := c.Publish(publishRequest("ecto", "3.11.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	rel, err := c.ResolveRelease(context.Background(), "ecto", "3.11.0")
	if err != nil {
		t.Fatalf("ResolveRelease() failed: %v", err)
	}
	if rel.Source != SourceLocal {
		t.Errorf("Source = %q, want local", rel.Source)
	}

	// Miss triggers a cache fill.
	rel, err = c.ResolveRelease(context.Background(), "decimal", "2.1.1")
	if err != nil {
		t.Fatalf("ResolveRelease() failed: %v", err)
	}
	if rel.Source != SourceCached {
		t.Errorf("Source = %q, want cached", rel.Source)
	}

	if _, err := c.ResolveRelease(context.Background(), "decimal", "9.9.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveRelease() error = %v, want ErrNotFound", err)
	}
}

// --------------------------------------------------------------------------
// List
// --------------------------------------------------------------------------

func seedListFixtures(t *testing.T, c *Catalog) {
	t.Helper()
	for _, name := range []string{"ecto", "phoenix", "absinthe"} {
		if _, err := c.Publish(publishRequest(name, "1.0.0")); err != nil {
			t.Fatalf("Publish(%s) failed: %v", name, err)
		}
	}
	if err := c.cacheFill(upstreamPackage("jason", "1.4.0")); err != nil {
		t.Fatalf("cacheFill() failed: %v", err)
	}
	if err := c.cacheFill(upstreamPackage("ecto", "3.10.0")); err != nil {
		t.Fatalf("cacheFill() failed: %v", err)
	}
}

func TestListSourcesAndShadowing(t *testing.T) {
	c := newTestCatalog(nil)
	seedListFixtures(t, c)

	all, total, err := c.List(ListOptions{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}

	shadowed := 0
	for _, ap := range all {
		if ap.Status == StatusShadowed {
			shadowed++
			if ap.Name != "ecto" || ap.Source != SourceCached {
				t.Errorf("unexpected shadowed package: %+v", ap.Package)
			}
		}
	}
	if shadowed != 1 {
		t.Errorf("shadowed = %d, want 1", shadowed)
	}

	local, _, _ := c.List(ListOptions{Source: SourceLocal})
	if len(local) != 3 {
		t.Errorf("local count = %d, want 3", len(local))
	}
	cached, _, _ := c.List(ListOptions{Source: SourceCached})
	if len(cached) != 2 {
		t.Errorf("cached count = %d, want 2", len(cached))
	}
}

func TestListSearch(t *testing.T) {
	c := newTestCatalog(nil)
	seedListFixtures(t, c)

	got, total, err := c.List(ListOptions{Search: "PHOE"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 1 || got[0].Name != "phoenix" {
		t.Errorf("search = %+v (total %d), want phoenix", got, total)
	}

	// Description matches too.
	_, total, _ = c.List(ListOptions{Search: "test package"})
	if total != 3 {
		t.Errorf("description search total = %d, want 3", total)
	}
}

func TestListSortOrders(t *testing.T) {
	c := newTestCatalog(nil)

	for i, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := c.Publish(publishRequest(name, "1.0.0")); err != nil {
			t.Fatalf("Publish(%s) failed: %v", name, err)
		}
		for j := 0; j <= i; j++ {
			if err := c.RecordDownload(name, "1.0.0"); err != nil {
				t.Fatalf("RecordDownload(%s) failed: %v", name, err)
			}
		}
	}

	byName, _, _ := c.List(ListOptions{Sort: SortName})
	if byName[0].Name != "alpha" || byName[2].Name != "zeta" {
		t.Errorf("name order wrong: %v, %v, %v", byName[0].Name, byName[1].Name, byName[2].Name)
	}

	// zeta 1 download, alpha 2, mid 3
	byDownloads, _, _ := c.List(ListOptions{Sort: SortTotalDownloads})
	if byDownloads[0].Name != "mid" || byDownloads[2].Name != "zeta" {
		t.Errorf("download order wrong: %v, %v, %v",
			byDownloads[0].Name, byDownloads[1].Name, byDownloads[2].Name)
	}

	byRecent, _, _ := c.List(ListOptions{Sort: SortRecentDownloads})
	if byRecent[0].Name != "mid" {
		t.Errorf("recent download order wrong: %v", byRecent[0].Name)
	}
}

func TestListPagination(t *testing.T) {
	c := newTestCatalog(nil)
	for i := 0; i < 5; i++ {
		if _, err := c.Publish(publishRequest(fmt.Sprintf("pkg_%d", i), "1.0.0")); err != nil {
			t.Fatalf("Publish() failed: %v", err)
		}
	}

	page1, total, err := c.List(ListOptions{PerPage: 2, Page: 1})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if total != 5 || len(page1) != 2 {
		t.Errorf("page 1: total = %d, len = %d, want 5/2", total, len(page1))
	}

	page3, total, _ := c.List(ListOptions{PerPage: 2, Page: 3})
	if total != 5 || len(page3) != 1 {
		t.Errorf("page 3: total = %d, len = %d, want 5/1", total, len(page3))
	}

	beyond, total, _ := c.List(ListOptions{PerPage: 2, Page: 4})
	if total != 5 || len(beyond) != 0 {
		t.Errorf("page 4: total = %d, len = %d, want 5/0", total, len(beyond))
	}
}

// --------------------------------------------------------------------------
// Cache eviction
// --------------------------------------------------------------------------

func TestDeleteCached(t *testing.T) {
	up := newFakeUpstream()
	up.packages["jason"] = upstreamPackage("jason", "1.4.0")
	up.artifacts["jason-1.4.0"] = []byte("jason tar")
	c := newTestCatalog(up)

	if _, err := c.Resolve(context.Background(), "jason"); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	// Pull the artifact so a blob exists.
	if _, err := c.GetArtifact(context.Background(), "jason", "1.4.0"); err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}

	before, _ := c.RegistryVersion()
	if err := c.DeleteCached("jason"); err != nil {
		t.Fatalf("DeleteCached() failed: %v", err)
	}
	after, _ := c.RegistryVersion()
	if after != before+1 {
		t.Errorf("registry version %d -> %d, want +1", before, after)
	}

	if _, err := c.lookup("jason"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after delete = %v, want ErrNotFound", err)
	}
	if _, err := c.blobs.Get(tarballKey("jason", "1.4.0")); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("artifact blob survived the delete: %v", err)
	}
}

func TestDeleteCachedRejectsLocal(t *testing.T) {
	c := newTestCatalog(nil)
	if _, err := c.Publish(publishRequest("ecto", "1.0.0")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	if err := c.DeleteCached("ecto"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteCached() of local package = %v, want ErrNotFound", err)
	}
	if _, err := c.Resolve(context.Background(), "ecto"); err != nil {
		t.Errorf("local package must survive: %v", err)
	}
}

func TestClearAllCached(t *testing.T) {
	c := newTestCatalog(nil)
	seedListFixtures(t, c)

	before, _ := c.RegistryVersion()
	count, err := c.ClearAllCached()
	if err != nil {
		t.Fatalf("ClearAllCached() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	after, _ := c.RegistryVersion()
	if after != before+1 {
		t.Errorf("registry version %d -> %d, want exactly +1", before, after)
	}

	_, total, _ := c.List(ListOptions{Source: SourceCached})
	if total != 0 {
		t.Errorf("cached total = %d, want 0", total)
	}
	_, total, _ = c.List(ListOptions{Source: SourceLocal})
	if total != 3 {
		t.Errorf("local total = %d, want 3", total)
	}

	// Clearing an empty cache is a no-op and does not bump the version.
	count, err = c.ClearAllCached()
	if err != nil || count != 0 {
		t.Errorf("second ClearAllCached() = %d, %v, want 0, nil", count, err)
	}
	final, _ := c.RegistryVersion()
	if final != after {
		t.Errorf("registry version moved on empty clear: %d -> %d", after, final)
	}
}

// --------------------------------------------------------------------------
// Downloads and artifacts
// --------------------------------------------------------------------------

func TestGetArtifactLocal(t *testing.T) {
	c := newTestCatalog(nil)
	req := publishRequest("ecto", "1.0.0")
	if _, err := c.Publish(req); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	data, err := c.GetArtifact(context.Background(), "ecto", "1.0.0")
	if err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}
	if string(data) != string(req.Tarball) {
		t.Errorf("GetArtifact() = %q, want %q", data, req.Tarball)
	}

	rel, _ := c.lookupRelease("ecto", "1.0.0")
	if rel.Downloads != 1 {
		t.Errorf("Downloads = %d, want 1", rel.Downloads)
	}
}

func TestGetArtifactLazyUpstreamFetch(t *testing.T) {
	up := newFakeUpstream()
	up.packages["jason"] = upstreamPackage("jason", "1.4.0")
	up.artifacts["jason-1.4.0"] = []byte("jason tar")
	c := newTestCatalog(up)

	data, err := c.GetArtifact(context.Background(), "jason", "1.4.0")
	if err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}
	if string(data) != "jason tar" {
		t.Errorf("GetArtifact() = %q", data)
	}

	// The artifact is now cached in the blob store.
	if _, err := c.blobs.Get(tarballKey("jason", "1.4.0")); err != nil {
		t.Errorf("artifact not cached: %v", err)
	}
}

func TestRecordDownloadUnknownRelease(t *testing.T) {
	c := newTestCatalog(nil)
	if err := c.RecordDownload("ghost", "1.0.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordDownload() = %v, want ErrNotFound", err)
	}
}

// --------------------------------------------------------------------------
// Registry version invariants
// --------------------------------------------------------------------------

func TestRegistryVersionIsMonotone(t *testing.T) {
	up := newFakeUpstream()
	up.packages["jason"] = upstreamPackage("jason", "1.4.0")
	c := newTestCatalog(up)

	var versions []uint64
	record := func() {
		v, err := c.RegistryVersion()
		if err != nil {
			t.Fatalf("RegistryVersion() failed: %v", err)
		}
		versions = append(versions, v)
	}

	record()
	c.Publish(publishRequest("ecto", "1.0.0"))
	record()
	c.Resolve(context.Background(), "jason")
	record()
	c.Retire("ecto", "1.0.0", "alice", ReasonSecurity, "CVE")
	record()
	c.Unretire("ecto", "1.0.0", "alice")
	record()
	c.DeleteCached("jason")
	record()

	for i := 1; i < len(versions); i++ {
		if versions[i] != versions[i-1]+1 {
			t.Errorf("version step %d: %d -> %d, want +1", i, versions[i-1], versions[i])
		}
	}
}
