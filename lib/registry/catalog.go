package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/singleflight"

	"github.com/hexmirror/hexmirror/lib/blob"
	"github.com/hexmirror/hexmirror/lib/codec"
	"github.com/hexmirror/hexmirror/lib/store"
	"github.com/hexmirror/hexmirror/lib/upstream"
)

var log = logger.GetLogger("registry")

// packageNamePattern is the allowed shape of a package name.
var packageNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// UpstreamSource is the part of the upstream client the catalog consumes.
// It is nil when the registry runs without an upstream.
type UpstreamSource interface {
	FetchPackage(ctx context.Context, name string) (*upstream.PackageData, error)
	FetchArtifact(ctx context.Context, name, version string) ([]byte, error)
}

// Catalog is the package catalog. All mutations run as store transactions
// and bump the registry version counter in the same commit; reads resolve
// name collisions between sources with local-wins priority.
type Catalog struct {
	store    store.IStore
	blobs    blob.IBlobStore
	codec    codec.ICodec
	upstream UpstreamSource
	fills    singleflight.Group
}

// New creates a catalog on top of the given collaborators. up may be nil for
// a registry without upstream access.
func New(s store.IStore, blobs blob.IBlobStore, cdc codec.ICodec, up UpstreamSource) *Catalog {
	return &Catalog{
		store:    s,
		blobs:    blobs,
		codec:    cdc,
		upstream: up,
	}
}

// --------------------------------------------------------------------------
// Row helpers
// --------------------------------------------------------------------------

// decode decodes one stored row into T.
func decode[T any](cdc codec.ICodec, data []byte) (T, error) {
	var v T
	if err := cdc.Decode(data, &v); err != nil {
		return v, fmt.Errorf("%w: decoding row: %v", ErrStorage, err)
	}
	return v, nil
}

// writeRow encodes and stages one row.
func (c *Catalog) writeRow(tx store.Tx, table store.Table, key string, v interface{}) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: encoding row: %v", ErrStorage, err)
	}
	return tx.Write(table, key, data)
}

// wrapStore maps store-level errors to ErrStorage. Domain errors returned by
// a transaction function pass through unchanged.
func wrapStore(err error) error {
	var se *store.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s", ErrStorage, se.Msg)
	}
	return err
}

// --------------------------------------------------------------------------
// Publish
// --------------------------------------------------------------------------

// PublishRequest carries everything needed to publish one local release.
type PublishRequest struct {
	Name         string
	Version      string
	Repository   string
	Meta         Meta
	ReleaseMeta  ReleaseMeta
	Requirements map[string]Requirement
	Tarball      []byte
	Docs         []byte
	Private      bool
	// Publisher becomes the initial owner when the package is new.
	Publisher string
}

// validate checks name, version and requirement ranges before anything is
// written.
func (r *PublishRequest) validate() error {
	if !packageNamePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, r.Name)
	}
	if _, err := semver.StrictNewVersion(r.Version); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, r.Version, err)
	}
	for dep, req := range r.Requirements {
		if dep == "" || req.Requirement == "" {
			return fmt.Errorf("%w: empty requirement for %q", ErrInvalidRequirements, dep)
		}
		if _, err := semver.NewConstraint(req.Requirement); err != nil {
			return fmt.Errorf("%w: %s: %q: %v", ErrInvalidRequirements, dep, req.Requirement, err)
		}
	}
	return nil
}

// Publish stores a new local release. Releases are immutable: publishing an
// existing (name, version) pair fails with ErrAlreadyExists. Re-publishing
// another version of an existing package updates the package metadata.
func (c *Catalog) Publish(req PublishRequest) (*Release, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	release := Release{
		PackageName:  req.Name,
		Version:      req.Version,
		Source:       SourceLocal,
		HasDocs:      len(req.Docs) > 0,
		Meta:         req.ReleaseMeta,
		Requirements: req.Requirements,
		InsertedAt:   now,
		UpdatedAt:    now,
		TarballKey:   tarballKey(req.Name, req.Version),
	}
	if release.HasDocs {
		release.DocsKey = docsKey(req.Name, req.Version)
	}

	// Releases are immutable: a duplicate must be rejected before the
	// artifacts are written, or the rejected publish would overwrite the
	// existing release's tarball. The transaction below re-checks under
	// isolation.
	relKey := releaseKey(SourceLocal, req.Name, req.Version)
	if _, ok, err := c.store.DirtyRead(store.TableReleases, relKey); err != nil {
		return nil, wrapStore(err)
	} else if ok {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyExists, req.Name, req.Version)
	}

	// Artifacts go to the blob store next. Blob writes are idempotent, so a
	// failed or retried transaction leaves at worst an orphaned blob behind,
	// never a release row without its tarball.
	if err := c.blobs.Put(release.TarballKey, req.Tarball); err != nil {
		return nil, fmt.Errorf("%w: storing tarball: %v", ErrStorage, err)
	}
	if release.HasDocs {
		if err := c.blobs.Put(release.DocsKey, req.Docs); err != nil {
			return nil, fmt.Errorf("%w: storing docs: %v", ErrStorage, err)
		}
	}

	err := c.store.Transaction(func(tx store.Tx) error {
		if _, ok, err := tx.Read(store.TableReleases, relKey); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: %s %s", ErrAlreadyExists, req.Name, req.Version)
		}

		pkgKey := packageKey(SourceLocal, req.Name)
		pkg := Package{
			Name:       req.Name,
			Repository: req.Repository,
			Meta:       req.Meta,
			Private:    req.Private,
			Source:     SourceLocal,
			InsertedAt: now,
			UpdatedAt:  now,
		}
		isNew := true
		if rec, ok, err := tx.Read(store.TablePackages, pkgKey); err != nil {
			return err
		} else if ok {
			prev, err := decode[Package](c.codec, rec.Value)
			if err != nil {
				return err
			}
			pkg.InsertedAt = prev.InsertedAt
			pkg.Downloads = prev.Downloads
			pkg.RecentDownloads = prev.RecentDownloads
			isNew = false
		}
		if err := c.writeRow(tx, store.TablePackages, pkgKey, pkg); err != nil {
			return err
		}
		if err := c.writeRow(tx, store.TableReleases, relKey, release); err != nil {
			return err
		}

		if isNew && req.Publisher != "" {
			owner := Owner{
				PackageName: req.Name,
				Username:    req.Publisher,
				Level:       LevelOwner,
				InsertedAt:  now,
			}
			if err := c.writeRow(tx, store.TableOwners, ownerKey(req.Name, req.Publisher), owner); err != nil {
				return err
			}
		}

		return bumpRegistryVersion(tx)
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	metricPublishTotal.Inc()
	log.Infof("published %s %s", req.Name, req.Version)
	return &release, nil
}

// --------------------------------------------------------------------------
// Resolve
// --------------------------------------------------------------------------

// Resolve returns a package with its releases. Lookup order is local row,
// then cached row, then a single-flighted upstream fetch that fills the
// cache. A disabled or 404-answering upstream yields ErrNotFound; network
// and server failures yield ErrUpstreamUnavailable.
func (c *Catalog) Resolve(ctx context.Context, name string) (*AnnotatedPackage, error) {
	ap, err := c.lookup(name)
	if err == nil {
		switch ap.Source {
		case SourceLocal:
			metricResolveLocal.Inc()
		case SourceCached:
			metricResolveCached.Inc()
		}
		return ap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	metricResolveMiss.Inc()
	if c.upstream == nil {
		return nil, fmt.Errorf("%w: package %s", ErrNotFound, name)
	}

	// Concurrent misses for the same name share one upstream fetch. The
	// cache fill itself is an idempotent upsert, so a racing fill that
	// slipped past the single flight is harmless.
	v, err, _ := c.fills.Do(name, func() (interface{}, error) {
		if ap, err := c.lookup(name); err == nil {
			return ap, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		data, err := c.upstream.FetchPackage(ctx, name)
		if err != nil {
			if errors.Is(err, upstream.ErrDisabled) || errors.Is(err, upstream.ErrNotFound) {
				return nil, fmt.Errorf("%w: package %s", ErrNotFound, name)
			}
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if err := c.cacheFill(data); err != nil {
			return nil, err
		}
		metricCacheFills.Inc()
		log.Infof("cache filled package %s with %d releases", name, len(data.Releases))
		return c.lookup(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AnnotatedPackage), nil
}

// lookup reads a package plus releases in one consistent snapshot,
// local-first.
func (c *Catalog) lookup(name string) (*AnnotatedPackage, error) {
	var out *AnnotatedPackage
	err := c.store.Transaction(func(tx store.Tx) error {
		for _, source := range []Source{SourceLocal, SourceCached} {
			rec, ok, err := tx.Read(store.TablePackages, packageKey(source, name))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			pkg, err := decode[Package](c.codec, rec.Value)
			if err != nil {
				return err
			}
			releases, err := c.releasesOf(tx, source, name)
			if err != nil {
				return err
			}
			out = &AnnotatedPackage{Package: pkg, Status: StatusActive, Releases: releases}
			return nil
		}
		return fmt.Errorf("%w: package %s", ErrNotFound, name)
	})
	if err != nil {
		return nil, wrapStore(err)
	}
	return out, nil
}

// releasesOf loads all releases of a (source, name) pair, newest version
// first. Versions that do not parse sort last by plain string order.
func (c *Catalog) releasesOf(tx store.Tx, source Source, name string) ([]Release, error) {
	prefix := releaseKeyPrefix(source, name)
	recs, err := tx.Select(store.TableReleases, func(rec store.Record) bool {
		return strings.HasPrefix(rec.Key, prefix)
	})
	if err != nil {
		return nil, err
	}

	releases := make([]Release, 0, len(recs))
	for _, rec := range recs {
		rel, err := decode[Release](c.codec, rec.Value)
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}

	sort.Slice(releases, func(i, j int) bool {
		vi, erri := semver.NewVersion(releases[i].Version)
		vj, errj := semver.NewVersion(releases[j].Version)
		switch {
		case erri == nil && errj == nil:
			return vi.GreaterThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return releases[i].Version > releases[j].Version
		}
	})
	return releases, nil
}

// ResolveRelease returns one release with the same source priority as
// Resolve. A full miss triggers a package resolve (and with it a potential
// cache fill) before giving up.
func (c *Catalog) ResolveRelease(ctx context.Context, name, version string) (*Release, error) {
	rel, err := c.lookupRelease(name, version)
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := c.Resolve(ctx, name); err != nil {
		return nil, err
	}
	return c.lookupRelease(name, version)
}

// lookupRelease reads one release row, local-first.
func (c *Catalog) lookupRelease(name, version string) (*Release, error) {
	var out *Release
	err := c.store.Transaction(func(tx store.Tx) error {
		for _, source := range []Source{SourceLocal, SourceCached} {
			rec, ok, err := tx.Read(store.TableReleases, releaseKey(source, name, version))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			rel, err := decode[Release](c.codec, rec.Value)
			if err != nil {
				return err
			}
			out = &rel
			return nil
		}
		return fmt.Errorf("%w: release %s %s", ErrNotFound, name, version)
	})
	if err != nil {
		return nil, wrapStore(err)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Cache fill
// --------------------------------------------------------------------------

// cacheFill upserts the upstream view of a package into the cached source.
// It never fails on pre-existing rows, so concurrent fills of the same
// package converge instead of erroring.
func (c *Catalog) cacheFill(data *upstream.PackageData) error {
	now := time.Now().UTC()
	return wrapStore(c.store.Transaction(func(tx store.Tx) error {
		pkgKey := packageKey(SourceCached, data.Name)
		pkg := Package{
			Name:       data.Name,
			Repository: "hexpm",
			Meta: Meta{
				Description: data.Description,
				Licenses:    data.Licenses,
				Links:       data.Links,
			},
			Downloads:   data.Downloads,
			Source:      SourceCached,
			InsertedAt:  now,
			UpdatedAt:   now,
			HTMLURL:     data.HTMLURL,
			DocsHTMLURL: data.DocsHTMLURL,
		}
		if rec, ok, err := tx.Read(store.TablePackages, pkgKey); err != nil {
			return err
		} else if ok {
			prev, err := decode[Package](c.codec, rec.Value)
			if err != nil {
				return err
			}
			pkg.InsertedAt = prev.InsertedAt
			pkg.RecentDownloads = prev.RecentDownloads
		}
		if err := c.writeRow(tx, store.TablePackages, pkgKey, pkg); err != nil {
			return err
		}

		for _, rel := range data.Releases {
			release := Release{
				PackageName:  data.Name,
				Version:      rel.Version,
				Source:       SourceCached,
				HasDocs:      rel.HasDocs,
				Downloads:    rel.Downloads,
				InsertedAt:   rel.InsertedAt,
				UpdatedAt:    now,
				URL:          rel.URL,
				HTMLURL:      rel.HTMLURL,
				PackageURL:   rel.PackageURL,
				DocsHTMLURL:  rel.DocsHTMLURL,
				TarballKey:   tarballKey(data.Name, rel.Version),
				Requirements: mapRequirements(rel.Requirements),
			}
			if rel.HasDocs {
				release.DocsKey = docsKey(data.Name, rel.Version)
			}
			if rel.Retirement != nil {
				reason := RetirementReason(rel.Retirement.Reason)
				if !reason.Valid() {
					reason = ReasonOther
				}
				release.Retired = true
				release.Retirement = &Retirement{
					Reason:  reason,
					Message: rel.Retirement.Message,
				}
			}
			rkey := releaseKey(SourceCached, data.Name, rel.Version)
			if err := c.writeRow(tx, store.TableReleases, rkey, release); err != nil {
				return err
			}
		}

		return bumpRegistryVersion(tx)
	}))
}

// mapRequirements converts upstream requirement records to catalog rows.
func mapRequirements(in map[string]upstream.RequirementData) map[string]Requirement {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]Requirement, len(in))
	for dep, r := range in {
		out[dep] = Requirement{
			Requirement: r.Requirement,
			Optional:    r.Optional,
			App:         r.App,
			Repository:  r.Repository,
		}
	}
	return out
}

// --------------------------------------------------------------------------
// List
// --------------------------------------------------------------------------

// SortOrder selects the ordering of List results.
type SortOrder string

const (
	SortName            SortOrder = "name"
	SortRecentDownloads SortOrder = "recent_downloads"
	SortTotalDownloads  SortOrder = "total_downloads"
	SortRecentlyUpdated SortOrder = "recently_updated"
	SortRecentlyCreated SortOrder = "recently_created"
)

// ListOptions filters and orders a package listing.
type ListOptions struct {
	// Source restricts the listing to one source; empty means all.
	Source Source
	// Search is a case-insensitive substring match on name and description.
	Search string
	// Sort defaults to SortName. All orders break ties by name ascending.
	Sort SortOrder
	// Page is 1-based.
	Page    int
	PerPage int
}

const (
	defaultPerPage = 50
	maxPerPage     = 100
)

// List returns one page of packages plus the total match count. Shadowed
// status is computed at query time: a cached row whose name also exists
// locally is marked shadowed. Listing reads a dirty snapshot; it never
// blocks writers.
func (c *Catalog) List(opts ListOptions) ([]AnnotatedPackage, int, error) {
	recs, err := c.store.DirtySelect(store.TablePackages, func(store.Record) bool { return true })
	if err != nil {
		return nil, 0, wrapStore(err)
	}

	packages := make([]AnnotatedPackage, 0, len(recs))
	localNames := make(map[string]bool)
	for _, rec := range recs {
		pkg, err := decode[Package](c.codec, rec.Value)
		if err != nil {
			return nil, 0, err
		}
		if pkg.Source == SourceLocal {
			localNames[pkg.Name] = true
		}
		packages = append(packages, AnnotatedPackage{Package: pkg, Status: StatusActive})
	}
	for i := range packages {
		if packages[i].Source == SourceCached && localNames[packages[i].Name] {
			packages[i].Status = StatusShadowed
		}
	}

	search := strings.ToLower(opts.Search)
	filtered := packages[:0]
	for _, ap := range packages {
		if opts.Source != "" && ap.Source != opts.Source {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ap.Name), search) &&
			!strings.Contains(strings.ToLower(ap.Meta.Description), search) {
			continue
		}
		filtered = append(filtered, ap)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		switch opts.Sort {
		case SortRecentDownloads:
			if a.RecentDownloads != b.RecentDownloads {
				return a.RecentDownloads > b.RecentDownloads
			}
		case SortTotalDownloads:
			if a.Downloads != b.Downloads {
				return a.Downloads > b.Downloads
			}
		case SortRecentlyUpdated:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
		case SortRecentlyCreated:
			if !a.InsertedAt.Equal(b.InsertedAt) {
				return a.InsertedAt.After(b.InsertedAt)
			}
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Source == SourceLocal && b.Source == SourceCached
	})

	total := len(filtered)

	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	start := (page - 1) * perPage
	if start >= total {
		return []AnnotatedPackage{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

// --------------------------------------------------------------------------
// Cache eviction
// --------------------------------------------------------------------------

// DeleteCached removes a cached package, its releases and their artifacts.
// Local packages are never deleted through this path. Each artifact blob is
// deleted exactly once, after the row deletion committed.
func (c *Catalog) DeleteCached(name string) error {
	var artifactKeys []string
	err := c.store.Transaction(func(tx store.Tx) error {
		artifactKeys = artifactKeys[:0] // fn may re-run on conflict

		pkgKey := packageKey(SourceCached, name)
		if _, ok, err := tx.Read(store.TablePackages, pkgKey); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: cached package %s", ErrNotFound, name)
		}

		keys, err := c.deleteCachedRows(tx, name)
		if err != nil {
			return err
		}
		artifactKeys = append(artifactKeys, keys...)

		return bumpRegistryVersion(tx)
	})
	if err != nil {
		return wrapStore(err)
	}

	c.deleteArtifacts(artifactKeys)
	log.Infof("deleted cached package %s", name)
	return nil
}

// ClearAllCached removes every cached package and returns how many were
// removed. Local packages are untouched. The registry version is bumped
// once.
func (c *Catalog) ClearAllCached() (int, error) {
	var (
		artifactKeys []string
		count        int
	)
	err := c.store.Transaction(func(tx store.Tx) error {
		artifactKeys = artifactKeys[:0]
		count = 0

		prefix := string(SourceCached) + ":"
		recs, err := tx.Select(store.TablePackages, func(rec store.Record) bool {
			return strings.HasPrefix(rec.Key, prefix)
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		for _, rec := range recs {
			pkg, err := decode[Package](c.codec, rec.Value)
			if err != nil {
				return err
			}
			keys, err := c.deleteCachedRows(tx, pkg.Name)
			if err != nil {
				return err
			}
			artifactKeys = append(artifactKeys, keys...)
			count++
		}

		return bumpRegistryVersion(tx)
	})
	if err != nil {
		return 0, wrapStore(err)
	}

	c.deleteArtifacts(artifactKeys)
	if count > 0 {
		log.Infof("cleared %d cached packages", count)
	}
	return count, nil
}

// deleteCachedRows stages the deletion of one cached package and all its
// releases, returning the blob keys of the release artifacts.
func (c *Catalog) deleteCachedRows(tx store.Tx, name string) ([]string, error) {
	prefix := releaseKeyPrefix(SourceCached, name)
	recs, err := tx.Select(store.TableReleases, func(rec store.Record) bool {
		return strings.HasPrefix(rec.Key, prefix)
	})
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, rec := range recs {
		rel, err := decode[Release](c.codec, rec.Value)
		if err != nil {
			return nil, err
		}
		if rel.TarballKey != "" {
			keys = append(keys, rel.TarballKey)
		}
		if rel.DocsKey != "" {
			keys = append(keys, rel.DocsKey)
		}
		if err := tx.Delete(store.TableReleases, rec.Key); err != nil {
			return nil, err
		}
	}
	if err := tx.Delete(store.TablePackages, packageKey(SourceCached, name)); err != nil {
		return nil, err
	}
	return keys, nil
}

// deleteArtifacts removes blobs after the row deletion committed, each key
// at most once. Blob misses are fine (the artifact may never have been
// downloaded); other failures are logged and skipped.
func (c *Catalog) deleteArtifacts(keys []string) {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := c.blobs.Delete(key); err != nil {
			log.Warningf("failed to delete artifact %s: %v", key, err)
		}
	}
}

// --------------------------------------------------------------------------
// Downloads and artifacts
// --------------------------------------------------------------------------

// RecordDownload increments the download counters of a release and its
// package. The registry version is not bumped: download counts are display
// data and must not invalidate client caches.
func (c *Catalog) RecordDownload(name, version string) error {
	err := c.store.Transaction(func(tx store.Tx) error {
		for _, source := range []Source{SourceLocal, SourceCached} {
			relKey := releaseKey(source, name, version)
			rec, ok, err := tx.Read(store.TableReleases, relKey)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			rel, err := decode[Release](c.codec, rec.Value)
			if err != nil {
				return err
			}
			rel.Downloads++
			if err := c.writeRow(tx, store.TableReleases, relKey, rel); err != nil {
				return err
			}

			pkgKey := packageKey(source, name)
			pkgRec, ok, err := tx.Read(store.TablePackages, pkgKey)
			if err != nil {
				return err
			}
			if ok {
				pkg, err := decode[Package](c.codec, pkgRec.Value)
				if err != nil {
					return err
				}
				pkg.Downloads++
				pkg.RecentDownloads++
				if err := c.writeRow(tx, store.TablePackages, pkgKey, pkg); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("%w: release %s %s", ErrNotFound, name, version)
	})
	if err != nil {
		return wrapStore(err)
	}
	metricDownloads.Inc()
	return nil
}

// GetArtifact returns the tarball of a release, fetching it from upstream
// on a cache miss of a cached release. The download is recorded on success.
func (c *Catalog) GetArtifact(ctx context.Context, name, version string) ([]byte, error) {
	rel, err := c.ResolveRelease(ctx, name, version)
	if err != nil {
		return nil, err
	}

	data, err := c.blobs.Get(rel.TarballKey)
	if errors.Is(err, blob.ErrNotFound) && rel.Source == SourceCached && c.upstream != nil {
		data, err = c.upstream.FetchArtifact(ctx, name, version)
		if err != nil {
			if errors.Is(err, upstream.ErrNotFound) || errors.Is(err, upstream.ErrDisabled) {
				return nil, fmt.Errorf("%w: artifact %s %s", ErrNotFound, name, version)
			}
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if putErr := c.blobs.Put(rel.TarballKey, data); putErr != nil {
			log.Warningf("failed to store artifact %s: %v", rel.TarballKey, putErr)
		}
	} else if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: artifact %s %s", ErrNotFound, name, version)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := c.RecordDownload(name, version); err != nil {
		log.Warningf("failed to record download of %s %s: %v", name, version, err)
	}
	return data, nil
}
