package registry

import (
	"time"
)

// --------------------------------------------------------------------------
// Sources
// --------------------------------------------------------------------------

// Source is the origin tag of a package or release. A name may exist under
// both sources at once; reads resolve the collision (local wins). The source
// of a row never changes after creation.
type Source string

const (
	// SourceLocal marks rows published directly to this registry.
	SourceLocal Source = "local"
	// SourceCached marks rows mirrored from the upstream repository.
	SourceCached Source = "cached"
)

// --------------------------------------------------------------------------
// Package
// --------------------------------------------------------------------------

// Meta carries the descriptive metadata of a package.
type Meta struct {
	Description string            `json:"description"`
	Licenses    []string          `json:"licenses"`
	Links       map[string]string `json:"links"`
	Maintainers []string          `json:"maintainers"`
	Extra       map[string]string `json:"extra"`
}

// Package is one row of the packages table. Name is unique per source.
type Package struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Meta       Meta   `json:"meta"`
	Private    bool   `json:"private"`
	Downloads  uint64 `json:"downloads"`
	// RecentDownloads counts downloads served by this registry; unlike
	// Downloads it is never seeded from upstream totals.
	RecentDownloads uint64    `json:"recent_downloads"`
	Source          Source    `json:"source"`
	InsertedAt      time.Time `json:"inserted_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	HTMLURL         string    `json:"html_url"`
	DocsHTMLURL     string    `json:"docs_html_url"`
}

// --------------------------------------------------------------------------
// Release
// --------------------------------------------------------------------------

// Requirement is a single dependency of a release.
type Requirement struct {
	Requirement string `json:"requirement"`
	Optional    bool   `json:"optional"`
	App         string `json:"app"`
	Repository  string `json:"repository"`
}

// RetirementReason classifies why a release was withdrawn.
type RetirementReason string

const (
	ReasonRenamed    RetirementReason = "renamed"
	ReasonDeprecated RetirementReason = "deprecated"
	ReasonSecurity   RetirementReason = "security"
	ReasonInvalid    RetirementReason = "invalid"
	ReasonOther      RetirementReason = "other"
)

// Valid reports whether the reason is one of the known retirement reasons.
func (r RetirementReason) Valid() bool {
	switch r {
	case ReasonRenamed, ReasonDeprecated, ReasonSecurity, ReasonInvalid, ReasonOther:
		return true
	}
	return false
}

// Retirement records who withdrew a release, when and why. A retired release
// stays downloadable; the record is advisory metadata for clients.
type Retirement struct {
	Reason    RetirementReason `json:"reason"`
	Message   string           `json:"message"`
	RetiredBy string           `json:"retired_by"`
	RetiredAt time.Time        `json:"retired_at"`
}

// ReleaseMeta carries build metadata of a release.
type ReleaseMeta struct {
	BuildTools []string          `json:"build_tools"`
	Extra      map[string]string `json:"extra"`
}

// Release is one row of the releases table, keyed by
// (package name, version, source).
type Release struct {
	PackageName  string                 `json:"package_name"`
	Version      string                 `json:"version"`
	Source       Source                 `json:"source"`
	HasDocs      bool                   `json:"has_docs"`
	Meta         ReleaseMeta            `json:"meta"`
	Requirements map[string]Requirement `json:"requirements"`
	Retired      bool                   `json:"retired"`
	Retirement   *Retirement            `json:"retirement"`
	Downloads    uint64                 `json:"downloads"`
	InsertedAt   time.Time              `json:"inserted_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	URL          string                 `json:"url"`
	PackageURL   string                 `json:"package_url"`
	HTMLURL      string                 `json:"html_url"`
	DocsHTMLURL  string                 `json:"docs_html_url"`
	// Blob keys of the artifacts belonging to this release. DocsKey is empty
	// when HasDocs is false.
	TarballKey string `json:"tarball_key"`
	DocsKey    string `json:"docs_key"`
}

// --------------------------------------------------------------------------
// Owner
// --------------------------------------------------------------------------

// OwnerLevel is the authorization level of a package owner.
type OwnerLevel string

const (
	LevelOwner      OwnerLevel = "owner"
	LevelMaintainer OwnerLevel = "maintainer"
)

// Owner authorizes a user to retire and unretire releases of a package.
type Owner struct {
	PackageName string     `json:"package_name"`
	Username    string     `json:"username"`
	Level       OwnerLevel `json:"level"`
	InsertedAt  time.Time  `json:"inserted_at"`
}

// --------------------------------------------------------------------------
// Annotated views
// --------------------------------------------------------------------------

// PackageStatus is computed at query time, never stored.
type PackageStatus string

const (
	// StatusActive marks the authoritative row for its name.
	StatusActive PackageStatus = "active"
	// StatusShadowed marks a cached row whose name also exists as a local
	// row; the local row is authoritative.
	StatusShadowed PackageStatus = "shadowed"
)

// AnnotatedPackage is a package plus its query-time status. Resolve also
// attaches the releases of the package; List leaves them nil.
type AnnotatedPackage struct {
	Package
	Status   PackageStatus `json:"status"`
	Releases []Release     `json:"releases,omitempty"`
}

// --------------------------------------------------------------------------
// Table keys
// --------------------------------------------------------------------------

// packageKey is the packages-table key of a (source, name) pair.
func packageKey(source Source, name string) string {
	return string(source) + ":" + name
}

// releaseKey is the releases-table key of a (source, name, version) triple.
func releaseKey(source Source, name, version string) string {
	return string(source) + ":" + name + "@" + version
}

// releaseKeyPrefix matches all release keys of one (source, name) pair.
func releaseKeyPrefix(source Source, name string) string {
	return string(source) + ":" + name + "@"
}

// ownerKey is the owners-table key of a (package, username) pair.
func ownerKey(name, username string) string {
	return name + "#" + username
}

// tarballKey is the blob key of a release tarball.
func tarballKey(name, version string) string {
	return "tarballs/" + name + "-" + version + ".tar"
}

// docsKey is the blob key of a release documentation archive.
func docsKey(name, version string) string {
	return "docs/" + name + "-" + version + ".tar.gz"
}
