package upstream

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrDisabled is returned when the upstream is switched off by config.
	ErrDisabled = errors.New("upstream disabled")
	// ErrNotFound means the upstream answered 404 for the requested entity.
	ErrNotFound = errors.New("not found upstream")
	// ErrUnavailable means the upstream could not be reached, answered with
	// a server error, or its circuit breaker is open.
	ErrUnavailable = errors.New("upstream unavailable")
)

// PackageData is the upstream view of one package, already flattened from
// the hex.pm API responses.
type PackageData struct {
	Name        string
	Description string
	Licenses    []string
	Links       map[string]string
	Downloads   uint64
	HTMLURL     string
	DocsHTMLURL string
	Releases    []ReleaseData
}

// ReleaseData is the upstream view of one release of a package.
type ReleaseData struct {
	Version      string
	InsertedAt   time.Time
	Downloads    uint64
	HasDocs      bool
	URL          string
	HTMLURL      string
	PackageURL   string
	DocsHTMLURL  string
	Requirements map[string]RequirementData
	Retirement   *RetirementData
}

// RequirementData is one dependency declaration of an upstream release.
type RequirementData struct {
	Requirement string
	Optional    bool
	App         string
	Repository  string
}

// RetirementData is the upstream retirement record of a release.
type RetirementData struct {
	Reason  string
	Message string
}

// BlobData is a raw registry blob plus the caching headers the upstream sent
// with it. Header only contains the passthrough set (content-type,
// content-encoding, etag, cache-control, last-modified).
type BlobData struct {
	Body   []byte
	Header http.Header
}
