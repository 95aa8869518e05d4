// Package blob defines the artifact storage collaborator used by the
// catalog for release tarballs and documentation archives, together with an
// in-memory implementation for tests and a filesystem implementation for
// servers.
package blob
