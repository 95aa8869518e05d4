package registry

import (
	"fmt"
	"time"

	"github.com/hexmirror/hexmirror/lib/store"
)

// --------------------------------------------------------------------------
// Retirement
// --------------------------------------------------------------------------

// Retire marks a release as retired. The release stays resolvable and
// downloadable; retirement is advisory. Only owners of the package may
// retire. Re-retiring overwrites the previous record.
func (c *Catalog) Retire(name, version, username string, reason RetirementReason, message string) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidRetirement, reason)
	}

	now := time.Now().UTC()
	err := c.store.Transaction(func(tx store.Tx) error {
		if err := c.authorize(tx, name, username); err != nil {
			return err
		}

		relKey, rel, err := c.findRelease(tx, name, version)
		if err != nil {
			return err
		}

		rel.Retired = true
		rel.Retirement = &Retirement{
			Reason:    reason,
			Message:   message,
			RetiredBy: username,
			RetiredAt: now,
		}
		rel.UpdatedAt = now
		if err := c.writeRow(tx, store.TableReleases, relKey, rel); err != nil {
			return err
		}
		return bumpRegistryVersion(tx)
	})
	if err != nil {
		return wrapStore(err)
	}

	metricRetireTotal.Inc()
	log.Infof("retired %s %s (%s) by %s", name, version, reason, username)
	return nil
}

// Unretire removes the retirement record of a release. It fails with
// ErrNotRetired when the release is not retired.
func (c *Catalog) Unretire(name, version, username string) error {
	err := c.store.Transaction(func(tx store.Tx) error {
		if err := c.authorize(tx, name, username); err != nil {
			return err
		}

		relKey, rel, err := c.findRelease(tx, name, version)
		if err != nil {
			return err
		}
		if !rel.Retired {
			return fmt.Errorf("%w: %s %s", ErrNotRetired, name, version)
		}

		rel.Retired = false
		rel.Retirement = nil
		rel.UpdatedAt = time.Now().UTC()
		if err := c.writeRow(tx, store.TableReleases, relKey, rel); err != nil {
			return err
		}
		return bumpRegistryVersion(tx)
	})
	if err != nil {
		return wrapStore(err)
	}

	log.Infof("unretired %s %s by %s", name, version, username)
	return nil
}

// authorize checks that username is an owner or maintainer of the package.
func (c *Catalog) authorize(tx store.Tx, name, username string) error {
	_, ok, err := tx.Read(store.TableOwners, ownerKey(name, username))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not an owner of %s", ErrForbidden, username, name)
	}
	return nil
}

// findRelease locates a release with source priority inside a transaction.
func (c *Catalog) findRelease(tx store.Tx, name, version string) (string, Release, error) {
	for _, source := range []Source{SourceLocal, SourceCached} {
		relKey := releaseKey(source, name, version)
		rec, ok, err := tx.Read(store.TableReleases, relKey)
		if err != nil {
			return "", Release{}, err
		}
		if !ok {
			continue
		}
		rel, err := decode[Release](c.codec, rec.Value)
		if err != nil {
			return "", Release{}, err
		}
		return relKey, rel, nil
	}
	return "", Release{}, fmt.Errorf("%w: release %s %s", ErrNotFound, name, version)
}

// --------------------------------------------------------------------------
// Owners
// --------------------------------------------------------------------------

// AddOwner grants a user retirement rights on a package.
func (c *Catalog) AddOwner(name, username string, level OwnerLevel) error {
	if level != LevelOwner && level != LevelMaintainer {
		return fmt.Errorf("%w: unknown owner level %q", ErrInvalidRetirement, level)
	}

	owner := Owner{
		PackageName: name,
		Username:    username,
		Level:       level,
		InsertedAt:  time.Now().UTC(),
	}
	return wrapStore(c.store.Transaction(func(tx store.Tx) error {
		return c.writeRow(tx, store.TableOwners, ownerKey(name, username), owner)
	}))
}

// RemoveOwner revokes a user's rights on a package. Removing a missing
// owner fails with ErrNotFound.
func (c *Catalog) RemoveOwner(name, username string) error {
	return wrapStore(c.store.Transaction(func(tx store.Tx) error {
		if _, ok, err := tx.Read(store.TableOwners, ownerKey(name, username)); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: owner %s of %s", ErrNotFound, username, name)
		}
		return tx.Delete(store.TableOwners, ownerKey(name, username))
	}))
}

// Owners lists the owners of a package from a dirty snapshot.
func (c *Catalog) Owners(name string) ([]Owner, error) {
	prefix := name + "#"
	recs, err := c.store.DirtySelect(store.TableOwners, func(rec store.Record) bool {
		return len(rec.Key) > len(prefix) && rec.Key[:len(prefix)] == prefix
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	owners := make([]Owner, 0, len(recs))
	for _, rec := range recs {
		owner, err := decode[Owner](c.codec, rec.Value)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, nil
}
