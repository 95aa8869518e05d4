package registry

import (
	"fmt"
	"strconv"

	"github.com/hexmirror/hexmirror/lib/store"
)

// registryVersionKey is the single row of the registry_version table.
const registryVersionKey = "registry"

// bumpRegistryVersion increments the monotone registry version counter as
// part of the surrounding transaction. Every catalog mutation that changes
// what clients may have cached must call this in the same commit; the
// counter therefore never moves without its mutation and vice versa.
func bumpRegistryVersion(tx store.Tx) error {
	rec, ok, err := tx.Read(store.TableVersion, registryVersionKey)
	if err != nil {
		return err
	}

	var current uint64
	if ok {
		current, err = strconv.ParseUint(string(rec.Value), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: corrupt registry version %q", ErrStorage, rec.Value)
		}
	}
	return tx.Write(store.TableVersion, registryVersionKey, []byte(strconv.FormatUint(current+1, 10)))
}

// RegistryVersion returns the current version counter. A fresh registry
// reports 0. The read is dirty: callers use the value for cache
// invalidation decisions, never for mutations.
func (c *Catalog) RegistryVersion() (uint64, error) {
	rec, ok, err := c.store.DirtyRead(store.TableVersion, registryVersionKey)
	if err != nil {
		return 0, wrapStore(err)
	}
	if !ok {
		return 0, nil
	}

	version, err := strconv.ParseUint(string(rec.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt registry version %q", ErrStorage, rec.Value)
	}
	return version, nil
}
