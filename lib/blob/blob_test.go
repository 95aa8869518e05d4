package blob

import (
	"bytes"
	"errors"
	"testing"
)

// testStores is a map of store name to factory function
func testStores(t *testing.T) map[string]IBlobStore {
	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}
	return map[string]IBlobStore{
		"Memory": NewMemoryStore(),
		"FS":     fsStore,
	}
}

func TestPutGetDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "tarballs/foo-1.0.0.tar"
			data := []byte("tar contents")

			if err := s.Put(key, data); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}

			got, err := s.Get(key)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Get() = %q, want %q", got, data)
			}

			// Overwrite
			if err := s.Put(key, []byte("new")); err != nil {
				t.Fatalf("Put() overwrite failed: %v", err)
			}
			got, _ = s.Get(key)
			if !bytes.Equal(got, []byte("new")) {
				t.Errorf("Get() after overwrite = %q, want new", got)
			}

			if err := s.Delete(key); err != nil {
				t.Fatalf("Delete() failed: %v", err)
			}
			if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete = %v, want ErrNotFound", err)
			}

			// Deleting a missing key is not an error.
			if err := s.Delete(key); err != nil {
				t.Errorf("Delete() of missing key = %v, want nil", err)
			}
		})
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}

	for _, key := range []string{"../outside", "/etc/passwd", "."} {
		if err := s.Put(key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}
