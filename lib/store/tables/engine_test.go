package tables

import (
	"bytes"
	"testing"

	"github.com/hexmirror/hexmirror/lib/store"
)

func TestApplyAndGet(t *testing.T) {
	e := NewEngine()

	code := e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v1")},
	}}, 1)
	if code != store.RetCSuccess {
		t.Fatalf("Apply() = %v, want success", code)
	}

	rec, found, err := e.Get(store.TablePackages, "local:foo")
	if err != nil || !found {
		t.Fatalf("Get() found=%v err=%v", found, err)
	}
	if !bytes.Equal(rec.Value, []byte("v1")) || rec.Rev != 1 {
		t.Errorf("Get() = %+v, want value v1 rev 1", rec)
	}

	// Get must hand out a copy, not a reference.
	rec.Value[0] = 'X'
	rec2, _, _ := e.Get(store.TablePackages, "local:foo")
	if !bytes.Equal(rec2.Value, []byte("v1")) {
		t.Errorf("Get() must return a copy, stored value was mutated")
	}
}

func TestGuardValidation(t *testing.T) {
	e := NewEngine()
	e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v1")},
	}}, 1)

	tests := []struct {
		name  string
		batch Batch
		want  store.RetCode
	}{
		{
			name: "Matching key guard",
			batch: Batch{
				Guards: []Guard{{Table: store.TablePackages, Key: "local:foo", Rev: 1, Exists: true}},
				Muts:   []Mutation{{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v2")}},
			},
			want: store.RetCSuccess,
		},
		{
			name: "Stale key guard",
			batch: Batch{
				Guards: []Guard{{Table: store.TablePackages, Key: "local:foo", Rev: 1, Exists: true}},
				Muts:   []Mutation{{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v3")}},
			},
			want: store.RetCConflict,
		},
		{
			name: "Absence guard on existing key",
			batch: Batch{
				Guards: []Guard{{Table: store.TablePackages, Key: "local:foo", Exists: false}},
				Muts:   []Mutation{{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v4")}},
			},
			want: store.RetCConflict,
		},
		{
			name: "Absence guard on missing key",
			batch: Batch{
				Guards: []Guard{{Table: store.TablePackages, Key: "local:other", Exists: false}},
				Muts:   []Mutation{{Op: MutPut, Table: store.TablePackages, Key: "local:other", Value: []byte("v")}},
			},
			want: store.RetCSuccess,
		},
		{
			name: "Unknown table",
			batch: Batch{
				Muts: []Mutation{{Op: MutPut, Table: store.Table("bogus"), Key: "k", Value: []byte("v")}},
			},
			want: store.RetCInvalidOperation,
		},
	}

	idx := uint64(2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := e.Apply(tt.batch, idx); code != tt.want {
				t.Errorf("Apply() = %v, want %v", code, tt.want)
			}
			idx++
		})
	}
}

func TestTableGuard(t *testing.T) {
	e := NewEngine()
	e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TableReleases, Key: "a", Value: []byte("1")},
	}}, 1)

	_, rev, err := e.Select(store.TableReleases)
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}

	// Another writer touches the table after the select.
	e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TableReleases, Key: "b", Value: []byte("2")},
	}}, 2)

	code := e.Apply(Batch{
		Guards: []Guard{{Table: store.TableReleases, Rev: rev, Exists: true}},
		Muts:   []Mutation{{Op: MutDelete, Table: store.TableReleases, Key: "a"}},
	}, 3)
	if code != store.RetCConflict {
		t.Errorf("Apply() with stale table guard = %v, want conflict", code)
	}
}

func TestConflictLeavesNoPartialState(t *testing.T) {
	e := NewEngine()
	e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v1")},
	}}, 1)

	code := e.Apply(Batch{
		Guards: []Guard{{Table: store.TablePackages, Key: "local:foo", Rev: 99, Exists: true}},
		Muts: []Mutation{
			{Op: MutPut, Table: store.TablePackages, Key: "local:new", Value: []byte("x")},
			{Op: MutDelete, Table: store.TablePackages, Key: "local:foo"},
		},
	}, 2)
	if code != store.RetCConflict {
		t.Fatalf("Apply() = %v, want conflict", code)
	}

	if _, found, _ := e.Get(store.TablePackages, "local:new"); found {
		t.Errorf("conflicting batch must not apply any mutation")
	}
	if _, found, _ := e.Get(store.TablePackages, "local:foo"); !found {
		t.Errorf("conflicting batch must not delete records")
	}
}

func TestSaveLoad(t *testing.T) {
	e := NewEngine()
	e.Apply(Batch{Muts: []Mutation{
		{Op: MutPut, Table: store.TablePackages, Key: "local:foo", Value: []byte("v1")},
		{Op: MutPut, Table: store.TableVersion, Key: "registry", Value: []byte("7")},
	}}, 5)

	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	restored := NewEngine()
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	rec, found, _ := restored.Get(store.TablePackages, "local:foo")
	if !found || !bytes.Equal(rec.Value, []byte("v1")) || rec.Rev != 5 {
		t.Errorf("restored record = %+v, want value v1 rev 5", rec)
	}
	if restored.WriteIdx() != 5 {
		t.Errorf("restored write index = %d, want 5", restored.WriteIdx())
	}

	if err := restored.Load(bytes.NewBufferString("not a snapshot")); err == nil {
		t.Errorf("Load() must reject data without the magic header")
	}
}
