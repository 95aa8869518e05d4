package serve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hexmirror/hexmirror/lib/blob"
	"github.com/hexmirror/hexmirror/lib/cluster"
	"github.com/hexmirror/hexmirror/lib/codec"
	"github.com/hexmirror/hexmirror/lib/registry"
	"github.com/hexmirror/hexmirror/lib/store/lstore"
)

func newTestMux() (*http.ServeMux, *cluster.Manager) {
	st := lstore.NewLocalStore()
	cdc := codec.NewJSONCodec()
	catalog := registry.New(st, blob.NewMemoryStore(), cdc, nil)
	manager := cluster.NewManager(st, cdc, cluster.NewNoopControl(), cluster.DefaultConfig())
	return newServeMux(catalog, manager, st), manager
}

func do(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestClusterJoinEndpoint(t *testing.T) {
	mux, manager := newTestMux()

	// An active member admits the new node on its behalf.
	rec := do(mux, http.MethodPost, "/cluster/join?node=node-2&addr=localhost:63002")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("join status = %d, want 204: %s", rec.Code, rec.Body)
	}
	members, err := manager.Members()
	if err != nil {
		t.Fatalf("Members() failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != "node-2" || members[0].Status != cluster.StatusActive {
		t.Errorf("unexpected members after join: %+v", members)
	}

	if rec := do(mux, http.MethodGet, "/cluster/join?node=x&addr=y"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET join status = %d, want 405", rec.Code)
	}
	if rec := do(mux, http.MethodPost, "/cluster/join?node=node-3"); rec.Code != http.StatusBadRequest {
		t.Errorf("join without addr status = %d, want 400", rec.Code)
	}
	// Admitting an already active node is refused.
	if rec := do(mux, http.MethodPost, "/cluster/join?node=node-2&addr=localhost:63002"); rec.Code != http.StatusConflict {
		t.Errorf("repeated join status = %d, want 409", rec.Code)
	}
}

func TestClusterLeaveRemoveEndpoints(t *testing.T) {
	mux, manager := newTestMux()

	if rec := do(mux, http.MethodPost, "/cluster/join?node=node-4&addr=localhost:63004"); rec.Code != http.StatusNoContent {
		t.Fatalf("join status = %d: %s", rec.Code, rec.Body)
	}

	// Removing a node that has not announced leave is refused.
	if rec := do(mux, http.MethodPost, "/cluster/remove?node=node-4"); rec.Code != http.StatusConflict {
		t.Errorf("remove before leave status = %d, want 409", rec.Code)
	}

	if rec := do(mux, http.MethodPost, "/cluster/leave?node=node-4"); rec.Code != http.StatusNoContent {
		t.Fatalf("leave status = %d: %s", rec.Code, rec.Body)
	}
	if rec := do(mux, http.MethodPost, "/cluster/remove?node=node-4"); rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d: %s", rec.Code, rec.Body)
	}

	members, err := manager.Members()
	if err != nil {
		t.Fatalf("Members() failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("members after remove = %+v, want none", members)
	}

	if rec := do(mux, http.MethodPost, "/cluster/leave"); rec.Code != http.StatusBadRequest {
		t.Errorf("leave without node status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestMux()

	rec := do(mux, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d: %s", rec.Code, rec.Body)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body does not decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	for _, field := range []string{"registry_version", "write_index", "members", "stale"} {
		if _, ok := body[field]; !ok {
			t.Errorf("health body misses %s: %v", field, body)
		}
	}
}
