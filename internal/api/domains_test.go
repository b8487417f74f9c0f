package api_test

import (
	"net/http"
	"testing"

	"github.com/mailaudit/mailaudit/internal/model"
)

func TestCreateDomain(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	var d model.Domain
	resp := ts.do(t, http.MethodPost, "/v1/domains", "alice",
		map[string]string{"name": "Example.COM."}, &d)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if d.Name != "example.com" {
		t.Errorf("name = %q, want normalized form", d.Name)
	}
	if d.OwnerID != "alice" || !d.Active {
		t.Errorf("domain = %+v", d)
	}
}

func TestCreateDomainRejectsInvalidNames(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	for _, name := range []string{"", "not a domain", "nodot", "-bad.example.com"} {
		resp := ts.do(t, http.MethodPost, "/v1/domains", "alice",
			map[string]string{"name": name}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("name %q: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestCreateDomainDuplicate(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	ts.createDomain(t, "alice", "example.com")

	resp := ts.do(t, http.MethodPost, "/v1/domains", "alice",
		map[string]string{"name": "example.com"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", resp.StatusCode)
	}

	// The same name under a different account is fine.
	resp = ts.do(t, http.MethodPost, "/v1/domains", "bob",
		map[string]string{"name": "example.com"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("other owner: status = %d, want 201", resp.StatusCode)
	}
}

func TestListDomainsScopedByOwner(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	ts.createDomain(t, "alice", "example.com")
	ts.createDomain(t, "alice", "example.org")
	ts.createDomain(t, "bob", "example.net")

	var list struct {
		Domains []*model.Domain `json:"domains"`
	}
	ts.do(t, http.MethodGet, "/v1/domains", "alice", nil, &list)
	if len(list.Domains) != 2 {
		t.Errorf("alice sees %d domains, want 2", len(list.Domains))
	}

	ts.do(t, http.MethodGet, "/v1/domains", "carol", nil, &list)
	if len(list.Domains) != 0 {
		t.Errorf("carol sees %d domains, want 0", len(list.Domains))
	}
}

func TestDeleteDomain(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	d := ts.createDomain(t, "alice", "example.com")

	var got model.Domain
	resp := ts.do(t, http.MethodDelete, "/v1/domains/"+d.ID, "alice", nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	if got.Active {
		t.Error("domain still active after delete")
	}

	// The name can be registered again afterwards.
	resp = ts.do(t, http.MethodPost, "/v1/domains", "alice",
		map[string]string{"name": "example.com"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("re-register: status = %d, want 201", resp.StatusCode)
	}
}

func TestDeleteDomainOwnership(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	d := ts.createDomain(t, "alice", "example.com")

	resp := ts.do(t, http.MethodDelete, "/v1/domains/"+d.ID, "mallory", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign delete: status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodDelete, "/v1/domains/no-such-id", "alice", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing delete: status = %d, want 404", resp.StatusCode)
	}
}
