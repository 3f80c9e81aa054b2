package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/store"
)

const bootstrapYAML = `
servers:
  - name: General
    owner: alice
    description: main hangout
    channels:
      - lobby
      - gaming
  - name: Private
    owner: bob
`

func TestImportBootstrapYAML(t *testing.T) {
	st := store.NewMemoryStore()

	if err := ImportBootstrapYAML([]byte(bootstrapYAML), st); err != nil {
		t.Fatalf("ImportBootstrapYAML: %v", err)
	}

	alice, err := st.GetUserByUsername("alice")
	if err != nil || alice == nil {
		t.Fatalf("owner not created: %v %v", alice, err)
	}
	servers, err := st.UserServers(alice.ID)
	if err != nil || len(servers) != 1 {
		t.Fatalf("UserServers = %+v, %v", servers, err)
	}
	if servers[0].Name != "General" || servers[0].OwnerID != alice.ID {
		t.Errorf("server = %+v", servers[0])
	}
	channels, err := st.ServerChannels(servers[0].ID)
	if err != nil || len(channels) != 2 {
		t.Fatalf("ServerChannels = %+v, %v", channels, err)
	}

	m, err := st.GetMember(servers[0].ID, alice.ID)
	if err != nil || m == nil {
		t.Fatalf("owner membership missing: %v %v", m, err)
	}
}

func TestImportBootstrapYAMLIsReapplyable(t *testing.T) {
	st := store.NewMemoryStore()

	if err := ImportBootstrapYAML([]byte(bootstrapYAML), st); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if err := ImportBootstrapYAML([]byte(bootstrapYAML), st); err != nil {
		t.Fatalf("second import: %v", err)
	}

	alice, _ := st.GetUserByUsername("alice")
	servers, _ := st.UserServers(alice.ID)
	if len(servers) != 1 {
		t.Fatalf("re-apply duplicated the server: %+v", servers)
	}
	channels, _ := st.ServerChannels(servers[0].ID)
	if len(channels) != 2 {
		t.Fatalf("re-apply duplicated channels: %+v", channels)
	}
}

func TestImportBootstrapYAMLMalformed(t *testing.T) {
	st := store.NewMemoryStore()
	if err := ImportBootstrapYAML([]byte("servers: ["), st); err == nil {
		t.Error("expected parse error")
	}
}

func TestExportBootstrapRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	if err := ImportBootstrapYAML([]byte(bootstrapYAML), st); err != nil {
		t.Fatalf("ImportBootstrapYAML: %v", err)
	}

	out, err := ExportBootstrapYAML(st, "alice")
	if err != nil {
		t.Fatalf("ExportBootstrapYAML: %v", err)
	}
	text := string(out)
	for _, want := range []string{"General", "lobby", "gaming", "alice"} {
		if !strings.Contains(text, want) {
			t.Errorf("export missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Private") {
		t.Error("export leaked another owner's server")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.TotalConnections.Add(3)
	m.ActiveConnections.Add(2)
	m.ChannelJoins.Add(5)

	s := m.Snapshot()
	if s.TotalConnections != 3 || s.ActiveConnections != 2 || s.ChannelJoins != 5 {
		t.Errorf("snapshot = %+v", s)
	}
	if !strings.Contains(m.JSON(), "\"channel_joins\": 5") {
		t.Errorf("JSON output missing counter: %s", m.JSON())
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{Store: store.NewMemoryStore()})
	srv.metrics.SuccessfulAuths.Add(7)
	srv.metrics.RefreshReads.Add(11)

	rec := httptest.NewRecorder()
	srv.handleMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"govox_auth_success_total 7",
		"govox_refresh_reads_total 11",
		"# TYPE govox_uptime_seconds gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestErrResponseTranslation(t *testing.T) {
	req := request{ID: "1", Op: "refreshUser"}

	resp := errResponse(req, apperr.NotFound("refreshUser", "no such user"))
	if resp.OK || resp.Error == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Error.Tag != apperr.TagNotFound || resp.Error.Status != http.StatusNotFound {
		t.Errorf("error = %+v", resp.Error)
	}

	// untyped failures become SERVER_ERROR with a 500
	resp = errResponse(req, errors.New("driver exploded"))
	if resp.Error.Tag != apperr.TagServerError || resp.Error.Status != http.StatusInternalServerError {
		t.Errorf("error = %+v", resp.Error)
	}
	if resp.Error.Part != "refreshUser" {
		t.Errorf("Part = %q, want the raising operation", resp.Error.Part)
	}
}
