package tap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zmcp/tap-aptem/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

const testMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="Aptem" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Student">
        <Key><PropertyRef Name="Id"/></Key>
        <Property Name="Id" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type="Edm.String"/>
        <Property Name="CreatedDate" Type="Edm.DateTimeOffset"/>
      </EntityType>
      <EntityType Name="User">
        <Key><PropertyRef Name="UserId"/></Key>
        <Property Name="UserId" Type="Edm.Int64" Nullable="false"/>
        <Property Name="Email" Type="Edm.String"/>
      </EntityType>
      <EntityType Name="Secret">
        <Key><PropertyRef Name="Id"/></Key>
        <Property Name="Id" Type="Edm.Int32" Nullable="false"/>
      </EntityType>
      <EntityContainer Name="Container">
        <EntitySet Name="Students" EntityType="Aptem.Student"/>
        <EntitySet Name="Users" EntityType="Aptem.User"/>
        <EntitySet Name="Secrets" EntityType="Aptem.Secret"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// aptemServer fakes the Aptem OData endpoints and records query strings
type aptemServer struct {
	mu      sync.Mutex
	queries map[string][]string
	server  *httptest.Server
	// students overrides the Students response
	students func(r *http.Request) (int, string)
}

func newAptemServer(t *testing.T) *aptemServer {
	t.Helper()
	a := &aptemServer{queries: map[string][]string{}}
	a.server = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.server.Close)
	return a
}

func (a *aptemServer) handle(w http.ResponseWriter, r *http.Request) {
	set := strings.TrimPrefix(r.URL.Path, "/odata/1.0/")
	a.mu.Lock()
	a.queries[set] = append(a.queries[set], r.URL.RawQuery)
	a.mu.Unlock()

	status, body := http.StatusOK, ""
	switch set {
	case "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		body = testMetadata
	case "Students":
		if a.students != nil {
			status, body = a.students(r)
			break
		}
		body = `{"value": [
			{"Id": 1, "Name": "Ada", "CreatedDate": "2024-01-02T00:00:00Z"},
			{"Id": 2, "Name": "Alan", "CreatedDate": "2024-01-05T10:00:00.5Z"},
			{"Id": 3, "Name": "Grace", "CreatedDate": "2024-01-03T00:00:00Z"}
		]}`
	case "Users":
		body = `{"value": [{"UserId": 7, "Email": "a@example.com"}]}`
	case "Secrets":
		status, body = http.StatusForbidden, `{"error": {"code": "Forbidden", "message": "No access"}}`
	default:
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (a *aptemServer) Queries(set string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries[set]...)
}

func (a *aptemServer) config() *config.Config {
	return &config.Config{
		APIToken:                 "test-token",
		BaseURL:                  a.server.URL + "/odata/1.0",
		ReplicationKeyCandidates: []string{"UpdatedDate", "CreatedDate"},
		DefaultPageSize:          100000,
		RequestTimeout:           5,
		ValidateRecords:          true,
	}
}

func newTap(t *testing.T, a *aptemServer, cfg *config.Config, opts Options) (*Tap, *bytes.Buffer, *test.Hook) {
	t.Helper()
	out := &bytes.Buffer{}
	logger, hook := test.NewNullLogger()
	opts.Output = out
	opts.Logger = logger
	opts.HTTPClient = a.server.Client()

	tp, err := New(cfg, opts)
	require.NoError(t, err)
	return tp, out, hook
}

type message struct {
	Type   string                 `json:"type"`
	Stream string                 `json:"stream"`
	Record map[string]interface{} `json:"record"`
	Value  struct {
		Bookmarks map[string]struct {
			ReplicationKey      string `json:"replication_key"`
			ReplicationKeyValue string `json:"replication_key_value"`
		} `json:"bookmarks"`
	} `json:"value"`
	KeyProperties []string `json:"key_properties"`
}

func readMessages(t *testing.T, out *bytes.Buffer) []message {
	t.Helper()
	var msgs []message
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var m message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m), scanner.Text())
		msgs = append(msgs, m)
	}
	return msgs
}

func summary(msgs []message) []string {
	s := make([]string, 0, len(msgs))
	for _, m := range msgs {
		s = append(s, strings.TrimSpace(m.Type+" "+m.Stream))
	}
	return s
}

func TestSync(t *testing.T) {
	a := newAptemServer(t)
	tp, out, hook := newTap(t, a, a.config(), Options{})

	require.NoError(t, tp.Sync(context.Background()))

	msgs := readMessages(t, out)
	assert.Equal(t, []string{
		"SCHEMA Students",
		"RECORD Students", "RECORD Students", "RECORD Students",
		"STATE",
		"SCHEMA Users",
		"RECORD Users",
		"STATE",
		"SCHEMA Secrets",
		"STATE",
	}, summary(msgs))

	final := msgs[len(msgs)-1].Value.Bookmarks
	require.Contains(t, final, "Students")
	assert.Equal(t, "CreatedDate", final["Students"].ReplicationKey)
	assert.Equal(t, "2024-01-05T10:00:00.5Z", final["Students"].ReplicationKeyValue)
	assert.NotContains(t, final, "Users", "full-table streams keep no bookmark")

	students := a.Queries("Students")
	require.Len(t, students, 1)
	assert.Contains(t, students[0], "%24orderby=CreatedDate")
	assert.NotContains(t, students[0], "%24filter")
	assert.Contains(t, a.Queries("Users")[0], "%24top=1000")

	var skipped bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["stream"] == "Secrets" {
			skipped = true
		}
		assert.NotEmpty(t, e.Data["sync_id"])
	}
	assert.True(t, skipped, "403 streams are skipped with a warning")
}

func TestSyncResumesFromStateFile(t *testing.T) {
	a := newAptemServer(t)
	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"bookmarks": {"Students": {
		"replication_key": "CreatedDate",
		"replication_key_value": "2024-01-04T00:00:00Z"
	}}}`), 0o600))

	a.students = func(r *http.Request) (int, string) {
		assert.Equal(t, "CreatedDate ge 2024-01-04T00:00:00Z", r.URL.Query().Get("$filter"))
		return http.StatusOK, `{"value": [{"Id": 2, "Name": "Alan", "CreatedDate": "2024-01-04T00:00:00Z"}]}`
	}

	tp, out, _ := newTap(t, a, a.config(), Options{StatePath: statePath})
	require.NoError(t, tp.Sync(context.Background()))

	msgs := readMessages(t, out)
	final := msgs[len(msgs)-1].Value.Bookmarks
	assert.Equal(t, "2024-01-04T00:00:00Z", final["Students"].ReplicationKeyValue)
}

func TestSyncStartDate(t *testing.T) {
	a := newAptemServer(t)
	a.students = func(r *http.Request) (int, string) {
		assert.Equal(t, "CreatedDate ge 2024-01-01T00:00:00Z", r.URL.Query().Get("$filter"))
		return http.StatusOK, `{"value": []}`
	}

	cfg := a.config()
	start, err := config.ParseStartDate("2024-01-01")
	require.NoError(t, err)
	cfg.StartDate = start

	tp, _, _ := newTap(t, a, cfg, Options{})
	require.NoError(t, tp.Sync(context.Background()))
	assert.Len(t, a.Queries("Students"), 1)
}

func TestSyncPersistsStateInSQLite(t *testing.T) {
	a := newAptemServer(t)
	cfg := a.config()
	cfg.StateBackend = "sqlite"
	cfg.StateURI = filepath.Join(t.TempDir(), "state.db")

	tp, _, _ := newTap(t, a, cfg, Options{})
	require.NoError(t, tp.Sync(context.Background()))

	a.students = func(r *http.Request) (int, string) {
		assert.Equal(t, "CreatedDate ge 2024-01-05T10:00:00Z", r.URL.Query().Get("$filter"))
		return http.StatusOK, `{"value": []}`
	}
	tp, _, _ = newTap(t, a, cfg, Options{})
	require.NoError(t, tp.Sync(context.Background()))
	assert.Len(t, a.Queries("Students"), 2)
}

func TestSyncURITooLong(t *testing.T) {
	a := newAptemServer(t)
	a.students = func(r *http.Request) (int, string) {
		return http.StatusRequestURITooLong, "URI Too Long"
	}

	tp, _, hook := newTap(t, a, a.config(), Options{})
	err := tp.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Students")

	var hinted bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "too many properties") {
			hinted = true
		}
	}
	assert.True(t, hinted)
	assert.Empty(t, a.Queries("Users"), "the sync stops at the failing stream")
}

func TestSyncWithCatalog(t *testing.T) {
	a := newAptemServer(t)
	tp, out, _ := newTap(t, a, a.config(), Options{})
	require.NoError(t, tp.Discover(context.Background(), out))

	var catalog map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &catalog))
	streams := catalog["streams"].([]interface{})
	require.Len(t, streams, 3)

	// keep only Students and deselect its Name property
	students := streams[0].(map[string]interface{})
	for _, m := range students["metadata"].([]interface{}) {
		entry := m.(map[string]interface{})
		breadcrumb := entry["breadcrumb"].([]interface{})
		meta := entry["metadata"].(map[string]interface{})
		if len(breadcrumb) == 0 {
			meta["selected"] = true
		}
		if len(breadcrumb) == 2 && breadcrumb[1] == "Name" {
			meta["selected"] = false
		}
	}
	catalog["streams"] = []interface{}{students, streams[1]}

	data, err := json.Marshal(catalog)
	require.NoError(t, err)
	catalogPath := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(catalogPath, data, 0o600))

	tp, out, _ = newTap(t, a, a.config(), Options{CatalogPath: catalogPath})
	require.NoError(t, tp.Sync(context.Background()))

	assert.Equal(t, []string{
		"SCHEMA Students",
		"RECORD Students", "RECORD Students", "RECORD Students",
		"STATE",
		"STATE",
	}, summary(readMessages(t, out)))
	assert.Empty(t, a.Queries("Users"), "unselected streams are not requested")
	// re-encoding through a map sorts the schema properties
	assert.Contains(t, a.Queries("Students")[0], "%24select=CreatedDate%2CId")
	assert.Len(t, a.Queries("$metadata"), 1, "a catalog skips discovery")
}

func TestDiscoverPropagatesErrors(t *testing.T) {
	a := newAptemServer(t)
	cfg := a.config()
	cfg.BaseURL = a.server.URL + "/missing"

	tp, out, _ := newTap(t, a, cfg, Options{})
	assert.Error(t, tp.Discover(context.Background(), out))
	assert.Empty(t, out.String())
}

func TestWriteAbout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAbout(&buf, "1.2.3"))

	var about map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &about))
	assert.Equal(t, "tap-aptem", about["name"])
	assert.Equal(t, "1.2.3", about["version"])
	assert.NotEmpty(t, about["settings"])
}
