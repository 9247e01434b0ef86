package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/graphql"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	auth.BcryptCost = bcrypt.MinCost
}

const (
	mainStreet = `{"type":"Feature","properties":{"name":"Main St"},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`
	sideStreet = `{"type":"Feature","properties":{"name":"Side St"},"geometry":{"type":"LineString","coordinates":[[2,2],[3,3]]}}`
)

func collection(features ...string) string {
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

type testServer struct {
	*httptest.Server
	metrics *metrics.Registry
	apiKey  string
}

// setupTestServer creates a test server with one customer
func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	s := store.NewMemoryStore(time.Second)
	t.Cleanup(s.Close)

	m := metrics.NewRegistry()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := service.New(s, service.Options{
		Metrics: m,
		Clock: func() time.Time {
			now = now.Add(time.Hour)
			return now
		},
	})
	authn, err := auth.NewAuthenticator(s, 16, nil, m)
	require.NoError(t, err)

	schema, err := graphql.NewSchema(svc, nil)
	require.NoError(t, err)

	opts.Metrics = m
	opts.GraphQL = graphql.NewGraphQLHandler(schema, 0, nil)
	srv := NewServer(svc, authn, opts)

	ts := &testServer{Server: httptest.NewServer(srv.Handler()), metrics: m}
	t.Cleanup(ts.Close)

	resp := ts.do(t, http.MethodPost, "/api/customers", "", strings.NewReader(`{"name":"acme"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created CustomerResponse
	decode(t, resp, &created)
	ts.apiKey = created.APIKey
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) upload(t *testing.T, method, path, filename, geojson string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(geojson))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return ts.do(t, method, path, ts.apiKey, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func TestServer_UploadUpdateQuery(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_1.0.geojson", collection(mainStreet))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first service.Result
	decode(t, resp, &first)
	assert.Equal(t, "city", first.Name)
	assert.Equal(t, "1.0", first.Version)
	assert.True(t, first.Created)
	assert.Equal(t, 1, first.Stats.Inserted)

	resp = ts.upload(t, http.MethodPut, "/api/road-networks/city", "road_network_city_1.1.geojson", collection(mainStreet, sideStreet))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second service.Result
	decode(t, resp, &second)
	assert.Equal(t, first.NetworkID, second.NetworkID)
	assert.Equal(t, 1, second.Stats.Reactivated)
	assert.Equal(t, 1, second.Stats.Inserted)

	resp = ts.do(t, http.MethodGet, "/api/road-networks/city", ts.apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1.1", resp.Header.Get("X-Network-Version"))
	var current featureCollection
	decode(t, resp, &current)
	assert.Equal(t, "FeatureCollection", current.Type)
	assert.Len(t, current.Features, 2)

	resp = ts.do(t, http.MethodGet, "/api/road-networks/city?query_time="+first.UploadTime.Format(time.RFC3339Nano), ts.apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var past featureCollection
	decode(t, resp, &past)
	require.Len(t, past.Features, 1)
	assert.Equal(t, "Main St", past.Features[0].Properties["name"])

	// A datetime without an offset is read as UTC.
	resp = ts.do(t, http.MethodGet, "/api/road-networks/city?query_time="+first.UploadTime.UTC().Format("2006-01-02T15:04:05.999999"), ts.apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var naive featureCollection
	decode(t, resp, &naive)
	assert.Len(t, naive.Features, 1)

	resp = ts.do(t, http.MethodGet, "/api/road-networks/city/versions", ts.apiKey, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var versions VersionsResponse
	decode(t, resp, &versions)
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, "1.0", versions.Versions[0].Version)
	assert.Equal(t, "1.1", versions.Versions[1].Version)
}

func TestServer_ErrorStatuses(t *testing.T) {
	ts := setupTestServer(t, Options{})
	resp := ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_1.0.geojson", collection(mainStreet))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name string
		send func() *http.Response
		want int
	}{
		{"upload existing network", func() *http.Response {
			return ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_2.0.geojson", collection(mainStreet))
		}, http.StatusBadRequest},
		{"bad filename", func() *http.Response {
			return ts.upload(t, http.MethodPost, "/api/road-networks", "city.json", collection(mainStreet))
		}, http.StatusBadRequest},
		{"not a linestring", func() *http.Response {
			point := `{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}`
			return ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_town_1.0.geojson", collection(point))
		}, http.StatusBadRequest},
		{"update unknown network", func() *http.Response {
			return ts.upload(t, http.MethodPut, "/api/road-networks/town", "road_network_town_1.0.geojson", collection(mainStreet))
		}, http.StatusNotFound},
		{"update name mismatch", func() *http.Response {
			return ts.upload(t, http.MethodPut, "/api/road-networks/city", "road_network_town_1.1.geojson", collection(mainStreet))
		}, http.StatusBadRequest},
		{"duplicate version", func() *http.Response {
			return ts.upload(t, http.MethodPut, "/api/road-networks/city", "road_network_city_1.0.geojson", collection(mainStreet))
		}, http.StatusBadRequest},
		{"missing file field", func() *http.Response {
			return ts.do(t, http.MethodPost, "/api/road-networks", ts.apiKey, strings.NewReader("{}"), "application/json")
		}, http.StatusBadRequest},
		{"query unknown network", func() *http.Response {
			return ts.do(t, http.MethodGet, "/api/road-networks/town", ts.apiKey, nil, "")
		}, http.StatusNotFound},
		{"query before first version", func() *http.Response {
			return ts.do(t, http.MethodGet, "/api/road-networks/city?query_time=2000-01-01T00:00:00Z", ts.apiKey, nil, "")
		}, http.StatusNotFound},
		{"bad query_time", func() *http.Response {
			return ts.do(t, http.MethodGet, "/api/road-networks/city?query_time=yesterday", ts.apiKey, nil, "")
		}, http.StatusBadRequest},
		{"missing API key", func() *http.Response {
			return ts.do(t, http.MethodGet, "/api/road-networks/city", "", nil, "")
		}, http.StatusUnauthorized},
		{"invalid API key", func() *http.Response {
			return ts.do(t, http.MethodGet, "/api/road-networks/city", "rn_nope_nope", nil, "")
		}, http.StatusForbidden},
		{"duplicate customer", func() *http.Response {
			return ts.do(t, http.MethodPost, "/api/customers", "", strings.NewReader(`{"name":"acme"}`), "application/json")
		}, http.StatusConflict},
		{"invalid customer body", func() *http.Response {
			return ts.do(t, http.MethodPost, "/api/customers", "", strings.NewReader(`{"name":""}`), "application/json")
		}, http.StatusBadRequest},
		{"wrong method", func() *http.Response {
			return ts.do(t, http.MethodDelete, "/api/road-networks/city", ts.apiKey, nil, "")
		}, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.send()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServer_ErrorBody(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.do(t, http.MethodGet, "/api/road-networks/town", ts.apiKey, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "Not Found", body.Error)
	assert.Contains(t, body.Message, "network not found")
}

func TestServer_NetworksAreScopedToCustomer(t *testing.T) {
	ts := setupTestServer(t, Options{})
	resp := ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_1.0.geojson", collection(mainStreet))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/customers", "", strings.NewReader(`{"name":"globex"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var other CustomerResponse
	decode(t, resp, &other)

	resp = ts.do(t, http.MethodGet, "/api/road-networks/city", other.APIKey, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_UploadTooLarge(t *testing.T) {
	ts := setupTestServer(t, Options{MaxUploadBytes: 64})

	resp := ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_1.0.geojson", collection(mainStreet, sideStreet))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_GraphQL(t *testing.T) {
	ts := setupTestServer(t, Options{})
	resp := ts.upload(t, http.MethodPost, "/api/road-networks", "road_network_city_1.0.geojson", collection(mainStreet))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	query := `{"query":"{ network(name: \"city\") { version edgeCount } }"}`
	resp = ts.do(t, http.MethodPost, "/graphql", ts.apiKey, strings.NewReader(query), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body graphql.GraphQLResponse
	decode(t, resp, &body)
	require.Empty(t, body.Errors)
	network := body.Data.(map[string]any)["network"].(map[string]any)
	assert.Equal(t, "1.0", network["version"])
	assert.EqualValues(t, 1, network["edgeCount"])

	resp = ts.do(t, http.MethodPost, "/graphql", "", strings.NewReader(query), "application/json")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_HealthVersionAndMetrics(t *testing.T) {
	ts := setupTestServer(t, Options{Version: "1.2.3"})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp := ts.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp := ts.do(t, http.MethodGet, "/version", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info VersionInfoResponse
	decode(t, resp, &info)
	assert.Equal(t, "1.2.3", info.Version)

	resp = ts.do(t, http.MethodGet, "/api/road-networks/town", ts.apiKey, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `route="GET /api/road-networks/{name}"`)
	assert.Contains(t, string(raw), "roadnet_customers_created_total 1")
}

func TestServer_RequestIDHeader(t *testing.T) {
	ts := setupTestServer(t, Options{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-1")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-1", resp.Header.Get("X-Request-ID"))
}
