package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func promoted(name string) models.ToolSpec {
	return models.ToolSpec{Name: name, Lifecycle: models.ToolPromoted}
}

func TestRegistryAdmitsOnlyPromoted(t *testing.T) {
	r, err := NewRegistry([]models.ToolSpec{
		promoted("lookup"),
		{Name: "draft", Lifecycle: models.ToolCandidate},
		{Name: "old", Lifecycle: models.ToolRetired},
	})
	require.NoError(t, err)
	assert.Len(t, r.All(), 1)
	assert.NotNil(t, r.Get("lookup"))
	assert.Nil(t, r.Get("draft"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]models.ToolSpec{promoted("x"), promoted("x")})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry([]models.ToolSpec{{Lifecycle: models.ToolPromoted}})
	assert.ErrorContains(t, err, "no name")
}

func TestFilterAllowed(t *testing.T) {
	specs := []models.ToolSpec{promoted("a"), promoted("b"), promoted("c")}

	assert.Len(t, FilterAllowed(specs, "*"), 3)
	assert.Len(t, FilterAllowed(specs, ""), 3)

	filtered := FilterAllowed(specs, `["a","c"]`)
	require.Len(t, filtered, 2)
	assert.Equal(t, "a", filtered[0].Name)
	assert.Equal(t, "c", filtered[1].Name)

	assert.Nil(t, FilterAllowed(specs, `not json`), "malformed allowlist hides every tool")
	assert.Nil(t, FilterAllowed(specs, `["ghost"]`))
}

func TestDispatchGetAndPost(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, nil)

	getSpec := &models.ToolSpec{
		Name:       "lookup",
		Lifecycle:  models.ToolPromoted,
		MCPRouting: &models.MCPRouting{Endpoint: "/lookup"},
	}
	res := d.Dispatch(context.Background(), getSpec, json.RawMessage(`{"q":"x"}`))
	assert.False(t, res.IsError())
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "/lookup", gotPath)
	assert.Empty(t, gotBody, "GET sends no body")
	assert.Equal(t, `{"ok":true}`, res.Content())

	postSpec := &models.ToolSpec{
		Name:       "create",
		Lifecycle:  models.ToolPromoted,
		MCPRouting: &models.MCPRouting{Endpoint: "create", Method: http.MethodPost},
	}
	res = d.Dispatch(context.Background(), postSpec, json.RawMessage(`{"name":"n"}`))
	assert.False(t, res.IsError())
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/create", gotPath)
	assert.JSONEq(t, `{"name":"n"}`, gotBody)
}

func TestDispatchNon2xxBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, nil)
	spec := &models.ToolSpec{
		Name:       "flaky",
		MCPRouting: &models.MCPRouting{Endpoint: "/flaky", Method: http.MethodPost},
	}
	res := d.Dispatch(context.Background(), spec, nil)
	assert.True(t, res.IsError())
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, "HTTP 502", res.Error)
	assert.Contains(t, res.Content(), "HTTP 502")
}

func TestDispatchNeverRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, nil)
	for _, spec := range []*models.ToolSpec{
		{Name: "lookup", MCPRouting: &models.MCPRouting{Endpoint: "/lookup"}},
		{Name: "create", MCPRouting: &models.MCPRouting{Endpoint: "/create", Method: http.MethodPost}},
	} {
		res := d.Dispatch(context.Background(), spec, nil)
		assert.True(t, res.IsError())
		assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	}
	assert.Equal(t, 2, calls, "one attempt per dispatch, transient or not")
}

func TestDispatchWithoutRouting(t *testing.T) {
	d := NewDispatcher("http://localhost:1", nil)
	res := d.Dispatch(context.Background(), &models.ToolSpec{Name: "bare"}, nil)
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "no routing")
}
