package client

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/lattice/internal/server"
	"github.com/sanonone/lattice/pkg/lattice"
	"github.com/sanonone/lattice/pkg/node"
)

func newTestClient(t *testing.T, token string) (*Client, *lattice.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := lattice.Open(t.TempDir(), lattice.DefaultConfig(), lattice.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	ts := httptest.NewServer(server.NewServer(m, server.Options{AuthToken: token, Logger: logger}).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", token), m
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	require.NoError(t, c.Health())

	id, err := c.AddItem(Item{
		ID:        "note-1",
		Embedding: []float64{0.6, 0.8},
		Payload:   json.RawMessage(`{"text":"hello"}`),
		Metadata:  map[string]any{"lang": "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "note-1", id)

	nodes, err := c.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	first := nodes[0].ID

	_, err = c.AddItemToNode(first, Item{Embedding: []float64{0.8, 0.6}})
	require.NoError(t, err)

	hits, err := c.Search([]float64{0.6, 0.8}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "note-1", hits[0].Item.ID)
	assert.Equal(t, "en", hits[0].Item.Metadata["lang"])

	routes, err := c.Route([]float64{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, first, routes[0].NodeID)

	res, err := c.Compress(first, nil)
	require.NoError(t, err)
	assert.Equal(t, node.Compressed, res.Status)

	meta, err := c.GetNode(first)
	require.NoError(t, err)
	assert.True(t, meta.Compressed)

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Items)
	assert.Equal(t, 1, st.CompressedNodes)
}

func TestClientLinks(t *testing.T) {
	c, m := newTestClient(t, "")
	a := m.Nodes()[0].ID()
	b, err := c.CreateNode()
	require.NoError(t, err)

	require.NoError(t, c.AddSemanticLink(a, b, 0.9))
	require.NoError(t, c.AddTemporalLink(a, b))

	neighbors, err := c.Neighbors(a, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []node.Neighbor{{ID: b, Weight: 0.9}}, neighbors)
}

func TestClientMaintenance(t *testing.T) {
	c, _ := newTestClient(t, "")

	report, err := c.Maintenance()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Visited)

	task, err := c.MaintenanceAsync()
	require.NoError(t, err)
	require.NoError(t, task.Wait(10*time.Millisecond, 5*time.Second))
	assert.Equal(t, "maintenance", task.Kind)
	assert.NotEmpty(t, task.Result)
}

func TestClientErrors(t *testing.T) {
	c, _ := newTestClient(t, "secret")

	_, err := c.GetNode("tn-missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = c.Search(nil, 3)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	anon := New(c.baseURL, "")
	_, err = anon.Stats()
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
