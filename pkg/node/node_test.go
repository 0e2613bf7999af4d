package node

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestNode(t *testing.T, opts Options) *Node {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock(epoch)
	}
	n, err := Create(filepath.Join(t.TempDir(), "tn-test"), "tn-test", opts)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func mustAdd(t *testing.T, n *Node, emb []float64, payload string) string {
	t.Helper()
	id, err := n.AddItem(Item{Embedding: emb, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return id
}

func TestCentroidIsMeanOfAllItems(t *testing.T) {
	n := newTestNode(t, Options{})
	assert.Nil(t, n.Centroid())

	embs := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 1},
		{-1, 2, 0.25},
	}
	sum := make([]float64, 3)
	for i, e := range embs {
		mustAdd(t, n, e, `"x"`)
		for d := range e {
			sum[d] += e[d]
		}
		centroid := n.Centroid()
		require.Len(t, centroid, 3)
		for d := range centroid {
			assert.InDelta(t, sum[d]/float64(i+1), centroid[d], 1e-12)
		}
	}
	assert.Equal(t, len(embs), n.Len())
}

func TestAddItemDefaults(t *testing.T) {
	n := newTestNode(t, Options{})

	id, err := n.AddItem(Item{Embedding: []float64{1, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	quarter, zero := 0.25, 0.0
	id2, err := n.AddItem(Item{ID: "mine", Embedding: []float64{0, 1}, Score: &quarter})
	require.NoError(t, err)
	assert.Equal(t, "mine", id2)

	_, err = n.AddItem(Item{Embedding: []float64{1, 1}, Score: &zero})
	require.NoError(t, err)

	items := n.Items()
	require.Len(t, items, 3)
	assert.Equal(t, 1.0, items[0].ScoreValue())
	assert.NotNil(t, items[0].Metadata)
	assert.Equal(t, epoch.UnixMilli(), items[0].LastAccess)
	assert.Equal(t, 0.25, items[1].ScoreValue())
	require.NotNil(t, items[2].Score)
	assert.Zero(t, *items[2].Score)

	meta := n.Meta()
	assert.Equal(t, 3, meta.Items)
	assert.Positive(t, meta.SizeEstimate)
	assert.Equal(t, epoch.UnixMilli(), meta.LastAccess)

	info, err := os.Stat(filepath.Join(n.Dir(), ItemsFile))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), meta.SizeEstimate)
}

func TestAddItemValidation(t *testing.T) {
	n := newTestNode(t, Options{})

	_, err := n.AddItem(Item{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = n.AddItem(Item{Embedding: []float64{1, math.NaN()}})
	assert.ErrorIs(t, err, ErrValidation)

	mustAdd(t, n, []float64{1, 0, 0}, `1`)
	_, err = n.AddItem(Item{Embedding: []float64{1, 0}})
	require.ErrorIs(t, err, ErrValidation)

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	assert.Equal(t, 1, n.Len())
}

func TestCompressSimilarItems(t *testing.T) {
	n := newTestNode(t, Options{})
	mustAdd(t, n, []float64{0.6, 0.8}, `{"text":"a"}`)
	mustAdd(t, n, []float64{0.8, 0.6}, `{"text":"b"}`)

	res, err := n.Compress(0.6)
	require.NoError(t, err)
	assert.Equal(t, Compressed, res.Status)
	assert.InDelta(t, 0.96, res.AvgSimilarity, 1e-9)
	assert.Greater(t, res.Ratio, 1.0)
	assert.Greater(t, res.OriginalSize, res.CompressedSize)

	meta := n.Meta()
	assert.True(t, meta.Compressed)
	require.NotNil(t, meta.CompressionRatio)
	ratio := *meta.CompressionRatio
	assert.Equal(t, res.Ratio, ratio)
	assert.Equal(t, res.CompressedSize, meta.SizeEstimate)

	var art Artifact
	data, err := os.ReadFile(filepath.Join(n.Dir(), CompressedFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &art))
	assert.Len(t, art.Labels, 2)
	assert.Len(t, art.Quantized, 2)
	assert.Equal(t, 0, art.Labels[0])
	assert.JSONEq(t, `{"text":"a"}`, string(art.Payloads[0]))
	assert.JSONEq(t, `{"text":"b"}`, string(art.Payloads[1]))
	assert.EqualValues(t, len(data), res.CompressedSize)

	again, err := n.Compress(0.6)
	require.NoError(t, err)
	assert.Equal(t, AlreadyCompressed, again.Status)
	after := n.Meta()
	assert.Equal(t, ratio, *after.CompressionRatio)
}

func TestCompressRejectsDiverseItems(t *testing.T) {
	n := newTestNode(t, Options{})
	mustAdd(t, n, []float64{1, 0}, `1`)
	mustAdd(t, n, []float64{0, 1}, `2`)

	res, err := n.Compress(0.6)
	require.NoError(t, err)
	assert.Equal(t, TooDiverse, res.Status)
	assert.InDelta(t, 0, res.AvgSimilarity, 1e-12)
	assert.False(t, n.IsCompressed())

	_, err = os.Stat(filepath.Join(n.Dir(), CompressedFile))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCompressTooFewItems(t *testing.T) {
	n := newTestNode(t, Options{})

	res, err := n.Compress(0.6)
	require.NoError(t, err)
	assert.Equal(t, TooFewItems, res.Status)

	mustAdd(t, n, []float64{1, 0}, `1`)
	res, err = n.Compress(0.6)
	require.NoError(t, err)
	assert.Equal(t, TooFewItems, res.Status)
	assert.False(t, n.IsCompressed())
}

func TestDecayEnergy(t *testing.T) {
	tests := []struct {
		name string
		idle time.Duration
		want float64
	}{
		{"fresh", 0, 1.0},
		{"fifty hours", 50 * time.Hour, 0.5},
		{"floor", 200 * time.Hour, 0.1},
		{"clock skew", -time.Hour, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNode(t, Options{})
			now := epoch.Add(tt.idle)

			energy, err := n.DecayEnergy(now, 0.01, 0.1)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, energy, 1e-9)
			assert.InDelta(t, tt.want, n.Energy(), 1e-9)
			assert.Equal(t, now.UnixMilli(), n.Meta().LastMaintenance)
		})
	}
}

func TestReopenRestoresState(t *testing.T) {
	n := newTestNode(t, Options{})
	ids := []string{
		mustAdd(t, n, []float64{1, 0}, `"a"`),
		mustAdd(t, n, []float64{0, 1}, `"b"`),
	}
	require.NoError(t, n.AddSemanticLink("tn-other", 0.7))
	require.NoError(t, n.AddTemporalLink("tn-other"))
	want := n.Meta()
	require.NoError(t, n.Close())

	reopened, err := Open(n.Dir(), Options{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, want, reopened.Meta())
	items := reopened.Items()
	require.Len(t, items, 2)
	assert.Equal(t, ids[0], items[0].ID)
	assert.Equal(t, ids[1], items[1].ID)
	assert.Equal(t, []Neighbor{{ID: "tn-other", Weight: 0.7}}, reopened.Neighbors(0))
	assert.Equal(t, 1, reopened.Links().Temporal["tn-other"].Count)
}

func TestOpenTrimsTornLog(t *testing.T) {
	n := newTestNode(t, Options{})
	mustAdd(t, n, []float64{1, 0}, `"a"`)
	require.NoError(t, n.Close())

	f, err := os.OpenFile(filepath.Join(n.Dir(), ItemsFile), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"half","embed`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(n.Dir(), Options{Now: fixedClock(epoch)})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	mustAdd(t, reopened, []float64{0, 1}, `"b"`)
	require.NoError(t, reopened.Close())

	again, err := Open(n.Dir(), Options{})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 2, again.Len())
}

func TestOpenRestoresMissingFinalNewline(t *testing.T) {
	n := newTestNode(t, Options{})
	mustAdd(t, n, []float64{1, 0}, `"a"`)
	mustAdd(t, n, []float64{0.9, 0.1}, `"b"`)
	require.NoError(t, n.Close())

	path := filepath.Join(n.Dir(), ItemsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0644))

	reopened, err := Open(n.Dir(), Options{Now: fixedClock(epoch)})
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	mustAdd(t, reopened, []float64{0, 1}, `"c"`)
	mustAdd(t, reopened, []float64{0.1, 0.9}, `"d"`)
	require.NoError(t, reopened.Close())

	again, err := Open(n.Dir(), Options{})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 4, again.Len())
}

func TestOpenWithoutMeta(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.ErrorIs(t, err, ErrNoMeta)
}

func TestQuantizedNodeSurvivesReopen(t *testing.T) {
	n := newTestNode(t, Options{TruncateOnCompress: true})
	embs := [][]float64{{0.6, 0.8}, {0.8, 0.6}, {0.7, 0.7}}
	var ids []string
	for i, e := range embs {
		ids = append(ids, mustAdd(t, n, e, `{"n":`+string(rune('0'+i))+`}`))
	}

	res, err := n.Compress(0.6)
	require.NoError(t, err)
	require.Equal(t, Compressed, res.Status)

	info, err := os.Stat(filepath.Join(n.Dir(), ItemsFile))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	late := mustAdd(t, n, []float64{0.75, 0.65}, `{"n":9}`)
	require.NoError(t, n.Close())

	reopened, err := Open(n.Dir(), Options{TruncateOnCompress: true})
	require.NoError(t, err)
	defer reopened.Close()

	items := reopened.Items()
	require.Len(t, items, 4)
	for i, e := range embs {
		assert.Equal(t, ids[i], items[i].ID)
		assert.JSONEq(t, `{"n":`+string(rune('0'+i))+`}`, string(items[i].Payload))
		for d := range e {
			assert.InDelta(t, e[d], items[i].Embedding[d], 1.0/255+1e-9)
		}
	}
	assert.Equal(t, late, items[3].ID)
	assert.Equal(t, []float64{0.75, 0.65}, items[3].Embedding)
	assert.True(t, reopened.IsCompressed())
}

func TestQuantizedReopenKeepsMetadataAndScore(t *testing.T) {
	n := newTestNode(t, Options{TruncateOnCompress: true})
	low := 0.0
	_, err := n.AddItem(Item{ID: "a", Embedding: []float64{0.6, 0.8}, Metadata: map[string]any{"lang": "en"}, Score: &low})
	require.NoError(t, err)
	_, err = n.AddItem(Item{ID: "b", Embedding: []float64{0.8, 0.6}})
	require.NoError(t, err)
	_, err = n.Compress(0.6)
	require.NoError(t, err)
	before := n.Items()
	require.NoError(t, n.Close())

	reopened, err := Open(n.Dir(), Options{TruncateOnCompress: true})
	require.NoError(t, err)
	defer reopened.Close()

	items := reopened.Items()
	require.Len(t, items, 2)
	for i := range items {
		assert.Equal(t, before[i].ID, items[i].ID)
		assert.Equal(t, before[i].Metadata, items[i].Metadata)
		assert.Equal(t, before[i].ScoreValue(), items[i].ScoreValue())
	}
	assert.Equal(t, "en", items[0].Metadata["lang"])
	assert.Zero(t, items[0].ScoreValue())
	assert.Equal(t, DefaultScore, items[1].ScoreValue())
}

func TestRawCompressedNodeKeepsLog(t *testing.T) {
	n := newTestNode(t, Options{})
	mustAdd(t, n, []float64{0.6, 0.8}, `1`)
	mustAdd(t, n, []float64{0.8, 0.6}, `2`)
	_, err := n.Compress(0.6)
	require.NoError(t, err)
	require.NoError(t, n.Close())

	reopened, err := Open(n.Dir(), Options{})
	require.NoError(t, err)
	defer reopened.Close()

	items := reopened.Items()
	require.Len(t, items, 2)
	assert.Equal(t, []float64{0.6, 0.8}, items[0].Embedding)
	assert.Equal(t, []float64{0.8, 0.6}, items[1].Embedding)
}

func TestLinks(t *testing.T) {
	n := newTestNode(t, Options{})

	require.NoError(t, n.AddSemanticLink("tn-b", 0.4))
	require.NoError(t, n.AddSemanticLink("tn-a", 0.9))
	require.NoError(t, n.AddSemanticLink("tn-c", 0.9))
	require.NoError(t, n.AddSemanticLink("tn-b", 0.2))

	assert.Equal(t, []Neighbor{{"tn-a", 0.9}, {"tn-c", 0.9}, {"tn-b", 0.2}}, n.Neighbors(0))
	assert.Equal(t, []Neighbor{{"tn-a", 0.9}, {"tn-c", 0.9}}, n.Neighbors(0.9))
	assert.Empty(t, n.Neighbors(1))

	for range 3 {
		require.NoError(t, n.AddTemporalLink("tn-x"))
	}
	links := n.Links()
	assert.Equal(t, TemporalEdge{Count: 3, LastSeen: epoch.UnixMilli()}, links.Temporal["tn-x"])

	require.NoError(t, n.SetParent("tn-root"))
	require.NoError(t, n.AddChild("tn-kid"))
	require.NoError(t, n.AddChild("tn-kid"))
	links = n.Links()
	require.NotNil(t, links.Parent)
	assert.Equal(t, "tn-root", *links.Parent)
	assert.Equal(t, []string{"tn-kid"}, links.Children)

	// the returned copy is detached
	links.Semantic["tn-z"] = SemanticEdge{Weight: 1}
	assert.Len(t, n.Neighbors(0), 3)

	assert.ErrorIs(t, n.AddSemanticLink("", 1), ErrValidation)
	assert.ErrorIs(t, n.AddTemporalLink(""), ErrValidation)
}

func TestUtilization(t *testing.T) {
	n := newTestNode(t, Options{})
	for range 5 {
		mustAdd(t, n, []float64{1, 1}, `0`)
	}
	assert.InDelta(t, 0.05, n.Utilization(100), 1e-12)
	assert.Zero(t, n.Utilization(0))
}

func TestDeactivateAndDestroy(t *testing.T) {
	n := newTestNode(t, Options{})
	require.NoError(t, n.Deactivate())

	reopened, err := Open(n.Dir(), Options{})
	require.NoError(t, err)
	assert.False(t, reopened.Meta().Active)
	require.NoError(t, reopened.Close())

	require.NoError(t, n.Destroy())
	_, err = os.Stat(n.Dir())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
