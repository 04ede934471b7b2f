package storage

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
	"github.com/ajitpratap0/storage-mixpanel/pkg/testutil"
)

func TestGlob(t *testing.T) {
	tests := []struct {
		pattern string
		prefix  string
		match   []string
		reject  []string
	}{
		{
			pattern: "data.ndjson",
			prefix:  "data.ndjson",
			match:   []string{"data.ndjson"},
			reject:  []string{"data.ndjson.gz", "other/data.ndjson"},
		},
		{
			pattern: "logs/*.json",
			prefix:  "logs/",
			match:   []string{"logs/a.json", "logs/2024/01/b.json"},
			reject:  []string{"logs/a.csv", "other/a.json"},
		},
		{
			pattern: "part-?.csv",
			prefix:  "part-",
			match:   []string{"part-1.csv", "part-a.csv"},
			reject:  []string{"part-10.csv"},
		},
		{
			pattern: "part-[0-2].csv",
			prefix:  "part-",
			match:   []string{"part-0.csv", "part-2.csv"},
			reject:  []string{"part-3.csv"},
		},
		{
			pattern: "part-[!0].csv",
			prefix:  "part-",
			match:   []string{"part-1.csv"},
			reject:  []string{"part-0.csv"},
		},
		{
			pattern: "export.{csv,tsv}",
			prefix:  "export.",
			match:   []string{"export.csv", "export.tsv"},
			reject:  []string{"export.json"},
		},
		{
			pattern: "{a,{b,c}}.csv",
			prefix:  "",
			match:   []string{"a.csv", "b.csv", "c.csv"},
			reject:  []string{"d.csv", "{b,c}.csv"},
		},
		{
			pattern: `data\*.csv`,
			prefix:  "data*.csv",
			match:   []string{"data*.csv"},
			reject:  []string{"dataX.csv", "data.csv"},
		},
		{
			pattern: "logs/2024-[0-9][0-9]/*.{ndjson,json}.gz",
			prefix:  "logs/2024-",
			match:   []string{"logs/2024-01/a.ndjson.gz", "logs/2024-12/x/y.json.gz"},
			reject:  []string{"logs/2024-1/a.ndjson.gz", "logs/2024-01/a.csv.gz"},
		},
		{
			pattern: "dir/",
			prefix:  "dir/",
			match:   []string{"dir/a", "dir/b/c.json"},
			reject:  []string{"dirx/a"},
		},
		{
			pattern: "",
			prefix:  "",
			match:   []string{"anything", "a/b/c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			g, err := CompileGlob(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, g.Prefix())
			for _, name := range tt.match {
				assert.True(t, g.Match(name), "expected %q to match %q", name, tt.pattern)
			}
			for _, name := range tt.reject {
				assert.False(t, g.Match(name), "expected %q not to match %q", name, tt.pattern)
			}
		})
	}
}

func TestGlobUnbalancedPatterns(t *testing.T) {
	for _, pattern := range []string{"report{2024.csv", "[]x].csv", "part-[.csv", "a}b"} {
		pattern := pattern
		assert.NotPanics(t, func() {
			g, err := CompileGlob(pattern)
			if err == nil {
				g.Match("report2024.csv")
			}
		}, pattern)
	}
}

func TestEnumeratorList(t *testing.T) {
	store := NewMemory()
	store.Put("bucket", "events/a.ndjson", []byte(`{"event":"a"}`))
	store.Put("bucket", "events/b.ndjson", []byte(`{"event":"b"}`+"\n"+`{"event":"c"}`))
	store.Put("bucket", "events/empty.ndjson", nil)
	store.Put("bucket", "events/readme.txt", []byte("ignore"))
	store.Put("bucket", "other/c.ndjson", []byte(`{}`))

	bus := events.NewBus("run-1", "test")
	var metaEnd events.Event
	bus.On(events.MetaEnd, func(e events.Event) { metaEnd = e })

	listing, err := NewEnumerator(store, bus).List(context.Background(), "gs://bucket/events/*.ndjson")
	require.NoError(t, err)

	require.Len(t, listing.Objects, 2)
	assert.Equal(t, "events/a.ndjson", listing.Objects[0].Name)
	assert.Equal(t, "events/b.ndjson", listing.Objects[1].Name)
	assert.Equal(t, listing.Objects[0].Size+listing.Objects[1].Size, listing.TotalBytes)
	assert.Equal(t, "bucket", listing.Bucket)

	assert.Equal(t, 1, bus.Count(events.MetaStart))
	assert.Equal(t, 1, bus.Count(events.MetaEnd))
	assert.Equal(t, "run-1", metaEnd.RunID)
	assert.NoError(t, metaEnd.Err)
}

func TestEnumeratorNoMatches(t *testing.T) {
	store := NewMemory()
	store.Put("bucket", "data.ndjson.gz", []byte("x"))

	_, err := NewEnumerator(store, nil).List(context.Background(), "gs://bucket/data.ndjson")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoMatchingObjects))

	pattern, ok := errors.Detail(err, "pattern")
	require.True(t, ok)
	assert.Equal(t, "gs://bucket/data.ndjson", pattern)
	hint, ok := errors.Detail(err, "hint")
	require.True(t, ok)
	assert.Equal(t, "add a trailing wildcard to match by prefix, e.g. gs://bucket/data.ndjson*", hint)
	assert.Zero(t, store.Downloads())
}

func TestEnumeratorOnlyEmptyObjects(t *testing.T) {
	store := NewMemory()
	store.Put("bucket", "a.json", nil)

	_, err := NewEnumerator(store, nil).List(context.Background(), "s3://bucket/*.json")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoMatchingObjects))
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) List(context.Context, string, string) ([]Object, error) {
	return nil, stderrors.New("access denied")
}

func TestEnumeratorListFailure(t *testing.T) {
	bus := events.NewBus("run", "test")
	var ended events.Event
	bus.On(events.MetaEnd, func(e events.Event) { ended = e })

	_, err := NewEnumerator(failingStore{NewMemory()}, bus).List(context.Background(), "gs://bucket/*")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	assert.Error(t, ended.Err)
}

func TestFetchDecompresses(t *testing.T) {
	store := NewMemory()
	store.Put("b", "x.ndjson.gz", testutil.Gzip(t, []byte(`{"event":"x"}`)))

	data, err := Fetch(context.Background(), store, Object{Bucket: "b", Name: "x.ndjson.gz"})
	require.NoError(t, err)
	assert.Equal(t, `{"event":"x"}`, string(data))
}

func TestFetchMissing(t *testing.T) {
	_, err := Fetch(context.Background(), NewMemory(), Object{Bucket: "b", Name: "gone"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bucket", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bucket", "a.csv"), []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bucket", "nested", "b.csv"), []byte("a\n1\n"), 0o644))

	ctx := context.Background()
	store := NewLocal(root)

	objs, err := store.List(ctx, "bucket", "")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.csv", objs[0].Name)
	assert.Equal(t, "nested/b.csv", objs[1].Name)

	data, err := store.Download(ctx, objs[1])
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))

	require.NoError(t, store.Delete(ctx, objs[0]))
	assert.ErrorIs(t, store.Delete(ctx, objs[0]), ErrObjectNotFound)

	_, err = store.Download(ctx, objs[0])
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestOpenLocal(t *testing.T) {
	cfg := config.Default()
	cfg.Path = "file://bucket/*.json"
	cfg.Auth.Root = t.TempDir()

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &LocalStore{}, store)
}

func TestOpenUnsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Path = "gs://bucket/a.json"
	cfg.Storage = "ftp"

	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}
