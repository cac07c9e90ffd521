package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktail/internal/config"
	"ktail/internal/consumer"
	"ktail/internal/datasource"
	"ktail/internal/logging"
	"ktail/internal/offsets"
	"ktail/internal/tokenstore"
	"ktail/source/kafka"
)

type fakeAdapter struct {
	records []kafka.Record

	mu     sync.Mutex
	starts []map[int32]int64
}

func (f *fakeAdapter) Configure(kafka.Settings) error { return nil }

func (f *fakeAdapter) Run(ctx context.Context, topic string, start map[int32]int64, emit kafka.EmitFunc) error {
	f.mu.Lock()
	f.starts = append(f.starts, start)
	f.mu.Unlock()
	for _, r := range f.records {
		if off, ok := start[r.Partition]; ok && r.Offset < off {
			continue
		}
		if err := emit(r); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAdapter) Close() error { return nil }

func bootstrap(t *testing.T, doc string, a kafka.Adapter) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ktail.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o600))

	e, err := Bootstrap(context.Background(), Config{ConfigPath: cfgPath, StorePath: filepath.Join(dir, "tokens.db")},
		datasource.WithLogger(logging.Discard()),
		datasource.WithConsumerOptions(
			consumer.WithLogger(logging.Discard()),
			consumer.WithAdapterFactory(func(string) (kafka.Adapter, error) { return a, nil }),
		))
	require.NoError(t, err)
	e.log = logging.Discard()
	t.Cleanup(func() { _ = e.Close() })
	return e
}

const doc = `
bootstrapServers: [broker:9092]
groupId: ktail
topics: [precog]
decoder: RawKey
format: ldjson
`

func records() []kafka.Record {
	return []kafka.Record{
		{Partition: 0, Offset: 0, Key: []byte(`{"n":0}`)},
		{Partition: 0, Offset: 1, Key: []byte(`{"n":1}`)},
		{Partition: 0, Offset: 2, Key: []byte(`{"n":2}`)},
	}
}

func TestEngine_FetchStoresTokenAndResumes(t *testing.T) {
	a := &fakeAdapter{records: records()}
	e := bootstrap(t, doc, a)

	var out bytes.Buffer
	rep, err := e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":0}\n{\"n\":1}\n", out.String())
	assert.True(t, rep.TokenSaved)
	assert.Equal(t, 2, rep.Chunks)

	entry, err := e.Token("/precog")
	require.NoError(t, err)
	assert.Equal(t, rep.FetchID, entry.FetchID)
	table, err := offsets.Decode(entry.Token)
	require.NoError(t, err)
	assert.Equal(t, offsets.Table{0: 1}, table)

	out.Reset()
	_, err = e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":2}\n", out.String())

	require.NoError(t, e.Reset("/precog"))
	_, err = e.Token("/precog")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)

	out.Reset()
	_, err = e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":0}\n", out.String())

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.starts, 3)
	assert.Empty(t, a.starts[0])
	assert.Equal(t, map[int32]int64{0: 2}, a.starts[1])
	assert.Empty(t, a.starts[2])
}

func TestEngine_FromStartIgnoresToken(t *testing.T) {
	a := &fakeAdapter{records: records()}
	e := bootstrap(t, doc, a)

	var out bytes.Buffer
	_, err := e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 3})
	require.NoError(t, err)

	out.Reset()
	_, err = e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 1, FromStart: true})
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":0}\n", out.String())
}

func TestEngine_CancelledFetchKeepsToken(t *testing.T) {
	a := &fakeAdapter{records: records()}
	e := bootstrap(t, doc, a)

	var out bytes.Buffer
	_, err := e.Fetch(context.Background(), "/precog", &out, FetchOptions{Limit: 1})
	require.NoError(t, err)
	before, err := e.Token("/precog")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := e.Fetch(ctx, "/precog", &out, FetchOptions{})
	assert.False(t, rep.TokenSaved)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	after, err := e.Token("/precog")
	require.NoError(t, err)
	assert.Equal(t, before.Token, after.Token)
}

func TestEngine_StoredMarksStalePaths(t *testing.T) {
	e := bootstrap(t, doc, &fakeAdapter{records: records()})

	_, err := e.Fetch(context.Background(), "/precog", &bytes.Buffer{}, FetchOptions{Limit: 1})
	require.NoError(t, err)
	require.NoError(t, e.store.Save("/retired", tokenstore.Entry{Token: []byte{0, 0, 0, 0}, FetchID: "old"}))

	stored, err := e.Stored()
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "/precog", stored[0].Path)
	assert.True(t, stored[0].Configured)
	assert.Equal(t, "/retired", stored[1].Path)
	assert.False(t, stored[1].Configured)
	assert.Equal(t, "old", stored[1].FetchID)
}

func TestEngine_ResetUnknownPath(t *testing.T) {
	e := bootstrap(t, doc, &fakeAdapter{})
	assert.ErrorIs(t, e.Reset("/nope"), datasource.ErrPathNotFound)
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ktail.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("topics: []\n"), 0o600))

	_, err := Bootstrap(context.Background(), Config{ConfigPath: cfgPath, StorePath: filepath.Join(dir, "t.db")})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestFramer(t *testing.T) {
	tests := []struct {
		format config.Format
		chunks []string
		want   string
	}{
		{format: config.FormatLDJSON, chunks: []string{`{"a":1}`, "{\"b\":2}\n"}, want: "{\"a\":1}\n{\"b\":2}\n"},
		{format: config.FormatCSV, chunks: []string{"a,b", "c,d"}, want: "a,b\nc,d\n"},
		{format: config.FormatArray, chunks: []string{"1", "2", "3"}, want: "[1,2,3]\n"},
		{format: config.FormatArray, chunks: nil, want: "[]\n"},
		{format: config.FormatRaw, chunks: []string{"ab", "cd"}, want: "abcd"},
	}
	for _, tc := range tests {
		t.Run(string(tc.format), func(t *testing.T) {
			var buf bytes.Buffer
			f := newFramer(tc.format, &buf)
			for _, c := range tc.chunks {
				require.NoError(t, f.write([]byte(c)))
			}
			require.NoError(t, f.close())
			assert.Equal(t, tc.want, buf.String())
		})
	}
}
