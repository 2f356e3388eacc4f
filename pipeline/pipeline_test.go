package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccollins476ad/savedl/download"
	"github.com/ccollins476ad/savedl/history"
	"github.com/ccollins476ad/savedl/media"
	"github.com/ccollins476ad/savedl/media/imgur"
	"github.com/ccollins476ad/savedl/saved"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFunc func(ctx context.Context, u string) ([]media.Task, error)

func (f resolverFunc) Resolve(ctx context.Context, u string) ([]media.Task, error) {
	return f(ctx, u)
}

// fakeDownloader records every asset it is asked for and answers with fn.
type fakeDownloader struct {
	mtx   sync.Mutex
	calls []media.Task
	fn    func(media.Task) (download.Result, error)
}

func (d *fakeDownloader) Download(ctx context.Context, a media.Asset, albumDir string) (download.Result, error) {
	t := media.Task{Asset: a, AlbumDir: albumDir}

	d.mtx.Lock()
	d.calls = append(d.calls, t)
	d.mtx.Unlock()

	if d.fn == nil {
		return download.Result{Outcome: download.Stored, Bytes: 1}, nil
	}
	return d.fn(t)
}

func (d *fakeDownloader) numCalls() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.calls)
}

type fakeRecorder struct {
	mtx     sync.Mutex
	entries map[string]history.Entry
}

func (r *fakeRecorder) Record(ctx context.Context, e history.Entry) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.entries == nil {
		r.entries = map[string]history.Entry{}
	}
	r.entries[e.URL] = e
	return nil
}

type fakeObserver struct {
	mtx       sync.Mutex
	results   map[string]int
	downloads int
}

func (o *fakeObserver) RecordResult(result string) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func (o *fakeObserver) RecordDownload(duration time.Duration, bytes int64, err error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.downloads++
}

// directTasks resolves every url to a single task named after the url.
func directTasks(ctx context.Context, u string) ([]media.Task, error) {
	a, err := media.NewAsset(u)
	if err != nil {
		return nil, err
	}
	return []media.Task{{Asset: a}}, nil
}

func TestRunImgurEndToEnd(t *testing.T) {
	var apiHits, mediaHits atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/3/image/abc123", func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		fmt.Fprintf(w, `{"data":{"mp4":"%s/media/abc123.mp4","link":"%s/media/abc123.gif"}}`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/media/abc123.mp4", func(w http.ResponseWriter, r *http.Request) {
		mediaHits.Add(1)
		w.Write([]byte("mp4 bytes"))
	})

	d := media.NewDispatcher()
	d.Register(media.Imgur, imgur.NewResolver(srv.Client(), srv.URL+"/3", "id"))

	items := []saved.Item{
		{URL: "https://i.imgur.com/abc123.gifv"},
		{URL: "https://www.reddit.com/r/x/comments/self/", IsTextPost: true},
		{URL: "https://i.imgur.com/textpost.gifv", IsTextPost: true},
		{URL: "https://example.com/article"},
	}

	dir := t.TempDir()
	rec := &fakeRecorder{}

	sum, err := New(d, download.NewStore(dir, srv.Client()), Options{Recorder: rec}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, Summary{Stored: 1, Unsupported: 1}, sum)

	b, err := os.ReadFile(filepath.Join(dir, "abc123.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(b))

	assert.Equal(t, history.StatusStored, rec.entries["https://i.imgur.com/abc123.gifv"].Status)
	assert.Equal(t, "imgur", rec.entries["https://i.imgur.com/abc123.gifv"].Kind)
	assert.Equal(t, history.StatusUnsupported, rec.entries["https://example.com/article"].Status)
	assert.NotContains(t, rec.entries, "https://i.imgur.com/textpost.gifv")

	// A second run finds the file already present.
	sum, err = New(d, download.NewStore(dir, srv.Client()), Options{}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1, Unsupported: 1}, sum)

	// Text posts never reach the provider.
	assert.Equal(t, int32(2), apiHits.Load())
	assert.Equal(t, int32(1), mediaHits.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123.mp4", entries[0].Name())
}

func TestRunTextPostsOnly(t *testing.T) {
	var resolves atomic.Int32
	d := media.NewDispatcher()
	d.Register(media.Direct, resolverFunc(func(ctx context.Context, u string) ([]media.Task, error) {
		resolves.Add(1)
		return directTasks(ctx, u)
	}))
	dl := &fakeDownloader{}

	items := []saved.Item{
		{URL: "https://example.com/a.jpg", IsTextPost: true},
		{URL: "https://example.com/b.jpg", IsTextPost: true},
	}
	sum, err := New(d, dl, Options{}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, int32(0), resolves.Load())
	assert.Equal(t, 0, dl.numCalls())
}

func TestRunResolveFailure(t *testing.T) {
	d := media.NewDispatcher()
	d.Register(media.Direct, resolverFunc(func(ctx context.Context, u string) ([]media.Task, error) {
		if u == "https://example.com/bad.jpg" {
			return nil, fmt.Errorf("%w: status=503", media.ErrProviderUnavailable)
		}
		return directTasks(ctx, u)
	}))
	dl := &fakeDownloader{}
	rec := &fakeRecorder{}
	obs := &fakeObserver{}

	items := []saved.Item{
		{URL: "https://example.com/bad.jpg"},
		{URL: "https://example.com/good.jpg"},
	}
	sum, err := New(d, dl, Options{Recorder: rec, Observer: obs, RunID: "run-1"}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, Summary{Stored: 1, Failed: 1}, sum)
	assert.Equal(t, 1, dl.numCalls())

	e := rec.entries["https://example.com/bad.jpg"]
	assert.Equal(t, history.StatusFailed, e.Status)
	assert.Equal(t, StageResolve, e.Stage)
	assert.Contains(t, e.Error, "provider unavailable")
	assert.Equal(t, "run-1", e.RunID)

	assert.Equal(t, map[string]int{"stored": 1, "failed": 1}, obs.results)
	assert.Equal(t, 1, obs.downloads)
}

func TestRunDownloadFailure(t *testing.T) {
	d := media.NewDispatcher()
	d.Register(media.Direct, resolverFunc(func(ctx context.Context, u string) ([]media.Task, error) {
		return media.Album{ID: "alb", Members: []media.Asset{
			{SourceURL: "https://example.com/one.jpg", Key: "one.jpg"},
			{SourceURL: "https://example.com/two.jpg", Key: "two.jpg"},
			{SourceURL: "https://example.com/three.jpg", Key: "three.jpg"},
		}}.Tasks(), nil
	}))
	dl := &fakeDownloader{fn: func(t media.Task) (download.Result, error) {
		switch t.Key {
		case "one.jpg":
			return download.Result{}, errors.New("connection reset")
		case "two.jpg":
			return download.Result{Outcome: download.Skipped}, download.ErrAlreadyExists
		default:
			return download.Result{Outcome: download.Stored, Bytes: 3}, nil
		}
	}}
	rec := &fakeRecorder{}

	sum, err := New(d, dl, Options{Recorder: rec}).Run(context.Background(), []saved.Item{{URL: "https://example.com/x.gif"}})
	require.NoError(t, err)
	assert.Equal(t, Summary{Stored: 1, Skipped: 1, Failed: 1}, sum)

	// Every asset was attempted, under the album directory.
	require.Equal(t, 3, dl.numCalls())
	for _, c := range dl.calls {
		assert.Equal(t, "alb", c.AlbumDir)
	}

	e := rec.entries["https://example.com/x.gif"]
	assert.Equal(t, history.StatusFailed, e.Status)
	assert.Equal(t, StageDownload, e.Stage)
	assert.Equal(t, 3, e.Assets)
}

func TestRunCancelled(t *testing.T) {
	d := media.NewDispatcher()
	dl := &fakeDownloader{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []saved.Item{{URL: "https://example.com/a.jpg"}, {URL: "https://example.com/b.jpg"}}
	sum, err := New(d, dl, Options{}).Run(ctx, items)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, 0, dl.numCalls())
}

func TestRunCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := media.NewDispatcher()
	dl := &fakeDownloader{fn: func(t media.Task) (download.Result, error) {
		cancel()
		return download.Result{Outcome: download.Stored}, nil
	}}

	var items []saved.Item
	for i := 0; i < 50; i++ {
		items = append(items, saved.Item{URL: fmt.Sprintf("https://example.com/%d.jpg", i)})
	}

	sum, err := New(d, dl, Options{Jobs: 1}).Run(ctx, items)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, dl.numCalls(), len(items))
	assert.Equal(t, int64(dl.numCalls()), sum.Stored)
}

func TestRunJobsBound(t *testing.T) {
	const jobs = 3

	var cur, peak atomic.Int32
	d := media.NewDispatcher()
	dl := &fakeDownloader{fn: func(t media.Task) (download.Result, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return download.Result{Outcome: download.Stored}, nil
	}}

	var items []saved.Item
	for i := 0; i < 20; i++ {
		items = append(items, saved.Item{URL: fmt.Sprintf("https://example.com/%d.png", i)})
	}

	sum, err := New(d, dl, Options{Jobs: jobs}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, int64(20), sum.Stored)
	assert.LessOrEqual(t, peak.Load(), int32(jobs))
}

func TestRunDuplicateFailureStaysFailed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := history.Open(t.TempDir(), logrus.New())
	require.NoError(t, err)
	defer h.Close()

	// The same link saved twice, as with a crosspost.
	u := srv.URL + "/clip.mp4"
	items := []saved.Item{{URL: u}, {URL: u}}

	dir := t.TempDir()
	p := New(media.NewDispatcher(), download.NewStore(dir, srv.Client()), Options{Jobs: 1, Recorder: h})
	sum, err := p.Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 2}, sum)
	assert.Equal(t, int32(1), hits.Load())

	failures, err := h.Failures(context.Background())
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, u, failures[0].URL)
	assert.Equal(t, StageDownload, failures[0].Stage)

	retry, err := h.FetchAllSaved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []saved.Item{{URL: u}}, retry)
}
