package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ccollins476ad/savedl/download"
	"github.com/ccollins476ad/savedl/history"
	"github.com/ccollins476ad/savedl/media"
	"github.com/ccollins476ad/savedl/saved"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultJobs            = 4
	DefaultResolveTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 2 * time.Minute
)

// Stage names, used in logs and history entries.
const (
	StageResolve  = "resolve"
	StageDownload = "download"
)

// Downloader saves a resolved asset to disk. download.Store implements it.
type Downloader interface {
	Download(ctx context.Context, a media.Asset, albumDir string) (download.Result, error)
}

// Recorder persists the outcome of each item. history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Observer receives per-result counts and download timings.
// metrics.Observer implements it.
type Observer interface {
	RecordResult(result string)
	RecordDownload(duration time.Duration, bytes int64, err error)
}

// Options configures a Pipeline. Zero values select defaults.
type Options struct {
	Jobs            int           // Number of items processed in parallel.
	ResolveTimeout  time.Duration // Bound on a single resolver call.
	DownloadTimeout time.Duration // Bound on a single asset download.
	Recorder        Recorder      // Optional.
	Observer        Observer      // Optional.
	RunID           string        // Tags history entries; optional.
}

// Summary counts the results of a run. Stored and Skipped count assets;
// Unsupported counts items; Failed counts failed resolutions plus failed
// asset downloads.
type Summary struct {
	Stored      int64
	Skipped     int64
	Failed      int64
	Unsupported int64
}

type counters struct {
	stored      atomic.Int64
	skipped     atomic.Int64
	failed      atomic.Int64
	unsupported atomic.Int64
}

func (c *counters) summary() Summary {
	return Summary{
		Stored:      c.stored.Load(),
		Skipped:     c.skipped.Load(),
		Failed:      c.failed.Load(),
		Unsupported: c.unsupported.Load(),
	}
}

// Pipeline downloads the media referenced by saved items.
type Pipeline struct {
	d    *media.Dispatcher
	s    Downloader
	opts Options
}

func New(d *media.Dispatcher, s Downloader, opts Options) *Pipeline {
	if opts.Jobs <= 0 {
		opts.Jobs = DefaultJobs
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	return &Pipeline{
		d:    d,
		s:    s,
		opts: opts,
	}
}

// Run processes the given items with opts.Jobs workers. A failure to process
// one item never stops the run; failures are logged and counted. If ctx is
// cancelled, Run stops handing out items, waits for in-flight items to
// unwind, and returns the partial summary along with ctx's error.
func (p *Pipeline) Run(ctx context.Context, items []saved.Item) (Summary, error) {
	c := &counters{}
	g := &errgroup.Group{}

	startGoroutines := func() {
		itemChan := make(chan saved.Item)
		defer close(itemChan)

		// Create a set of goroutines to process items in parallel.
		for i := 0; i < p.opts.Jobs; i++ {
			g.Go(func() error {
				// Read items from the channel and process them sequentially.
				// Proceed until the channel is closed.
				for item := range itemChan {
					p.processItem(ctx, c, item)
				}
				return nil
			})
		}

		for _, item := range items {
			// select picks randomly among ready cases, so check first.
			if ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				// Operation aborted. Return early to execute deferred channel
				// close.
				return

			case itemChan <- item:
			}
		}
	}

	startGoroutines()
	g.Wait()

	sum := c.summary()
	log.Infof("run complete: stored=%d skipped=%d failed=%d unsupported=%d",
		sum.Stored, sum.Skipped, sum.Failed, sum.Unsupported)

	return sum, ctx.Err()
}

// processItem runs classify -> resolve -> download for a single item.
func (p *Pipeline) processItem(ctx context.Context, c *counters, item saved.Item) {
	if item.IsTextPost {
		log.Debugf("skipping text post: url=%s", item.URL)
		return
	}

	kind, r := p.d.Dispatch(item.URL)
	entry := history.Entry{URL: item.URL, Kind: kind.String(), RunID: p.opts.RunID}

	if r == nil {
		log.Debugf("unsupported url: url=%s", item.URL)
		c.unsupported.Add(1)
		p.result("unsupported")
		entry.Status = history.StatusUnsupported
		p.record(ctx, entry)
		return
	}

	l := log.WithFields(log.Fields{
		"url":  item.URL,
		"kind": kind,
	})
	l.Debug("processing item")

	tasks, err := p.resolve(ctx, r, item.URL)
	if err != nil {
		l.WithError(err).WithFields(log.Fields{
			"stage":      StageResolve,
			"error_kind": media.ErrorKind(err),
		}).Error("failed to resolve url")
		c.failed.Add(1)
		p.result("failed")
		entry.Status = history.StatusFailed
		entry.Stage = StageResolve
		entry.Error = err.Error()
		p.record(ctx, entry)
		return
	}

	entry.Assets = len(tasks)
	entry.Status = history.StatusSkipped
	for _, t := range tasks {
		outcome, err := p.download(ctx, t)
		switch {
		case err != nil:
			l.WithError(err).WithFields(log.Fields{
				"stage":  StageDownload,
				"asset":  t.SourceURL,
				"album":  t.AlbumDir,
				"target": t.Key,
			}).Error("failed to save asset")
			c.failed.Add(1)
			p.result("failed")
			entry.Status = history.StatusFailed
			entry.Stage = StageDownload
			entry.Error = err.Error()

		case outcome == download.Stored:
			c.stored.Add(1)
			p.result("stored")
			if entry.Status != history.StatusFailed {
				entry.Status = history.StatusStored
			}

		default:
			c.skipped.Add(1)
			p.result("skipped")
		}
	}

	p.record(ctx, entry)
}

func (p *Pipeline) resolve(ctx context.Context, r media.Resolver, u string) ([]media.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ResolveTimeout)
	defer cancel()

	return r.Resolve(ctx, u)
}

// download saves a single task. An ErrAlreadyExists race is reported as a
// skip rather than an error.
func (p *Pipeline) download(ctx context.Context, t media.Task) (download.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.s.Download(ctx, t.Asset, t.AlbumDir)
	if errors.Is(err, download.ErrAlreadyExists) {
		log.WithError(err).Infof("skipping asset: url=%s", t.SourceURL)
		res, err = download.Result{Outcome: download.Skipped}, nil
	}

	if p.opts.Observer != nil {
		p.opts.Observer.RecordDownload(time.Since(start), res.Bytes, err)
	}

	if err != nil {
		return download.Skipped, err
	}

	log.Debugf("asset %s: path=%s", res.Outcome, res.Path)
	return res.Outcome, nil
}

func (p *Pipeline) result(r string) {
	if p.opts.Observer != nil {
		p.opts.Observer.RecordResult(r)
	}
}

func (p *Pipeline) record(ctx context.Context, e history.Entry) {
	if p.opts.Recorder == nil {
		return
	}

	// Outcomes of in-flight items are recorded even after cancellation.
	if err := p.opts.Recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		log.WithError(err).Warnf("failed to record outcome: url=%s", e.URL)
	}
}
