package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ccollins476ad/savedl/download"
	"github.com/ccollins476ad/savedl/history"
	"github.com/ccollins476ad/savedl/media"
	"github.com/ccollins476ad/savedl/media/gfycat"
	"github.com/ccollins476ad/savedl/media/imgbb"
	"github.com/ccollins476ad/savedl/media/imgur"
	"github.com/ccollins476ad/savedl/media/postimg"
	"github.com/ccollins476ad/savedl/metrics"
	"github.com/ccollins476ad/savedl/pipeline"
	"github.com/ccollins476ad/savedl/saved"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// newDispatcher creates a dispatcher with every provider resolver registered,
// each behind its own lookup cache.
func newDispatcher(cfg *Config, hc *http.Client) (*media.Dispatcher, error) {
	d := media.NewDispatcher()
	d.Register(media.Gfycat, gfycat.NewResolver(hc, cfg.Gfycat.APIBase, cfg.Gfycat.ClientID, cfg.Gfycat.ClientSecret))
	d.Register(media.Imgur, imgur.NewResolver(hc, cfg.Imgur.APIBase, cfg.Imgur.ClientID))
	d.Register(media.Imgbb, imgbb.NewResolver(hc))
	d.Register(media.Postimg, postimg.NewResolver(hc))

	var cacheErr error
	d.Wrap(func(k media.Kind, r media.Resolver) media.Resolver {
		if k == media.Direct {
			return r
		}
		c, err := media.NewCache(r, cfg.CacheSize)
		if err != nil {
			cacheErr = err
			return r
		}
		return c
	})
	if cacheErr != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", cacheErr)
	}

	return d, nil
}

// newSource returns the saved-items source selected by the config.
func newSource(cfg *Config, h *history.Store) (saved.Source, error) {
	switch cfg.SourceFormat {
	case FormatArchive:
		return saved.Archive{Dir: cfg.Source}, nil
	case FormatManifest:
		return saved.Manifest{Path: cfg.Source}, nil
	case FormatLinks:
		return saved.LinkList{Path: cfg.Source}, nil
	case FormatFailures:
		if h == nil {
			return nil, fmt.Errorf("source format %q requires history_dir", FormatFailures)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown source format: %q", cfg.SourceFormat)
	}
}

// serveMetrics exposes the observer on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, o *metrics.Observer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Infof("serving metrics: addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Errorf("metrics server failed: addr=%s", addr)
		}
	}()
}

// runDownload fetches the saved items and downloads their media to
// cfg.DestDir.
func runDownload(ctx context.Context, cfg *Config) (pipeline.Summary, error) {
	hc := &http.Client{}

	opts := pipeline.Options{
		Jobs:            cfg.Jobs,
		ResolveTimeout:  cfg.ResolveTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		RunID:           uuid.NewString(),
	}
	log.Infof("starting run: run_id=%s format=%s dest_dir=%s", opts.RunID, cfg.SourceFormat, cfg.DestDir)

	var h *history.Store
	if cfg.HistoryDir != "" {
		var err error
		h, err = history.Open(cfg.HistoryDir, log.StandardLogger())
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer func() {
			if err := h.Close(); err != nil {
				log.WithError(err).Error("failed to close history db")
			}
		}()
		opts.Recorder = h
	}

	if cfg.MetricsAddr != "" {
		o, err := metrics.NewObserver("", nil)
		if err != nil {
			return pipeline.Summary{}, err
		}
		serveMetrics(ctx, cfg.MetricsAddr, o)
		opts.Observer = o
	}

	src, err := newSource(cfg, h)
	if err != nil {
		return pipeline.Summary{}, err
	}

	items, err := src.FetchAllSaved(ctx)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("failed to read saved items: source=%s: %w", cfg.Source, err)
	}
	log.Infof("read %d saved items", len(items))

	d, err := newDispatcher(cfg, hc)
	if err != nil {
		return pipeline.Summary{}, err
	}

	p := pipeline.New(d, download.NewStore(cfg.DestDir, hc), opts)
	return p.Run(ctx, items)
}

// listFailures prints the items that failed in earlier runs.
func listFailures(ctx context.Context, cfg *Config) error {
	if cfg.HistoryDir == "" {
		return fmt.Errorf("missing required setting: history_dir")
	}

	h, err := history.Open(cfg.HistoryDir, log.StandardLogger())
	if err != nil {
		return err
	}
	defer h.Close()

	failures, err := h.Failures(ctx)
	if err != nil {
		return err
	}

	for _, e := range failures {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.Time.Format(time.RFC3339), e.RunID, e.Stage, e.URL, e.Error)
	}
	return nil
}
