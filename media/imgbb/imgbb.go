package imgbb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ccollins476ad/savedl/media"
	"github.com/ccollins476ad/savedl/web"
	log "github.com/sirupsen/logrus"
)

// Resolver scrapes imgbb image pages and albums for their embedded images.
// It implements the media.Resolver interface.
type Resolver struct {
	hc *http.Client
}

func NewResolver(hc *http.Client) *Resolver {
	return &Resolver{
		hc: hc,
	}
}

// Resolve implements media.Resolver. It handles both album urls
// (https://ibb.co/album/<id>) and image page urls (https://ibb.co/<id>).
func (r *Resolver) Resolve(ctx context.Context, u string) ([]media.Task, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrMalformedURL, err)
	}

	if strings.HasPrefix(pu.Path, "/album/") {
		return r.resolveAlbum(ctx, u)
	}
	return r.resolveImage(ctx, u)
}

// imageURLs fetches the page at url=u and returns the urls of all its
// embedded images.
func (r *Resolver) imageURLs(ctx context.Context, u string) ([]string, error) {
	doc, err := web.FetchDoc(ctx, r.hc, u)
	if err != nil {
		if errors.Is(err, web.ErrBadDocument) {
			return nil, fmt.Errorf("%w: imgbb page: %w", media.ErrProviderError, err)
		}
		return nil, fmt.Errorf("%w: imgbb page: %w", media.ErrProviderUnavailable, err)
	}

	return web.ImageSources(doc, "https://"), nil
}

// resolveAlbum returns one task per image embedded in an imgbb album.
func (r *Resolver) resolveAlbum(ctx context.Context, u string) ([]media.Task, error) {
	id, err := media.KeyFromURL(u)
	if err != nil {
		return nil, err
	}

	urls, err := r.imageURLs(ctx, u)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: imgbb album contains 0 embedded image urls: url=%s", media.ErrProviderError, u)
	}

	album := media.Album{ID: id}
	for _, iu := range urls {
		log.Debugf("detected imgbb album image link: %s", iu)

		a, err := media.NewAsset(iu)
		if err != nil {
			return nil, fmt.Errorf("%w: bad album image link: album=%s: %w", media.ErrProviderError, id, err)
		}
		album.Members = append(album.Members, a)
	}

	return album.Tasks(), nil
}

// resolveImage returns the single image embedded in an imgbb image page.
func (r *Resolver) resolveImage(ctx context.Context, u string) ([]media.Task, error) {
	urls, err := r.imageURLs(ctx, u)
	if err != nil {
		return nil, err
	}

	var targetURL string
	for _, iu := range urls {
		if targetURL != "" && iu != targetURL {
			return nil, fmt.Errorf("%w: imgbb page contains multiple image links: first=%s second=%s",
				media.ErrProviderError, targetURL, iu)
		}
		targetURL = iu
	}
	if targetURL == "" {
		return nil, fmt.Errorf("%w: imgbb page lacks image link: url=%s", media.ErrProviderError, u)
	}

	return media.DirectResolver{}.Resolve(ctx, targetURL)
}
