package imgur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ccollins476ad/savedl/download"
	"github.com/ccollins476ad/savedl/fileutil"
	"github.com/ccollins476ad/savedl/media"
	"github.com/koffeinsource/go-imgur"
	log "github.com/sirupsen/logrus"
)

const DefaultAPIBase = "https://api.imgur.com/3"

// albumSegments are path segments that mark an imgur url as an album rather
// than a single image.
var albumSegments = map[string]struct{}{
	"a":       {},
	"album":   {},
	"gallery": {},
}

type albumInfoDataWrapper struct {
	AI      *imgur.AlbumInfo `json:"data"`
	Success bool             `json:"success"`
	Status  int              `json:"status"`
}

// imageData is the "data" object returned by the image endpoint. Gallery
// posts can describe an album even when fetched as an image.
type imageData struct {
	imgur.ImageInfo
	IsAlbum bool              `json:"is_album"`
	Images  []imgur.ImageInfo `json:"images"`
}

type imageDataWrapper struct {
	Data    *imageData `json:"data"`
	Success bool       `json:"success"`
	Status  int        `json:"status"`
}

// Resolver looks up imgur images and albums via the imgur api. It implements
// the media.Resolver interface.
type Resolver struct {
	hc       *http.Client
	apiBase  string
	clientID string
}

// NewResolver creates an imgur resolver that authenticates with the given
// client id. apiBase defaults to DefaultAPIBase if empty.
func NewResolver(hc *http.Client, apiBase string, clientID string) *Resolver {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Resolver{
		hc:       hc,
		apiBase:  strings.TrimSuffix(apiBase, "/"),
		clientID: clientID,
	}
}

func (r *Resolver) header() http.Header {
	return http.Header{
		"Authorization": []string{"Client-ID " + r.clientID},
	}
}

// parseURL extracts the imgur id from url=u and reports whether u refers to an
// album. The id is the final path segment with any file extension removed.
func parseURL(u string) (id string, isAlbum bool, err error) {
	seg, err := media.LastPathSegment(u)
	if err != nil {
		return "", false, err
	}

	// The id doubles as an album directory name.
	id = strings.TrimSuffix(seg, path.Ext(seg))
	if !fileutil.IsPathSegment(id) {
		return "", false, fmt.Errorf("%w: bad imgur id: url=%s id=%q", media.ErrMalformedURL, u, id)
	}

	pu, _ := url.Parse(u)
	for _, s := range strings.Split(pu.Path, "/") {
		if _, ok := albumSegments[s]; ok {
			isAlbum = true
			break
		}
	}

	return id, isAlbum, nil
}

// Resolve implements media.Resolver. It resolves single images to their
// video variant when one exists, and albums to one task per member image.
func (r *Resolver) Resolve(ctx context.Context, u string) ([]media.Task, error) {
	id, isAlbum, err := parseURL(u)
	if err != nil {
		return nil, err
	}

	if isAlbum {
		return r.resolveAlbum(ctx, id)
	}
	return r.resolveImage(ctx, id)
}

// get queries the given api endpoint and returns the raw response.
func (r *Resolver) get(ctx context.Context, endpoint string, id string) ([]byte, error) {
	u := r.apiBase + "/" + endpoint + "/" + url.PathEscape(id)

	b, err := download.Get(ctx, r.hc, u, r.header())
	if err != nil {
		var se *download.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: imgur %s lookup failed: id=%s status=%s",
				media.ErrProviderUnavailable, endpoint, id, se.Status)
		}
		return nil, fmt.Errorf("%w: imgur %s lookup failed: id=%s: %w",
			media.ErrProviderUnavailable, endpoint, id, err)
	}

	return b, nil
}

func (r *Resolver) resolveAlbum(ctx context.Context, id string) ([]media.Task, error) {
	log.Debugf("scanning imgur album: %s", id)

	b, err := r.get(ctx, "album", id)
	if err != nil {
		return nil, err
	}

	aidw := &albumInfoDataWrapper{}
	if err := json.Unmarshal(b, aidw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode album info: id=%s: %v", media.ErrProviderError, id, err)
	}
	if aidw.AI == nil {
		return nil, fmt.Errorf("%w: album info lacks data: id=%s", media.ErrProviderError, id)
	}

	return albumTasks(id, aidw.AI.Images)
}

func (r *Resolver) resolveImage(ctx context.Context, id string) ([]media.Task, error) {
	b, err := r.get(ctx, "image", id)
	if err != nil {
		return nil, err
	}

	idw := &imageDataWrapper{}
	if err := json.Unmarshal(b, idw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode image info: id=%s: %v", media.ErrProviderError, id, err)
	}
	if idw.Data == nil {
		return nil, fmt.Errorf("%w: image info lacks data: id=%s", media.ErrProviderError, id)
	}

	data := idw.Data
	if data.IsAlbum {
		return albumTasks(id, data.Images)
	}

	// Prefer the video variant; gifv links are html pages.
	link := data.Mp4
	if link == "" {
		link = data.Link
	}
	if link == "" {
		return nil, fmt.Errorf("%w: image info lacks link: id=%s", media.ErrProviderError, id)
	}

	a, err := media.NewAsset(link)
	if err != nil {
		return nil, fmt.Errorf("%w: bad image link: id=%s: %w", media.ErrProviderError, id, err)
	}

	return []media.Task{{Asset: a}}, nil
}

// albumTasks builds an album from the given images and expands it into
// download tasks.
func albumTasks(id string, images []imgur.ImageInfo) ([]media.Task, error) {
	album := media.Album{ID: id}
	for _, img := range images {
		log.Debugf("detected imgur album image link: %s", img.Link)

		a, err := media.NewAsset(img.Link)
		if err != nil {
			return nil, fmt.Errorf("%w: bad album image link: album=%s: %w", media.ErrProviderError, id, err)
		}
		album.Members = append(album.Members, a)
	}

	return album.Tasks(), nil
}
