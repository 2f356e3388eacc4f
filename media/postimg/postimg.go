package postimg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/ccollins476ad/savedl/media"
	"github.com/ccollins476ad/savedl/web"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

var linkRegexp = regexp.MustCompile(`background-image:url\('(https://i.postimg.cc/[^']+)'\)`)

// ImageLink is a gallery entry: the image's page and its full-size file.
type ImageLink struct {
	ShortName string
	FullName  string
}

func (il *ImageLink) IsPopulated() bool {
	return il.ShortName != "" && il.FullName != ""
}

// Resolver scrapes postimg galleries for their images. It implements the
// media.Resolver interface.
type Resolver struct {
	hc *http.Client
}

func NewResolver(hc *http.Client) *Resolver {
	return &Resolver{
		hc: hc,
	}
}

// parseGallery extracts the image links from a postimg gallery page.
func parseGallery(doc *html.Node) []ImageLink {
	var links []ImageLink

	for _, n := range web.Elements(doc, "a") {
		link := ImageLink{ShortName: web.Attr(n, "href")}

		matches := linkRegexp.FindStringSubmatch(web.Attr(n, "style"))
		if len(matches) > 0 {
			link.FullName = matches[1]
		}

		if link.IsPopulated() {
			links = append(links, link)
		}
	}

	return links
}

// Resolve implements media.Resolver. url=u must be a gallery url
// (https://postimg.cc/gallery/<id>). Every gallery image becomes a member of
// an album named after the gallery id.
func (r *Resolver) Resolve(ctx context.Context, u string) ([]media.Task, error) {
	id, err := media.KeyFromURL(u)
	if err != nil {
		return nil, err
	}

	doc, err := web.FetchDoc(ctx, r.hc, u)
	if err != nil {
		if errors.Is(err, web.ErrBadDocument) {
			return nil, fmt.Errorf("%w: postimg gallery: %w", media.ErrProviderError, err)
		}
		return nil, fmt.Errorf("%w: postimg gallery: %w", media.ErrProviderUnavailable, err)
	}

	links := parseGallery(doc)
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: postimg gallery contains 0 images: url=%s", media.ErrProviderError, u)
	}

	album := media.Album{ID: id}
	for _, l := range links {
		log.Debugf("detected postimg gallery image: page=%s file=%s", l.ShortName, l.FullName)

		a, err := media.NewAsset(l.FullName)
		if err != nil {
			return nil, fmt.Errorf("%w: bad gallery image link: gallery=%s: %w", media.ErrProviderError, id, err)
		}
		album.Members = append(album.Members, a)
	}

	return album.Tasks(), nil
}
