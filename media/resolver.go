package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/flytam/filenamify"
)

// Resolver turns a post url into the media files it refers to. Most resolver
// implementations only know how to talk to a particular web site (e.g.,
// imgur). A resolver never writes anything to disk.
type Resolver interface {
	// Resolve returns one download task per media file referenced by url=u.
	Resolve(ctx context.Context, u string) ([]Task, error)
}

// Asset is a directly downloadable media file.
type Asset struct {
	SourceURL string // Url of the raw media bytes.
	Key       string // Filename to save the media as.
}

// Task is an asset plus the album directory it belongs in. AlbumDir is empty
// for assets that don't belong to an album.
type Task struct {
	Asset
	AlbumDir string
}

// Album is a group of assets that get saved to a common subdirectory.
type Album struct {
	ID      string
	Members []Asset
}

// Tasks expands an album into one task per member.
func (a Album) Tasks() []Task {
	tasks := make([]Task, 0, len(a.Members))
	for _, m := range a.Members {
		tasks = append(tasks, Task{Asset: m, AlbumDir: a.ID})
	}
	return tasks
}

// LastPathSegment returns the final component of the given url's path, with
// the query and fragment stripped. It returns an error wrapping
// ErrMalformedURL if the path has no final component (e.g., it ends in a
// slash).
func LastPathSegment(u string) (string, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	p := pu.Path
	idx := strings.LastIndex(p, "/")
	seg := p[idx+1:]
	if seg == "" || seg == "." || seg == ".." {
		return "", fmt.Errorf("%w: no trailing path segment: url=%s", ErrMalformedURL, u)
	}

	return seg, nil
}

// KeyFromURL returns the filesystem-safe filename an asset at url=u is saved
// under.
func KeyFromURL(u string) (string, error) {
	seg, err := LastPathSegment(u)
	if err != nil {
		return "", err
	}

	key, err := filenamify.Filenamify(seg, filenamify.Options{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty filename: url=%s", ErrMalformedURL, u)
	}

	return key, nil
}

// NewAsset builds an asset for the media file at url=u.
func NewAsset(u string) (Asset, error) {
	key, err := KeyFromURL(u)
	if err != nil {
		return Asset{}, err
	}
	return Asset{SourceURL: u, Key: key}, nil
}

// DirectResolver resolves urls that already point at media bytes.
type DirectResolver struct{}

// Resolve returns a single task that downloads url=u as-is.
func (DirectResolver) Resolve(ctx context.Context, u string) ([]Task, error) {
	a, err := NewAsset(u)
	if err != nil {
		return nil, err
	}
	return []Task{{Asset: a}}, nil
}
