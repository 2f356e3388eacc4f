// Package saved reads the list of posts a user has saved. Each source yields
// the post's link and whether the post is a text-only (self) post.
package saved

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ccollins476ad/savedl/bdfr"
	"github.com/ccollins476ad/savedl/fileutil"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"mvdan.cc/xurls/v2"
)

// Item is a single saved post.
type Item struct {
	URL        string `yaml:"url" json:"url"`
	IsTextPost bool   `yaml:"is_self" json:"is_self"`
}

// Source produces a user's saved posts.
type Source interface {
	FetchAllSaved(ctx context.Context) ([]Item, error)
}

// Archive reads saved posts from a bdfr archive: a directory tree of json
// files, one per post.
type Archive struct {
	Dir string
}

// FetchAllSaved implements Source. Files are read in lexical order.
func (a Archive) FetchAllSaved(ctx context.Context) ([]Item, error) {
	if !fileutil.IsDir(a.Dir) {
		return nil, fmt.Errorf("bdfr archive is not a directory: %s", a.Dir)
	}

	// Collect filenames of posts in source directory.
	var filenames []string
	err := filepath.WalkDir(a.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			filenames = append(filenames, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(filenames)

	var items []Item
	for _, filename := range filenames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := readArchivePost(filename)
		if err != nil {
			log.WithError(err).Errorf("failed to read post: filename=%s", filename)
			continue
		}
		if item.URL == "" {
			log.Debugf("post lacks url: filename=%s", filename)
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func readArchivePost(filename string) (Item, error) {
	m, err := bdfr.ReadMessage(filename)
	if err != nil {
		return Item{}, err
	}

	u, err := m.GetString("url")
	if err != nil {
		return Item{}, err
	}

	isSelf, err := m.GetBool("is_self")
	if err != nil {
		return Item{}, err
	}

	return Item{URL: u, IsTextPost: isSelf}, nil
}

// Manifest reads saved posts from a yaml (or json) file holding a list of
// {url, is_self} records.
type Manifest struct {
	Path string
}

// FetchAllSaved implements Source.
func (m Manifest) FetchAllSaved(ctx context.Context) ([]Item, error) {
	b, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := yaml.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: path=%s: %w", m.Path, err)
	}

	return items, nil
}

// LinkList reads saved posts from free-form text. Every url found in the
// text is a link post.
type LinkList struct {
	Path string
}

// FetchAllSaved implements Source.
func (l LinkList) FetchAllSaved(ctx context.Context) ([]Item, error) {
	b, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, err
	}

	rx := xurls.Strict()
	links := rx.FindAllString(string(b), -1)

	items := make([]Item, 0, len(links))
	for _, link := range links {
		items = append(items, Item{URL: link})
	}

	return items, nil
}
