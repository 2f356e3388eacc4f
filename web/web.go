package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ccollins476ad/savedl/download"
	"golang.org/x/net/html"
)

// ErrBadDocument indicates a page was retrieved but could not be parsed.
var ErrBadDocument = errors.New("bad html document")

// FetchDoc retrieves the html page at url=u and parses it.
func FetchDoc(ctx context.Context, hc *http.Client, u string) (*html.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, download.MetadataTimeout)
	defer cancel()

	body, err := download.GetBody(ctx, hc, u, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := html.Parse(download.NewContextReader(ctx, body))
	if err != nil {
		return nil, fmt.Errorf("%w: url=%s: %v", ErrBadDocument, u, err)
	}

	return doc, nil
}

// Attr returns the value of the named attribute of n, or the empty string if
// n lacks it.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// ForEachNode applies a function to the given node and each of its
// descendants, depth first.
func ForEachNode(node *html.Node, fn func(n *html.Node)) {
	fn(node)
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		ForEachNode(c, fn)
	}
}

// Elements returns all descendant element nodes with the given tag name.
func Elements(node *html.Node, tag string) []*html.Node {
	var nodes []*html.Node

	ForEachNode(node, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			nodes = append(nodes, n)
		}
	})

	return nodes
}

// ImageSources returns the src of every img element in the given document
// that starts with prefix.
func ImageSources(doc *html.Node, prefix string) []string {
	var srcs []string
	for _, n := range Elements(doc, "img") {
		src := Attr(n, "src")
		if src != "" && strings.HasPrefix(src, prefix) {
			srcs = append(srcs, src)
		}
	}
	return srcs
}
