package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccollins476ad/savedl/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const page = `<html><body>
<a href="/one" class="x">one</a>
<div><img src="https://i.example.com/a.jpg"><img src="/local.png"><img></div>
<a href="/two">two</a>
</body></html>`

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestElementsAndAttr(t *testing.T) {
	doc := parse(t, page)

	links := Elements(doc, "a")
	require.Len(t, links, 2)
	assert.Equal(t, "/one", Attr(links[0], "href"))
	assert.Equal(t, "x", Attr(links[0], "class"))
	assert.Equal(t, "", Attr(links[1], "class"))
	assert.Equal(t, "/two", Attr(links[1], "href"))

	assert.Equal(t, []string{"https://i.example.com/a.jpg"}, ImageSources(doc, "https://"))
	assert.Len(t, Elements(doc, "img"), 3)
}

func TestFetchDoc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(page))
	}))
	defer srv.Close()

	doc, err := FetchDoc(context.Background(), srv.Client(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Len(t, Elements(doc, "a"), 2)

	_, err = FetchDoc(context.Background(), srv.Client(), srv.URL+"/missing")
	var se *download.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}
