package media

import (
	"net/url"
	"path"
	"strings"
)

// Kind identifies the resolver responsible for a url.
type Kind int

const (
	Unsupported Kind = iota
	Direct
	Gfycat
	Imgur
	Imgbb
	Postimg
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Gfycat:
		return "gfycat"
	case Imgur:
		return "imgur"
	case Imgbb:
		return "imgbb"
	case Postimg:
		return "postimg"
	default:
		return "unsupported"
	}
}

// mediaExts are the file extensions that identify a url as pointing directly
// at media bytes.
var mediaExts = map[string]struct{}{
	".jpg":  {},
	".png":  {},
	".gif":  {},
	".gifv": {},
	".webm": {},
	".mp4":  {},
}

// Classify determines which kind of resolver handles url=u. Rules are
// evaluated in order; the first match wins.
func Classify(u string) Kind {
	pu, err := url.Parse(u)
	if err != nil || pu.Host == "" {
		return Unsupported
	}

	host := strings.ToLower(pu.Hostname())

	switch {
	case strings.Contains(host, "gfycat"):
		return Gfycat

	case strings.Contains(host, "imgur"):
		return Imgur

	case host == "ibb.co" || host == "www.ibb.co":
		return Imgbb

	case host == "postimg.cc" && strings.HasPrefix(pu.Path, "/gallery/"):
		return Postimg
	}

	// Only the final path component counts; "/gif-info/page" is not media.
	ext := strings.ToLower(path.Ext(path.Base(pu.Path)))
	if _, ok := mediaExts[ext]; ok {
		return Direct
	}

	return Unsupported
}

// Dispatcher maps urls to the resolver registered for their kind.
type Dispatcher struct {
	resolvers map[Kind]Resolver
}

// NewDispatcher creates a dispatcher with only the direct resolver
// registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		resolvers: map[Kind]Resolver{},
	}
	d.Register(Direct, DirectResolver{})
	return d
}

// Register makes r responsible for urls of kind k, replacing any resolver
// previously registered for k.
func (d *Dispatcher) Register(k Kind, r Resolver) {
	d.resolvers[k] = r
}

// Dispatch classifies url=u and returns the matching resolver. It returns
// Unsupported and a nil resolver if no registered resolver handles u.
func (d *Dispatcher) Dispatch(u string) (Kind, Resolver) {
	k := Classify(u)
	if k == Unsupported {
		return Unsupported, nil
	}

	r, ok := d.resolvers[k]
	if !ok {
		return Unsupported, nil
	}
	return k, r
}

// Wrap replaces every registered resolver with fn(resolver). It is used to
// layer caching over the provider resolvers.
func (d *Dispatcher) Wrap(fn func(k Kind, r Resolver) Resolver) {
	for k, r := range d.resolvers {
		d.resolvers[k] = fn(k, r)
	}
}
