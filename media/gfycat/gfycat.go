package gfycat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ccollins476ad/savedl/download"
	"github.com/ccollins476ad/savedl/media"
	log "github.com/sirupsen/logrus"
)

const DefaultAPIBase = "https://api.gfycat.com/v1"

type gfyItem struct {
	GfyID  string `json:"gfyId"`
	Mp4URL string `json:"mp4Url"`
}

type gifDetails struct {
	GfyItem *gfyItem `json:"gfyItem"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Resolver looks up gfycat videos via the gfycat api. It implements the
// media.Resolver interface.
type Resolver struct {
	hc           *http.Client
	apiBase      string
	clientID     string
	clientSecret string

	tokenMtx sync.Mutex // Protects the "token" field.
	token    string     // Bearer token; empty until first fetched.
}

// NewResolver creates a gfycat resolver. If clientID is non-empty, requests
// carry a bearer token obtained with the client credentials. apiBase
// defaults to DefaultAPIBase if empty.
func NewResolver(hc *http.Client, apiBase string, clientID string, clientSecret string) *Resolver {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Resolver{
		hc:           hc,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Resolve implements media.Resolver. The gfy id is the final segment of url=u.
func (r *Resolver) Resolve(ctx context.Context, u string) ([]media.Task, error) {
	id, err := media.LastPathSegment(u)
	if err != nil {
		return nil, err
	}

	details, err := r.getGifDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	if details.GfyItem == nil || details.GfyItem.Mp4URL == "" {
		return nil, fmt.Errorf("%w: gfycat response lacks mp4Url: id=%s", media.ErrProviderError, id)
	}

	tasks, err := media.DirectResolver{}.Resolve(ctx, details.GfyItem.Mp4URL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad mp4Url: id=%s: %w", media.ErrProviderError, id, err)
	}
	return tasks, nil
}

func (r *Resolver) getGifDetails(ctx context.Context, id string) (*gifDetails, error) {
	header, err := r.header(ctx)
	if err != nil {
		return nil, err
	}

	u := r.apiBase + "/gfycats/" + url.PathEscape(id)
	b, err := download.Get(ctx, r.hc, u, header)
	if err != nil {
		var se *download.StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			// Tokens expire; the next lookup fetches a fresh one.
			r.resetToken()
		}
		return nil, fmt.Errorf("%w: gfycat lookup failed: id=%s: %w", media.ErrProviderUnavailable, id, err)
	}

	details := &gifDetails{}
	if err := json.Unmarshal(b, details); err != nil {
		return nil, fmt.Errorf("%w: failed to decode gfycat response: id=%s: %v", media.ErrProviderError, id, err)
	}

	return details, nil
}

// header returns the headers to send with api requests.
func (r *Resolver) header(ctx context.Context) (http.Header, error) {
	if r.clientID == "" {
		return nil, nil
	}

	token, err := r.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	return http.Header{
		"Authorization": []string{"Bearer " + token},
	}, nil
}

// bearerToken returns the cached api token, fetching one first if
// necessary.
func (r *Resolver) bearerToken(ctx context.Context) (string, error) {
	r.tokenMtx.Lock()
	defer r.tokenMtx.Unlock()

	if r.token != "" {
		return r.token, nil
	}

	log.Debugf("requesting gfycat api token: client_id=%s", r.clientID)

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     r.clientID,
		"client_secret": r.clientSecret,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, download.MetadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiBase+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, err := r.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: gfycat token request failed: %w", media.ErrProviderUnavailable, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: gfycat token request failed: status=%s", media.ErrProviderUnavailable, rsp.Status)
	}

	b, err := io.ReadAll(rsp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: gfycat token request failed: %w", media.ErrProviderUnavailable, err)
	}

	tr := &tokenResponse{}
	if err := json.Unmarshal(b, tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: gfycat token response lacks access_token", media.ErrProviderError)
	}

	r.token = tr.AccessToken
	return r.token, nil
}

func (r *Resolver) resetToken() {
	r.tokenMtx.Lock()
	defer r.tokenMtx.Unlock()
	r.token = ""
}
