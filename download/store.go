package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/ccollins476ad/savedl/fileutil"
	"github.com/ccollins476ad/savedl/media"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrStat indicates the destination path could not be examined, or
	// holds something other than a regular file.
	ErrStat = errors.New("stat failed")

	// ErrAlreadyExists indicates another writer created the destination file
	// while this one was downloading. The file on disk is intact; callers
	// should treat this as a skip.
	ErrAlreadyExists = errors.New("file already exists")

	// ErrInvalidPath indicates an asset key or album directory that is not a
	// single path segment.
	ErrInvalidPath = errors.New("invalid destination path")

	// ErrEarlierAttemptFailed indicates this store already tried the same
	// destination during the current run and that attempt failed. The error
	// also wraps the original failure.
	ErrEarlierAttemptFailed = errors.New("earlier attempt failed")
)

// Outcome describes what Store.Download did.
type Outcome int

const (
	Stored  Outcome = iota // Downloaded and written to disk.
	Skipped                // Already on disk or already attempted.
)

func (o Outcome) String() string {
	if o == Stored {
		return "stored"
	}
	return "skipped"
}

// Result is the successful return value of Store.Download.
type Result struct {
	Outcome Outcome
	Path    string // Absolute or destDir-rooted path of the file.
	Bytes   int64  // Bytes written; zero unless Outcome is Stored.
}

// Store saves media assets to a directory tree, each at most once. The
// destination directory is shared with other processes; the only
// coordination is the filesystem's exclusive-create semantics.
type Store struct {
	destDir string // constant

	hc *http.Client

	attemptsMtx sync.Mutex          // Protects the "attempts" field.
	attempts    map[string]*attempt // Keyed by destination path.
}

// attempt is a download of one destination path. done is closed once err is
// set.
type attempt struct {
	done chan struct{}
	err  error
}

func NewStore(destDir string, hc *http.Client) *Store {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Store{
		destDir:  destDir,
		hc:       hc,
		attempts: map[string]*attempt{},
	}
}

// Path returns the destination path of the given asset.
func (s *Store) Path(a media.Asset, albumDir string) string {
	if albumDir != "" {
		return filepath.Join(s.destDir, albumDir, a.Key)
	}
	return filepath.Join(s.destDir, a.Key)
}

// Download ensures the given asset has been saved. It returns Skipped if the
// file already exists or if this store already saved it. Otherwise it streams
// the asset to disk and returns Stored. A failed download leaves nothing at
// the destination path, and later calls for the same path in this store fail
// with ErrEarlierAttemptFailed without retrying.
func (s *Store) Download(ctx context.Context, a media.Asset, albumDir string) (Result, error) {
	if !fileutil.IsPathSegment(a.Key) || (albumDir != "" && !fileutil.IsPathSegment(albumDir)) {
		return Result{Outcome: Skipped}, fmt.Errorf("%w: album=%q key=%q", ErrInvalidPath, albumDir, a.Key)
	}

	destPath := s.Path(a, albumDir)

	at, first := s.claim(destPath)
	if !first {
		return s.follow(ctx, at, a, destPath)
	}

	res, err := s.download(ctx, a, destPath)

	// Losing a race to another writer still leaves a complete file.
	if errors.Is(err, ErrAlreadyExists) {
		at.err = nil
	} else {
		at.err = err
	}
	close(at.done)

	return res, err
}

// follow waits for the earlier attempt at destPath and reports its result.
func (s *Store) follow(ctx context.Context, at *attempt, a media.Asset, destPath string) (Result, error) {
	res := Result{Outcome: Skipped, Path: destPath}

	select {
	case <-at.done:
	case <-ctx.Done():
		return res, ctx.Err()
	}

	if at.err != nil {
		return res, fmt.Errorf("%w: path=%s: %w", ErrEarlierAttemptFailed, destPath, at.err)
	}

	log.Debugf("skipping %s: download already attempted: %s", a.SourceURL, destPath)
	return res, nil
}

func (s *Store) download(ctx context.Context, a media.Asset, destPath string) (Result, error) {
	res := Result{Outcome: Skipped, Path: destPath}

	// Album directories are shared by all of an album's members; existing
	// ones are expected.
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return res, fmt.Errorf("failed to create directory: path=%s: %w", filepath.Dir(destPath), err)
	}

	exists, err := fileutil.IsRegular(destPath)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStat, err)
	}
	if exists {
		log.Debugf("skipping %s: file already exists: %s", a.SourceURL, destPath)
		return res, nil
	}

	body, err := GetBody(ctx, s.hc, a.SourceURL, nil)
	if err != nil {
		return res, err
	}
	defer body.Close()

	log.Infof("downloading %s", destPath)
	n, err := fileutil.WriteExclusive(destPath, NewContextReader(ctx, body))
	if errors.Is(err, fs.ErrExist) {
		log.Infof("skipping %s: created by another writer: %s", a.SourceURL, destPath)
		return res, fmt.Errorf("%w: path=%s", ErrAlreadyExists, destPath)
	}
	if err != nil {
		return res, fmt.Errorf("failed to save http response: url=%s: %w", a.SourceURL, err)
	}

	res.Outcome = Stored
	res.Bytes = n
	return res, nil
}

// claim returns the attempt for destPath, creating it if this is the first
// call for that path. first is true if the caller created the attempt and
// must complete it.
func (s *Store) claim(destPath string) (at *attempt, first bool) {
	s.attemptsMtx.Lock()
	defer s.attemptsMtx.Unlock()

	if at, ok := s.attempts[destPath]; ok {
		return at, false
	}

	at = &attempt{done: make(chan struct{})}
	s.attempts[destPath] = at
	return at, true
}
