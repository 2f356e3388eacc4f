package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastPathSegment(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://i.imgur.com/abc123.mp4", want: "abc123.mp4"},
		{url: "https://example.com/a/b/c.jpg?width=640&crop=1", want: "c.jpg"},
		{url: "https://gfycat.com/SomeName#frag", want: "SomeName"},
		{url: "https://example.com/a%20b.png", want: "a b.png"},
		{url: "https://example.com/", wantErr: true},
		{url: "https://example.com", wantErr: true},
		{url: "https://example.com/dir/", wantErr: true},
		{url: "https://example.com/dir/..", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := LastPathSegment(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedURL))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyFromURLSanitizes(t *testing.T) {
	key, err := KeyFromURL("https://example.com/we%3Fird%3Aname.jpg")
	require.NoError(t, err)
	assert.NotContains(t, key, "?")
	assert.NotContains(t, key, ":")
	assert.NotContains(t, key, "/")
}

func TestDirectResolver(t *testing.T) {
	tasks, err := DirectResolver{}.Resolve(context.Background(), "https://i.redd.it/xyz.jpg?s=1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "https://i.redd.it/xyz.jpg?s=1", tasks[0].SourceURL)
	assert.Equal(t, "xyz.jpg", tasks[0].Key)
	assert.Empty(t, tasks[0].AlbumDir)

	_, err = DirectResolver{}.Resolve(context.Background(), "https://i.redd.it/")
	assert.ErrorIs(t, err, ErrMalformedURL)
}

func TestAlbumTasks(t *testing.T) {
	album := Album{
		ID: "abc",
		Members: []Asset{
			{SourceURL: "https://i.imgur.com/1.jpg", Key: "1.jpg"},
			{SourceURL: "https://i.imgur.com/2.jpg", Key: "2.jpg"},
		},
	}

	tasks := album.Tasks()
	require.Len(t, tasks, 2)
	for i, task := range tasks {
		assert.Equal(t, "abc", task.AlbumDir)
		assert.Equal(t, album.Members[i], task.Asset)
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "malformed_url", ErrorKind(ErrMalformedURL))
	assert.Equal(t, "provider_unavailable", ErrorKind(errors.Join(errors.New("x"), ErrProviderUnavailable)))
	assert.Equal(t, "provider_error", ErrorKind(ErrProviderError))
	assert.Equal(t, "other", ErrorKind(errors.New("boom")))
}

type countingResolver struct {
	calls int
	err   error
}

func (c *countingResolver) Resolve(ctx context.Context, u string) ([]Task, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return DirectResolver{}.Resolve(ctx, u)
}

func TestCache(t *testing.T) {
	cr := &countingResolver{}
	c, err := NewCache(cr, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tasks, err := c.Resolve(ctx, "https://example.com/a.jpg")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	}
	assert.Equal(t, 1, cr.calls)

	_, err = c.Resolve(ctx, "https://example.com/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, 2, cr.calls)
}

func TestCacheSkipsErrors(t *testing.T) {
	cr := &countingResolver{err: ErrProviderUnavailable}
	c, err := NewCache(cr, 0)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Resolve(ctx, "https://example.com/a.jpg")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	_, err = c.Resolve(ctx, "https://example.com/a.jpg")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 2, cr.calls)
}
