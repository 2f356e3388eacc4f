package download

import (
	"context"
	"io"
)

// ContextReader is an io.Reader that stops yielding data once its context is
// done. It is meant to wrap http response bodies, whose reads are already
// interrupted by the request context; the check here keeps long copies from
// issuing further reads after cancellation.
type ContextReader struct {
	ctx context.Context
	r   io.Reader
}

func NewContextReader(ctx context.Context, r io.Reader) *ContextReader {
	return &ContextReader{
		ctx: ctx,
		r:   r,
	}
}

// Read implements io.Reader#Read(), respecting the ContextReader's embedded
// context.
func (cr *ContextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
