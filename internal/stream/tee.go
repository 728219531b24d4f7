package stream

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// TeeReadCloser copies every chunk the caller reads into a mirror writer,
// synchronously and in order. A failing mirror is detached and never
// interrupts the caller's read.
type TeeReadCloser struct {
	body   io.ReadCloser
	mirror io.Writer

	mirrorErr error
	closeOnce sync.Once
	closeErr  error
}

// TeeBody wraps body so reads also flow to mirror. If mirror is an
// io.Closer it is closed after body.
func TeeBody(body io.ReadCloser, mirror io.Writer) *TeeReadCloser {
	return &TeeReadCloser{body: body, mirror: mirror}
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && t.mirrorErr == nil {
		if _, werr := t.mirror.Write(p[:n]); werr != nil {
			t.mirrorErr = werr
			log.Warn().Err(werr).Msg("stream mirror failed, detaching")
		}
	}
	return n, err
}

// MirrorErr reports the first mirror write failure, if any.
func (t *TeeReadCloser) MirrorErr() error {
	return t.mirrorErr
}

func (t *TeeReadCloser) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.body.Close()
		if c, ok := t.mirror.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("closing stream mirror failed")
			}
		}
	})
	return t.closeErr
}
