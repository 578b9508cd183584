package assembly

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/maauso/tripreel-api/internal/media"
)

var errBroken = errors.New("broken media")

// fakeVideo describes a video served by fakeDecoder.
type fakeVideo struct {
	fps           float64
	frames        int
	width, height int
	// failAfter makes Next return an error after that many frames (0 = never).
	failAfter int
}

type fakeDecoder struct {
	videos map[string]fakeVideo
	images map[string][2]int

	mu      sync.Mutex
	opened  []string
	closed  int
	readers []*fakeReader
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{videos: map[string]fakeVideo{}, images: map[string][2]int{}}
}

func (d *fakeDecoder) OpenVideo(_ context.Context, path string) (media.FrameReader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.videos[path]
	if !ok {
		return nil, errBroken
	}
	d.opened = append(d.opened, path)
	r := &fakeReader{d: d, v: v, tag: byte(50 * len(d.opened))}
	d.readers = append(d.readers, r)
	return r, nil
}

func (d *fakeDecoder) DecodeImage(_ context.Context, path string) (media.Frame, error) {
	size, ok := d.images[path]
	if !ok {
		return media.Frame{}, errBroken
	}
	f, err := media.NewFrame(size[0], size[1])
	if err != nil {
		return media.Frame{}, err
	}
	// Image frames are uniformly 0xff so they stay recognizable after resizing.
	for i := range f.Pix {
		f.Pix[i] = 0xff
	}
	return f, nil
}

type fakeReader struct {
	d      *fakeDecoder
	v      fakeVideo
	tag    byte
	next   int
	closed bool
}

func (r *fakeReader) FPS() float64 { return r.v.fps }

func (r *fakeReader) Next(ctx context.Context) (media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	if r.v.failAfter > 0 && r.next >= r.v.failAfter {
		return media.Frame{}, errBroken
	}
	if r.next >= r.v.frames {
		return media.Frame{}, io.EOF
	}
	f, err := media.NewFrame(r.v.width, r.v.height)
	if err != nil {
		return media.Frame{}, err
	}
	// Video frames are filled with their reader tag so ordering can be checked.
	for i := range f.Pix {
		f.Pix[i] = r.tag
	}
	r.next++
	return f, nil
}

func (r *fakeReader) Close() error {
	if !r.closed {
		r.closed = true
		r.d.mu.Lock()
		r.d.closed++
		r.d.mu.Unlock()
	}
	return nil
}

type fakeEncoder struct {
	initErr  error
	writeErr error
	// failAt makes WriteFrame fail on that frame number (1-based, 0 = never).
	failAt int

	writer *fakeWriter
}

func (e *fakeEncoder) CreateVideo(_ context.Context, path string, width, height int, fps float64) (media.FrameWriter, error) {
	if e.initErr != nil {
		return nil, e.initErr
	}
	e.writer = &fakeWriter{path: path, width: width, height: height, fps: fps, failAt: e.failAt, writeErr: e.writeErr}
	return e.writer, nil
}

type fakeWriter struct {
	path          string
	width, height int
	fps           float64
	failAt        int
	writeErr      error

	frames  []media.Frame
	closed  bool
	aborted bool
}

func (w *fakeWriter) WriteFrame(f media.Frame) error {
	if w.failAt > 0 && len(w.frames)+1 == w.failAt {
		return w.writeErr
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) Abort() error {
	w.aborted = true
	return nil
}
