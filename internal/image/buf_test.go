package image

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

func TestNewImageBuf(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		wantErr error
	}{
		{name: "valid", w: 10, h: 20},
		{name: "zero width", w: 0, h: 20, wantErr: ErrInvalidDimensions},
		{name: "negative height", w: 10, h: -1, wantErr: ErrInvalidDimensions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewImageBuf(tt.w, tt.h)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewImageBuf() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if buf.Width() != tt.w || buf.Height() != tt.h {
				t.Errorf("size = %dx%d, want %dx%d", buf.Width(), buf.Height(), tt.w, tt.h)
			}
			if got, want := buf.EstimatedBytes(), int64(tt.w*tt.h*4); got != want {
				t.Errorf("EstimatedBytes() = %d, want %d", got, want)
			}
		})
	}
}

func TestImageBuf_ViewAfterRelease(t *testing.T) {
	buf, err := NewImageBuf(4, 4)
	if err != nil {
		t.Fatal(err)
	}

	var bounds image.Rectangle
	if err := buf.View(func(img *image.NRGBA) { bounds = img.Rect }); err != nil {
		t.Fatalf("View() = %v", err)
	}
	if bounds != image.Rect(0, 0, 4, 4) {
		t.Errorf("bounds = %v, want (0,0)-(4,4)", bounds)
	}

	buf.Release()
	buf.Release() // idempotent

	if err := buf.View(func(*image.NRGBA) {}); !errors.Is(err, ErrReleased) {
		t.Errorf("View() after Release = %v, want ErrReleased", err)
	}
	if buf.EstimatedBytes() != 64 {
		t.Errorf("EstimatedBytes() after Release = %d, want 64", buf.EstimatedBytes())
	}
}

func TestImageBuf_ReleaseWaitsForView(t *testing.T) {
	buf, _ := NewImageBuf(2, 2)

	inView := make(chan struct{})
	leave := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = buf.View(func(*image.NRGBA) {
			close(inView)
			<-leave
		})
	}()
	<-inView

	released := make(chan struct{})
	go func() {
		buf.Release()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Release returned while a view was active")
	case <-time.After(20 * time.Millisecond):
	}

	close(leave)
	wg.Wait()
	<-released
}
