package main

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// display presents flipped frames in a window when a GPU backend is
// active. It has no guest-visible effects; closing the window is the
// only way this process is asked to shut down, since there is no CPU
// core driving the loaded program forward.
type display struct {
	width, height int

	mu          sync.RWMutex
	frameBuffer []byte
	window      *ebiten.Image

	closed chan struct{}
	once   sync.Once
}

func newDisplay(width, height int) *display {
	return &display{
		width:       width,
		height:      height,
		frameBuffer: make([]byte, width*height*4),
		closed:      make(chan struct{}),
	}
}

// start launches the window on its own goroutine and returns immediately.
func (d *display) start(title string) {
	ebiten.SetWindowSize(d.width, d.height)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)
	go func() {
		defer d.once.Do(func() { close(d.closed) })
		_ = ebiten.RunGame(d)
	}()
}

// updateFrame copies a flipped RGBA8 frame into the presented image.
func (d *display) updateFrame(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(d.frameBuffer, data)
	if n < len(d.frameBuffer) {
		clear(d.frameBuffer[n:])
	}
}

// done is closed once the window has been closed by the user.
func (d *display) done() <-chan struct{} {
	return d.closed
}

func (d *display) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	return nil
}

func (d *display) Draw(screen *ebiten.Image) {
	if d.window == nil {
		d.window = ebiten.NewImage(d.width, d.height)
	}
	d.mu.RLock()
	d.window.WritePixels(d.frameBuffer)
	d.mu.RUnlock()
	screen.DrawImage(d.window, nil)
}

func (d *display) Layout(_, _ int) (int, int) {
	return d.width, d.height
}
