// Command kytyemu loads a self-wrapped ELF64 binary, runs the runtime
// linker against it, and drives the GPU command processor and render
// engine against whatever it submits.
package main

import (
	"fmt"
	"os"

	"github.com/kytyemu/kytyemu/config"
	"github.com/kytyemu/kytyemu/internal/backend/gpu"
	"github.com/kytyemu/kytyemu/internal/backend/vk"
	"github.com/kytyemu/kytyemu/internal/gpumem"
	"github.com/kytyemu/kytyemu/internal/klog"
	"github.com/kytyemu/kytyemu/internal/linker"
	"github.com/kytyemu/kytyemu/internal/pm4"
	"github.com/kytyemu/kytyemu/internal/render"
	"github.com/kytyemu/kytyemu/internal/vmem"
	"github.com/kytyemu/kytyemu/internal/watcher"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <binary>\n", os.Args[0])
		os.Exit(1)
	}

	cfg := config.FromEnv()
	klog.SetLevel(klog.LevelInfo)
	klog.SetColor(term.IsTerminal(int(os.Stderr.Fd())))

	l := linker.New()
	program, err := l.LoadProgram(os.Args[1])
	if err != nil {
		klog.Errorf("load %s: %v", os.Args[1], err)
		os.Exit(1)
	}
	if err := l.RelocateAll(); err != nil {
		klog.Errorf("relocate: %v", err)
		os.Exit(1)
	}

	if program.Elf.NeoMode() {
		cfg.NeoMode = true
	}
	klog.Infof("loaded %s entry=%#x neo=%v", os.Args[1], l.GetEntry(), cfg.NeoMode)

	w := watcher.New(vmem.Default, 0, cfg.PagesNum, false)
	cache := gpumem.New(w)

	var dsp *display
	var backend pm4.Backend
	if !cfg.Headless {
		dev, err := vk.Open("kytyemu")
		if err != nil {
			klog.Warnf("vulkan init failed, running without a render backend: %v", err)
		} else {
			dsp = newDisplay(640, 480)
			dsp.start("kytyemu")

			pipelines, descriptors, framebuffers := gpu.NewRenderCaches(dev)
			labels := gpu.NewLabelManager(dev)
			ctx := render.NewContext(dev, pipelines, descriptors, framebuffers, labels)
			backend = gpu.New(dev, cache, ctx, cfg.NeoMode, dsp.updateFrame)
			defer labels.Close()
		}
	}
	if backend == nil {
		backend = noopBackend{}
	}

	processor := pm4.NewProcessor(backend)
	ring := pm4.NewGraphicsRing(processor)
	defer ring.Close()

	l.StartAllModules()
	defer l.StopAllModules()

	if dsp != nil {
		<-dsp.done()
	}
}

// noopBackend lets the core run headless (no Vulkan device available)
// without the command processor needing a nil check on every call.
type noopBackend struct{}

func (noopBackend) BufferInit(int)  {}
func (noopBackend) BufferFlush(int) {}
func (noopBackend) BufferWait(int)  {}

func (noopBackend) DrawIndex(*pm4.HardwareContext, *pm4.UserConfig, uint32, uint64, uint32, uint32) {}
func (noopBackend) DrawIndexAuto(*pm4.HardwareContext, *pm4.UserConfig, uint32, uint32)             {}
func (noopBackend) DispatchDirect(*pm4.HardwareContext, uint32, uint32, uint32)                     {}
func (noopBackend) MemoryBarrier()                                                                  {}
func (noopBackend) RenderTextureBarrier()                                                           {}
func (noopBackend) DepthStencilBarrier()                                                            {}
func (noopBackend) Flip(int, uint64)                                                                {}
func (noopBackend) EmitEvent(uint32)                                                                {}
func (noopBackend) SignalLabel(uint64, uint64, bool)                                                {}
