// Package vk wraps the handful of Vulkan objects the render engine
// needs (instance, device, queue, command pool, and the per-thread
// command buffer/fence/semaphore triple) behind thin Go types, so
// internal/render and internal/pm4 never import the Vulkan binding
// directly.
package vk

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Device owns one Vulkan instance, physical device, logical device and
// graphics queue. One Device serves the whole process; per-submission
// parallelism comes from the command buffers handed out by
// NewCommandBuffer, not from multiple devices.
type Device struct {
	mu sync.Mutex

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32
	commandPool    vk.CommandPool
}

var initOnce sync.Once
var initErr error

// Open brings up the Vulkan loader (once per process), an instance, a
// graphics-capable physical device, a logical device and its command
// pool.
func Open(appName string) (*Device, error) {
	initOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			initErr = fmt.Errorf("vk: load loader: %w", err)
			return
		}
		initErr = vk.Init()
	})
	if initErr != nil {
		return nil, initErr
	}

	d := &Device{}
	if err := d.createInstance(appName); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.createDevice(); err != nil {
		return nil, err
	}
	if err := d.createCommandPool(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) createInstance(appName string) error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(appName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("kytyemu"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("vk: CreateInstance failed: %d", res)
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if count == 0 {
		return fmt.Errorf("vk: no Vulkan-capable devices found")
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(d.instance, &count, devices)

	for _, dev := range devices {
		var qCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &qCount, nil)
		families := make([]vk.QueueFamilyProperties, qCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &qCount, families)
		for i, qf := range families {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				d.physicalDevice = dev
				d.queueFamily = uint32(i)
				return nil
			}
		}
	}
	return fmt.Errorf("vk: no device exposes a graphics queue")
}

func (d *Device) createDevice() error {
	priority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{priority},
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}

	var device vk.Device
	if res := vk.CreateDevice(d.physicalDevice, &createInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("vk: CreateDevice failed: %d", res)
	}
	d.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, d.queueFamily, 0, &queue)
	d.queue = queue
	return nil
}

func (d *Device) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("vk: CreateCommandPool failed: %d", res)
	}
	d.commandPool = pool
	return nil
}

// NewCommandBuffer allocates a primary command buffer from the
// device's shared pool. Satisfies render.CommandPoolBackend.
func (d *Device) NewCommandBuffer() any {
	d.mu.Lock()
	defer d.mu.Unlock()

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vk.Success {
		panic(fmt.Sprintf("vk: AllocateCommandBuffers failed: %d", res))
	}
	return buffers[0]
}

// NewFence allocates an unsignaled fence. Satisfies
// render.CommandPoolBackend.
func (d *Device) NewFence() any {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(d.device, &info, nil, &fence); res != vk.Success {
		panic(fmt.Sprintf("vk: CreateFence failed: %d", res))
	}
	return fence
}

// NewSemaphore allocates a binary semaphore. Satisfies
// render.CommandPoolBackend.
func (d *Device) NewSemaphore() any {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(d.device, &info, nil, &sem); res != vk.Success {
		panic(fmt.Sprintf("vk: CreateSemaphore failed: %d", res))
	}
	return sem
}

// findMemoryType picks a physical-device memory type that both appears
// in typeFilter's bitset and carries every flag in properties.
func (d *Device) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memProps.MemoryTypes[i].PropertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("vk: no memory type satisfies filter=%#x properties=%#x", typeFilter, properties)
}

// CreateBuffer allocates a host-visible buffer of size bytes for the
// given usage (vertex/index/storage/transfer) and binds its memory.
// Backs the vertex/index/storage objects internal/gpumem's cache
// creates for draw calls.
func (d *Device) CreateBuffer(size uint64, usage vk.BufferUsageFlagBits) (vk.Buffer, vk.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.device, &info, nil, &buffer); res != vk.Success {
		return vk.Buffer(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), fmt.Errorf("vk: CreateBuffer failed: %d", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return vk.Buffer(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vk.Success {
		return vk.Buffer(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), fmt.Errorf("vk: AllocateMemory failed: %d", res)
	}
	vk.BindBufferMemory(d.device, buffer, memory, 0)
	return buffer, memory, nil
}

// CreateImage allocates a device-local 2D image (color or depth/stencil,
// depending on usage/aspect) plus its view. Backs the render-target and
// depth-stencil objects internal/gpumem's cache creates for draw calls.
func (d *Device) CreateImage(width, height uint32, format vk.Format, usage vk.ImageUsageFlagBits, aspect vk.ImageAspectFlagBits) (vk.Image, vk.DeviceMemory, vk.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if res := vk.CreateImage(d.device, &info, nil, &image); res != vk.Success {
		return vk.Image(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), vk.ImageView(vk.NullHandle), fmt.Errorf("vk: CreateImage failed: %d", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return vk.Image(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), vk.ImageView(vk.NullHandle), err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vk.Success {
		return vk.Image(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), vk.ImageView(vk.NullHandle), fmt.Errorf("vk: AllocateMemory failed: %d", res)
	}
	vk.BindImageMemory(d.device, image, memory, 0)

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.device, &viewInfo, nil, &view); res != vk.Success {
		return vk.Image(vk.NullHandle), vk.DeviceMemory(vk.NullHandle), vk.ImageView(vk.NullHandle), fmt.Errorf("vk: CreateImageView failed: %d", res)
	}
	return image, memory, view, nil
}

// CreateEvent allocates an unsignaled Vulkan event, the mechanism the
// render engine's label manager polls for end-of-pipe completion.
func (d *Device) CreateEvent() (vk.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := vk.EventCreateInfo{SType: vk.StructureTypeEventCreateInfo}
	var event vk.Event
	if res := vk.CreateEvent(d.device, &info, nil, &event); res != vk.Success {
		return vk.Event(vk.NullHandle), fmt.Errorf("vk: CreateEvent failed: %d", res)
	}
	return event, nil
}

// ResetEvent clears event back to unsignaled so its backing label slot
// can be reused for the next submission.
func (d *Device) ResetEvent(event vk.Event) error {
	if res := vk.ResetEvent(d.device, event); res != vk.Success {
		return fmt.Errorf("vk: ResetEvent failed: %d", res)
	}
	return nil
}

// DestroyEvent releases a Vulkan event. Errors are not possible; this
// matches vkDestroyEvent's void signature.
func (d *Device) DestroyEvent(event vk.Event) {
	vk.DestroyEvent(d.device, event, nil)
}

// CmdSetEvent records a command that sets event once all prior work in
// buffer reaches the bottom of the pipeline, the same point the
// original end-of-pipe label write fires at.
func (d *Device) CmdSetEvent(buffer vk.CommandBuffer, event vk.Event) {
	vk.CmdSetEvent(buffer, event, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit))
}

// EventStatus reports whether event has been signaled.
func (d *Device) EventStatus(event vk.Event) bool {
	return vk.GetEventStatus(d.device, event) == vk.EventSet
}

// Begin opens buffer for one-time command recording.
func (d *Device) Begin(buffer vk.CommandBuffer) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(buffer, &info); res != vk.Success {
		return fmt.Errorf("vk: BeginCommandBuffer failed: %d", res)
	}
	return nil
}

// End closes a command buffer opened with Begin, ready for Submit.
func (d *Device) End(buffer vk.CommandBuffer) error {
	if res := vk.EndCommandBuffer(buffer); res != vk.Success {
		return fmt.Errorf("vk: EndCommandBuffer failed: %d", res)
	}
	return nil
}

// CmdPipelineBarrier records a full memory barrier between src and dst
// pipeline stages, the mechanism behind MemoryBarrier/
// RenderTextureBarrier/DepthStencilBarrier.
func (d *Device) CmdPipelineBarrier(buffer vk.CommandBuffer, src, dst vk.PipelineStageFlagBits) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	vk.CmdPipelineBarrier(buffer, vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// CmdCopyImageToBuffer records a copy of a color image's top mip, full
// extent, into a host-visible staging buffer for readback.
func (d *Device) CmdCopyImageToBuffer(cmd vk.CommandBuffer, image vk.Image, width, height uint32, dst vk.Buffer) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(cmd, image, vk.ImageLayoutTransferSrcOptimal, dst, 1, []vk.BufferImageCopy{region})
}

// ReadBuffer maps memory and copies len(out) bytes out of it.
func (d *Device) ReadBuffer(memory vk.DeviceMemory, out []byte) error {
	var data unsafe.Pointer
	if res := vk.MapMemory(d.device, memory, 0, vk.DeviceSize(len(out)), 0, &data); res != vk.Success {
		return fmt.Errorf("vk: MapMemory failed: %d", res)
	}
	copy(out, (*[1 << 30]byte)(data)[:len(out)])
	vk.UnmapMemory(d.device, memory)
	return nil
}

// WriteBuffer maps memory and copies in into it, for host-visible
// buffers the CPU updates directly (vertex/index data staged by the
// guest) rather than through a transfer command.
func (d *Device) WriteBuffer(memory vk.DeviceMemory, in []byte) error {
	var data unsafe.Pointer
	if res := vk.MapMemory(d.device, memory, 0, vk.DeviceSize(len(in)), 0, &data); res != vk.Success {
		return fmt.Errorf("vk: MapMemory failed: %d", res)
	}
	copy((*[1 << 30]byte)(data)[:len(in)], in)
	vk.UnmapMemory(d.device, memory)
	return nil
}

// Submit submits a recorded command buffer to the graphics queue,
// signaling fence on completion.
func (d *Device) Submit(buffer vk.CommandBuffer, fence vk.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{buffer},
	}
	if res := vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{submit}, fence); res != vk.Success {
		return fmt.Errorf("vk: QueueSubmit failed: %d", res)
	}
	return nil
}

// WaitFence blocks until fence signals or the device is lost, then
// resets it for reuse.
func (d *Device) WaitFence(fence vk.Fence) error {
	fences := []vk.Fence{fence}
	if res := vk.WaitForFences(d.device, 1, fences, vk.True, ^uint64(0)); res != vk.Success {
		return fmt.Errorf("vk: WaitForFences failed: %d", res)
	}
	if res := vk.ResetFences(d.device, 1, fences); res != vk.Success {
		return fmt.Errorf("vk: ResetFences failed: %d", res)
	}
	return nil
}

func safeString(s string) string { return s + "\x00" }
