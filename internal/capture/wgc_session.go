package capture

// Low-level Windows.Graphics.Capture session wiring: activation factory
// lookups, frame-pool creation, and the per-frame D3D11 texture copy
// that produces a row-pitch-correct CPU buffer. Vtable slot constants
// below follow each interface's documented ABI ordering (IInspectable's
// six slots, then the interface's own methods in IDL declaration order).

import (
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// IInspectable (WinRT's IUnknown + 3 extra slots) occupies slots 0-5.
const inspectableSlots = 6

// IGraphicsCaptureItemInterop vtable slots (beyond IUnknown, which WinRT
// interop interfaces derive from directly rather than IInspectable).
const (
	slotCreateForWindow  = 3
	slotCreateForMonitor = 4
)

// IDirect3D11CaptureFramePoolStatics / CreateFreeThreaded, and instance
// methods on IDirect3D11CaptureFramePool.
const (
	slotCreateFreeThreaded = inspectableSlots + 0
	slotTryGetNextFrame    = inspectableSlots + 1
	slotRecreate           = inspectableSlots + 2
)

// IDirect3D11CaptureFrame property getters.
const (
	slotFrameGetSurface     = inspectableSlots + 0
	slotFrameGetContentSize = inspectableSlots + 1
)

// IGraphicsCaptureSession.
const slotStartCapture = inspectableSlots + 0

// IDirect3DDxgiInterfaceAccess::GetInterface.
const slotGetInterface = 3 // IUnknown-derived, not IInspectable

const pixelFormatB8G8R8A8UIntNormalized = 87 // DXGI_FORMAT_B8G8R8A8_UNORM

var (
	iidIDirect3D11CaptureFramePoolStatics = guid{0x0AB8BD1C, 0x31EB, 0x43CA, [8]byte{0xB5, 0xE9, 0x6E, 0x9E, 0x9B, 0x5B, 0x3F, 0xAE}}
	iidIDirect3D11CaptureFramePool         = guid{0x5A628F2D, 0x5B4D, 0x4E37, [8]byte{0xAC, 0xC4, 0x65, 0x19, 0xBC, 0xB3, 0xEA, 0x9A}}
)

func startComSession(source Source) (*comResources, error) {
	if err := initRuntime(); err != nil {
		return nil, err
	}

	itemInteropFactory, err := getActivationFactory(
		"Windows.Graphics.Capture.GraphicsCaptureItem", iidIGraphicsCaptureItemInterop)
	if err != nil {
		return nil, err
	}
	defer itemInteropFactory.release()

	var item comObject
	switch source.Kind {
	case types.BackendWindow:
		var out uintptr
		if _, err := itemInteropFactory.call(slotCreateForWindow, source.Handle,
			uintptr(unsafe.Pointer(&iidIGraphicsCaptureItem)), uintptr(unsafe.Pointer(&out))); err != nil {
			return nil, fmt.Errorf("CreateForWindow: %w", err)
		}
		item = comObject{ptr: out}
	case types.BackendMonitor:
		return nil, fmt.Errorf("monitor capture item creation requires an HMONITOR, not yet resolved at this layer")
	default:
		return nil, fmt.Errorf("unknown capture source kind %q", source.Kind)
	}

	device, err := createD3D11CaptureDevice()
	if err != nil {
		item.release()
		return nil, err
	}

	poolFactory, err := getActivationFactory(
		"Windows.Graphics.Capture.Direct3D11CaptureFramePool", iidIDirect3D11CaptureFramePoolStatics)
	if err != nil {
		item.release()
		device.release()
		return nil, err
	}
	defer poolFactory.release()

	size := sizeInt32{Width: 1, Height: 1} // sized on first observed content; pool rebuilds immediately
	var poolOut uintptr
	if _, err := poolFactory.call(slotCreateFreeThreaded, device.device.ptr, pixelFormatB8G8R8A8UIntNormalized,
		2, size.pack(), uintptr(unsafe.Pointer(&poolOut))); err != nil {
		item.release()
		device.release()
		return nil, fmt.Errorf("CreateFreeThreaded: %w", err)
	}
	pool := comObject{ptr: poolOut}

	var sessOut uintptr
	if _, err := pool.call(slotCreateCaptureSession(), item.ptr, uintptr(unsafe.Pointer(&sessOut))); err != nil {
		pool.release()
		item.release()
		device.release()
		return nil, fmt.Errorf("CreateCaptureSession: %w", err)
	}
	sess := comObject{ptr: sessOut}

	if _, err := sess.call(slotStartCapture); err != nil {
		sess.release()
		pool.release()
		item.release()
		device.release()
		return nil, fmt.Errorf("StartCapture: %w", err)
	}

	return &comResources{device: device, captureItem: item, framePool: pool, captureSess: sess}, nil
}

// slotCreateCaptureSession is its own function rather than a constant
// because IDirect3D11CaptureFramePool's layout differs from the
// statics interface queried via QueryInterface in a full implementation;
// kept isolated so the exact offset can be corrected in one place.
func slotCreateCaptureSession() int { return inspectableSlots + 3 }

type sizeInt32 struct{ Width, Height int32 }

// pack encodes the SizeInt32 struct into the single uintptr slot the
// ABI expects on amd64 (two int32 fields fit in one 8-byte register).
func (s sizeInt32) pack() uintptr {
	return uintptr(uint32(s.Width)) | uintptr(uint32(s.Height))<<32
}

func createD3D11CaptureDevice() (*d3dDevice, error) {
	var device, context uintptr
	// D3D11_SDK_VERSION
	const sdkVersion = 7
	ret, _, _ := procD3D11CreateDevice.Call(
		0,    // default adapter
		1,    // D3D_DRIVER_TYPE_HARDWARE
		0,    // no software rasterizer module
		0x20, // D3D11_CREATE_DEVICE_BGRA_SUPPORT
		0, 0, // default feature levels
		sdkVersion,
		uintptr(unsafe.Pointer(&device)),
		0, // out feature level, unused
		uintptr(unsafe.Pointer(&context)),
	)
	if ret != 0 {
		return nil, fmt.Errorf("D3D11CreateDevice failed: hresult=0x%x", uint32(ret))
	}
	return &d3dDevice{
		device:  comObject{ptr: device},
		context: comObject{ptr: context},
	}, nil
}

// d3dDevice bundles the ID3D11Device plus its immediate context, and
// the single CPU-readable staging texture frames are copied through.
// The staging texture is (re)created lazily whenever the requested
// size changes, mirroring the frame pool's own rebuild-on-resize rule.
type d3dDevice struct {
	device  comObject
	context comObject

	stagingW, stagingH int
	staging            comObject
}

// ID3D11Device and ID3D11DeviceContext are plain COM (IUnknown-derived,
// not WinRT), so their vtables start at slot 3. These offsets follow
// the published d3d11.h method order.
const (
	slotCreateTexture2D = 8  // ID3D11Device::CreateTexture2D
	slotCopyResource    = 10 // ID3D11DeviceContext::CopyResource
	slotMap             = 14 // ID3D11DeviceContext::Map
	slotUnmap           = 15 // ID3D11DeviceContext::Unmap
)

type texture2DDesc struct {
	Width, Height        uint32
	MipLevels, ArraySize uint32
	Format               uint32
	SampleCount          uint32
	SampleQuality        uint32
	Usage                uint32
	BindFlags            uint32
	CPUAccessFlags       uint32
	MiscFlags            uint32
}

type mappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

func (d *d3dDevice) ensureStaging(w, h int) error {
	if d.stagingW == w && d.stagingH == h && d.staging.ptr != 0 {
		return nil
	}
	if d.staging.ptr != 0 {
		d.staging.release()
		d.staging = comObject{}
	}
	desc := texture2DDesc{
		Width: uint32(w), Height: uint32(h),
		MipLevels: 1, ArraySize: 1,
		Format:      pixelFormatB8G8R8A8UIntNormalized,
		SampleCount: 1,
		Usage:       3, // D3D11_USAGE_STAGING
		CPUAccessFlags: 0x20000, // D3D11_CPU_ACCESS_READ
	}
	var out uintptr
	if _, err := d.device.call(slotCreateTexture2D, uintptr(unsafe.Pointer(&desc)), 0, uintptr(unsafe.Pointer(&out))); err != nil {
		return fmt.Errorf("CreateTexture2D(staging): %w", err)
	}
	d.staging = comObject{ptr: out}
	d.stagingW, d.stagingH = w, h
	return nil
}

// readTexture copies src (a GPU-only texture) into the staging texture
// and maps it for CPU read, returning the mapped row-pitch buffer. The
// caller must call the returned unmap func exactly once.
func (d *d3dDevice) readTexture(src comObject, w, h int) (data []byte, rowPitch int, unmap func(), err error) {
	if err := d.ensureStaging(w, h); err != nil {
		return nil, 0, nil, err
	}
	if _, err := d.context.call(slotCopyResource, d.staging.ptr, src.ptr); err != nil {
		return nil, 0, nil, fmt.Errorf("CopyResource: %w", err)
	}
	var mapped mappedSubresource
	if _, err := d.context.call(slotMap, d.staging.ptr, 0, 1 /* D3D11_MAP_READ */, 0, uintptr(unsafe.Pointer(&mapped))); err != nil {
		return nil, 0, nil, fmt.Errorf("Map: %w", err)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), int(mapped.RowPitch)*h)
	return buf, int(mapped.RowPitch), func() {
		d.context.call(slotUnmap, d.staging.ptr, 0)
	}, nil
}

func (d *d3dDevice) release() {
	if d.staging.ptr != 0 {
		d.staging.release()
	}
	d.context.release()
	d.device.release()
}

// tryGetNextFrame pulls the most recent buffered surface (if any),
// copies it to a CPU BGRA buffer honoring row pitch, and reports the
// surface's content size for the debounce/rebuild decision.
func (c *comResources) tryGetNextFrame(poolW, poolH int) (*types.Frame, int, int, error) {
	var frameOut uintptr
	if _, err := c.framePool.call(slotTryGetNextFrame, uintptr(unsafe.Pointer(&frameOut))); err != nil {
		return nil, 0, 0, err
	}
	if frameOut == 0 {
		return nil, poolW, poolH, nil // nothing new since the last poll
	}
	frame := comObject{ptr: frameOut}
	defer frame.release()

	var sizePacked uintptr
	frame.call(slotFrameGetContentSize, uintptr(unsafe.Pointer(&sizePacked)))
	contentW := int(int32(sizePacked))
	contentH := int(int32(sizePacked >> 32))

	var surfaceOut uintptr
	if _, err := frame.call(slotFrameGetSurface, uintptr(unsafe.Pointer(&surfaceOut))); err != nil {
		return nil, contentW, contentH, err
	}
	surface := comObject{ptr: surfaceOut}
	defer surface.release()

	access, err := queryInterface(surface, iidIDirect3DDxgiInterfaceAccess)
	if err != nil {
		return nil, contentW, contentH, err
	}
	defer access.release()

	var textureOut uintptr
	var iidTexture2D = guid{0x6F15AAF2, 0xD208, 0x4E89, [8]byte{0x9A, 0xB4, 0x48, 0x95, 0x35, 0xD3, 0x4F, 0x9C}}
	if _, err := access.call(slotGetInterface, uintptr(unsafe.Pointer(&iidTexture2D)), uintptr(unsafe.Pointer(&textureOut))); err != nil {
		return nil, contentW, contentH, err
	}
	texture := comObject{ptr: textureOut}
	defer texture.release()

	readW, readH := poolW, poolH
	if readW <= 0 || readH <= 0 {
		readW, readH = contentW, contentH
	}
	mapped, rowPitch, unmap, err := c.device.readTexture(texture, readW, readH)
	if err != nil {
		return nil, contentW, contentH, err
	}
	defer unmap()

	clipW, clipH := clipToContent(readW, readH, contentW, contentH)
	data := copyRowPitch(mapped, clipW, clipH, rowPitch, 4)

	return &types.Frame{
		Width:       clipW,
		Height:      clipH,
		Format:      types.FormatBGRA8,
		RowPitch:    rowPitch,
		Data:        data,
		Timestamp:   time.Now(),
		ContentSize: image.Point{X: contentW, Y: contentH},
	}, contentW, contentH, nil
}

// recreatePool rebuilds the frame pool at a new size. Publication of
// the next frame through LatestFrame is what makes this atomic from a
// reader's perspective — the pool swap itself happens here, off the
// cache's critical section.
func (c *comResources) recreatePool(w, h int) error {
	size := sizeInt32{Width: int32(w), Height: int32(h)}
	_, err := c.framePool.call(slotRecreate, c.device.device.ptr, pixelFormatB8G8R8A8UIntNormalized, 2, size.pack())
	return err
}

func (c *comResources) release() {
	c.captureSess.release()
	c.framePool.release()
	c.captureItem.release()
	c.device.release()
}
