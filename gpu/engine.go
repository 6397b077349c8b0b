package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/splatsort"
	"github.com/gekko3d/splatsort/shaders"
)

// groupSize matches the workgroup_size of the embedded kernels and the
// elements-per-group constant of the local bitonic phase.
const groupSize = 256

// Visible-counter readback states. The counter crosses the device boundary
// with a copy one tick and a map on a later one, and a new copy is issued
// only once the buffer is idle again, so the value consumed by the scheduler
// is at least one tick stale.
const (
	readbackIdle = iota
	readbackCopied
	readbackMapping
	readbackMapped
)

// Engine runs key extraction, culling and the bitonic network on a wgpu
// compute queue. It implements splatsort.Engine; construct it with
// splatsort.WithEngine to put it at the head of the fallback chain.
//
// All buffers are sized for a fixed element count at construction. The
// permutation is mapped back synchronously after each sort (the consumer is
// host-side); only the visible counter uses the asynchronous readback path.
type Engine struct {
	log    splatsort.Logger
	dev    *Device
	margin float32

	n      int
	padded int

	positionBuf     *wgpu.Buffer
	keyBuf          *wgpu.Buffer
	indexBuf        *wgpu.Buffer
	visibleBuf      *wgpu.Buffer
	extractUniform  *wgpu.Buffer
	indexReadback   *wgpu.Buffer
	visibleReadback *wgpu.Buffer
	stageUniforms   []*wgpu.Buffer

	extractPipeline *wgpu.ComputePipeline
	localPipeline   *wgpu.ComputePipeline
	globalPipeline  *wgpu.ComputePipeline

	extractBindGroup *wgpu.BindGroup
	localBindGroup   *wgpu.BindGroup
	globalBindGroups []*wgpu.BindGroup

	readbackState int
	lastVisible   int
	haveVisible   bool
}

// NewEngine allocates device buffers and pipelines for the given positions.
// label distinguishes multiple sorters in captures and error messages.
func NewEngine(dev *Device, positions []mgl32.Vec3, margin float32, log splatsort.Logger, label string) (*Engine, error) {
	if log == nil {
		log = splatsort.NewNopLogger()
	}
	n := len(positions)
	e := &Engine{
		log:    log,
		dev:    dev,
		margin: margin,
		n:      n,
		padded: paddedCount(n),
	}
	if n == 0 {
		return e, nil
	}

	if err := e.createBuffers(positions, label); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.createPipelines(label); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.createBindGroups(label); err != nil {
		e.Close()
		return nil, err
	}
	log.Debugf("gpu engine %s: %d elements, %d padded, %d global stages", label, n, e.padded, len(e.stageUniforms))
	return e, nil
}

// paddedCount mirrors the CPU engine: smallest power of two >= n that is a
// multiple of groupSize.
func paddedCount(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	if p < groupSize {
		p = groupSize
	}
	return p
}

func (e *Engine) createBuffers(positions []mgl32.Vec3, label string) error {
	// vec3 positions are padded to vec4 for storage-buffer layout.
	packed := make([]float32, len(positions)*4)
	for i, p := range positions {
		packed[i*4+0] = p[0]
		packed[i*4+1] = p[1]
		packed[i*4+2] = p[2]
	}

	var err error
	e.positionBuf, err = e.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label + " positions",
		Contents: wgpu.ToBytes(packed),
		Usage:    wgpu.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("position buffer: %w", err)
	}

	e.keyBuf, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " keys",
		Size:  uint64(e.padded * 4),
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("key buffer: %w", err)
	}

	e.indexBuf, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " indices",
		Size:  uint64(e.padded * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("index buffer: %w", err)
	}

	e.visibleBuf, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " visible counter",
		Size:  4,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("visible counter: %w", err)
	}

	e.extractUniform, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " extract params",
		Size:  extractParamsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("extract uniform: %w", err)
	}

	e.indexReadback, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " index readback",
		Size:  uint64(e.n * 4),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return fmt.Errorf("index readback: %w", err)
	}

	e.visibleReadback, err = e.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + " visible readback",
		Size:  4,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return fmt.Errorf("visible readback: %w", err)
	}

	// The element count is fixed, so the (k, j) stage sequence is fixed too;
	// one small uniform per stage avoids touching uniforms mid-encoder.
	for k := groupSize * 2; k <= e.padded; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			buf, err := e.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
				Label:    fmt.Sprintf("%s stage k=%d j=%d", label, k, j),
				Contents: wgpu.ToBytes([]uint32{uint32(k), uint32(j), uint32(e.padded), 0}),
				Usage:    wgpu.BufferUsageUniform,
			})
			if err != nil {
				return fmt.Errorf("stage uniform k=%d j=%d: %w", k, j, err)
			}
			e.stageUniforms = append(e.stageUniforms, buf)
		}
	}
	return nil
}

func (e *Engine) createPipelines(label string) error {
	mk := func(name, code string) (*wgpu.ComputePipeline, error) {
		module, err := e.dev.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          name,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
		})
		if err != nil {
			return nil, fmt.Errorf("shader %s: %w", name, err)
		}
		defer module.Release()
		pipeline, err := e.dev.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label: label + " " + name,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		return pipeline, nil
	}

	var err error
	if e.extractPipeline, err = mk("extract_keys", shaders.ExtractKeysWGSL); err != nil {
		return err
	}
	if e.localPipeline, err = mk("bitonic_local", shaders.BitonicLocalWGSL); err != nil {
		return err
	}
	if e.globalPipeline, err = mk("bitonic_global", shaders.BitonicGlobalWGSL); err != nil {
		return err
	}
	return nil
}

func (e *Engine) createBindGroups(label string) error {
	layout := e.extractPipeline.GetBindGroupLayout(0)
	defer layout.Release()
	bg, err := e.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + " extract",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: e.extractUniform, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: e.positionBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: e.keyBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: e.indexBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: e.visibleBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("extract bind group: %w", err)
	}
	e.extractBindGroup = bg

	localLayout := e.localPipeline.GetBindGroupLayout(0)
	defer localLayout.Release()
	bg, err = e.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + " bitonic local",
		Layout: localLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: e.keyBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: e.indexBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("local bind group: %w", err)
	}
	e.localBindGroup = bg

	globalLayout := e.globalPipeline.GetBindGroupLayout(0)
	defer globalLayout.Release()
	for i, uniform := range e.stageUniforms {
		bg, err = e.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("%s bitonic global %d", label, i),
			Layout: globalLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: uniform, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: e.keyBuf, Size: wgpu.WholeSize},
				{Binding: 2, Buffer: e.indexBuf, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return fmt.Errorf("global bind group %d: %w", i, err)
		}
		e.globalBindGroups = append(e.globalBindGroups, bg)
	}
	return nil
}

func (e *Engine) Name() string { return "gpu-bitonic" }

func (e *Engine) Sort(cam splatsort.Camera, perm []uint32) (int, bool, error) {
	if e.n == 0 {
		return 0, true, nil
	}

	// Advance the visible readback state machine before touching the counter
	// buffer again: a copy issued last tick becomes a map request now.
	if e.readbackState == readbackCopied {
		e.readbackState = readbackMapping
		err := e.visibleReadback.MapAsync(wgpu.MapModeRead, 0, 4, func(status wgpu.BufferMapAsyncStatus) {
			if status == wgpu.BufferMapAsyncStatusSuccess {
				e.readbackState = readbackMapped
			} else {
				e.readbackState = readbackIdle
			}
		})
		if err != nil {
			e.readbackState = readbackIdle
		}
	}

	if err := e.dev.queue.WriteBuffer(e.extractUniform, 0, e.extractParamsBytes(cam)); err != nil {
		return 0, false, fmt.Errorf("write extract params: %w", err)
	}
	if err := e.dev.queue.WriteBuffer(e.visibleBuf, 0, wgpu.ToBytes([]uint32{0})); err != nil {
		return 0, false, fmt.Errorf("reset visible counter: %w", err)
	}

	encoder, err := e.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return 0, false, fmt.Errorf("command encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(e.extractPipeline)
	pass.SetBindGroup(0, e.extractBindGroup, nil)
	pass.DispatchWorkgroups(uint32(e.padded/groupSize), 1, 1)

	pass.SetPipeline(e.localPipeline)
	pass.SetBindGroup(0, e.localBindGroup, nil)
	pass.DispatchWorkgroups(uint32(e.padded/groupSize), 1, 1)

	pairGroups := uint32((e.padded/2 + groupSize - 1) / groupSize)
	pass.SetPipeline(e.globalPipeline)
	for _, bg := range e.globalBindGroups {
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups(pairGroups, 1, 1)
	}
	if err := pass.End(); err != nil {
		return 0, false, fmt.Errorf("compute pass: %w", err)
	}

	encoder.CopyBufferToBuffer(e.indexBuf, 0, e.indexReadback, 0, uint64(e.n*4))
	if e.readbackState == readbackIdle {
		encoder.CopyBufferToBuffer(e.visibleBuf, 0, e.visibleReadback, 0, 4)
		e.readbackState = readbackCopied
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return 0, false, fmt.Errorf("encoder finish: %w", err)
	}
	defer cmd.Release()
	e.dev.queue.Submit(cmd)

	// The permutation is consumed host-side this tick, so its map is the one
	// place the host blocks on the device.
	if err := e.readPermutation(perm); err != nil {
		return 0, false, err
	}

	// The blocking poll above also completed any pending counter map.
	if e.readbackState == readbackMapped {
		data := e.visibleReadback.GetMappedRange(0, 4)
		e.lastVisible = int(binary.LittleEndian.Uint32(data))
		e.haveVisible = true
		e.visibleReadback.Unmap()
		e.readbackState = readbackIdle
	}

	return e.lastVisible, e.haveVisible, nil
}

func (e *Engine) readPermutation(perm []uint32) error {
	size := uint64(e.n * 4)
	mapped := false
	failed := false
	err := e.indexReadback.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		mapped = true
		failed = status != wgpu.BufferMapAsyncStatusSuccess
	})
	if err != nil {
		return fmt.Errorf("map index readback: %w", err)
	}
	for !mapped {
		e.dev.device.Poll(true, nil)
	}
	if failed {
		return fmt.Errorf("index readback map failed")
	}

	data := e.indexReadback.GetMappedRange(0, uint(size))
	for i := 0; i < e.n; i++ {
		perm[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	e.indexReadback.Unmap()
	return nil
}

// extractParamsSize matches the WGSL ExtractParams layout: six vec4 planes,
// camera position, view direction, then counts and margin.
const extractParamsSize = 6*16 + 16 + 16 + 16

func (e *Engine) extractParamsBytes(cam splatsort.Camera) []byte {
	words := make([]uint32, 0, extractParamsSize/4)
	vp := cam.ViewProjection()
	for _, plane := range splatsort.FrustumPlanes(vp) {
		for _, f := range plane {
			words = append(words, math.Float32bits(f))
		}
	}
	pos := cam.Position
	words = append(words, math.Float32bits(pos[0]), math.Float32bits(pos[1]), math.Float32bits(pos[2]), 0)
	dir := cam.Direction()
	words = append(words, math.Float32bits(dir[0]), math.Float32bits(dir[1]), math.Float32bits(dir[2]), 0)
	words = append(words, uint32(e.n), uint32(e.padded), math.Float32bits(e.margin), 0)
	return wgpu.ToBytes(words)
}

func (e *Engine) Close() error {
	release := func(b *wgpu.Buffer) {
		if b != nil {
			b.Release()
		}
	}
	release(e.positionBuf)
	release(e.keyBuf)
	release(e.indexBuf)
	release(e.visibleBuf)
	release(e.extractUniform)
	release(e.indexReadback)
	release(e.visibleReadback)
	for _, b := range e.stageUniforms {
		release(b)
	}
	if e.extractPipeline != nil {
		e.extractPipeline.Release()
	}
	if e.localPipeline != nil {
		e.localPipeline.Release()
	}
	if e.globalPipeline != nil {
		e.globalPipeline.Release()
	}
	return nil
}
