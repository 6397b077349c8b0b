package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// Device wraps a headless wgpu device for compute work. No surface is
// involved: sorting never presents anything. Acquisition failures are
// ordinary errors so the caller can fall back to a CPU engine.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

func NewDevice() (*Device, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "splatsort device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
	}, nil
}

// Poll drives pending buffer mappings forward without blocking.
func (d *Device) Poll() {
	d.device.Poll(false, nil)
}

func (d *Device) Close() {
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	d.device = nil
	d.adapter = nil
	d.instance = nil
}
