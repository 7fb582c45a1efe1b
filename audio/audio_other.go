//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	capture := &malgoCapture{deviceInfo: device}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			cb := capture.callback.Load()
			if cb != nil {
				(*cb)(data, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	capture.device = dev
	return capture, nil
}

func (m *malgoContext) NewPlayback() (PlaybackDevice, error) {
	return &malgoPlayback{ctx: m.ctx, done: make(chan struct{})}, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device     *malgo.Device
	deviceInfo *DeviceInfo
	callback   atomic.Pointer[DataCallback]
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string {
	if c.deviceInfo != nil {
		return c.deviceInfo.Name
	}
	return "system default"
}

type malgoPlayback struct {
	ctx *malgo.AllocatedContext

	mu      sync.Mutex
	device  *malgo.Device
	samples []int16
	pos     int
	stopped bool

	done       chan struct{}
	doneOnce   sync.Once
	drainedSig sync.Once
}

func (p *malgoPlayback) Play(samples []int16, sampleRate uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil || p.stopped {
		return fmt.Errorf("playback device already used")
	}
	p.samples = samples

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i := uint32(0); i < frameCount; i++ {
				var s int16
				if !p.stopped && p.pos < len(p.samples) {
					s = p.samples[p.pos]
					p.pos++
				}
				binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
			}
			if p.stopped || p.pos >= len(p.samples) {
				// Signal completion; the owner releases the device.
				// Uninit must not be called from the data callback.
				p.drainedSig.Do(func() { go p.signalDone() })
			}
		},
	}

	dev, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	p.device = dev
	if err := dev.Start(); err != nil {
		p.device = nil
		dev.Uninit()
		return fmt.Errorf("malgo playback start: %w", err)
	}
	return nil
}

func (p *malgoPlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	dev := p.device
	p.device = nil
	p.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	p.signalDone()
}

func (p *malgoPlayback) signalDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *malgoPlayback) Done() <-chan struct{} {
	return p.done
}
