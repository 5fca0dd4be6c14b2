// Package midi implements the USB-MIDI class driver: the same
// SET_CONFIGURATION-then-periodic-read template as drivers/hid and
// drivers/xbox, but over bulk endpoints rather than interrupt, since the
// USB-MIDI class (USB Device Class Definition for MIDI Devices) streams
// 4-byte event packets over bulk IN/OUT rather than polling a fixed-rate
// interrupt endpoint.
package midi

import (
	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// eventSize is the fixed size of one USB-MIDI event packet: a Cable
// Number/Code Index Number byte followed by up to three MIDI data bytes.
const eventSize = 4

// eventsPerRead bounds how many 4-byte events one bulk IN transfer reads at
// once.
const eventsPerRead = 16

// bufferSize is the bulk transfer buffer size, large enough for
// eventsPerRead events.
const bufferSize = eventSize * eventsPerRead

type state uint8

const (
	stateInactive state = iota

	stateSetConfigurationRequest
	stateSetConfigurationEmptyRead
	stateSetConfigurationComplete

	stateReadingRequest
	stateReadingComplete
)

type midiInstance struct {
	drv  *Driver
	slot *host.DeviceSlot

	inUse bool

	configurationValue uint8
	inEPAddress        uint8
	inEPMaxPacket      uint16
	inToggle           uint8
	outEPAddress       uint8
	outEPMaxPacket     uint16
	outToggle          uint8

	state state

	inBuf [bufferSize]byte

	setupBuf [8]byte
}

// Driver implements host.ClassDriver for USB-MIDI devices over a fixed pool
// of host.MaxMidiDevices concurrently-bound instances.
type Driver struct {
	host *host.Host
	pool [host.MaxMidiDevices]midiInstance

	// InMessageHandler fires once per decoded incoming event packet's MIDI
	// payload: the CIN byte is stripped and the full 3-byte payload is
	// passed through; unused trailing bytes are not trimmed, since USB-MIDI
	// table 4-1's per-CIN byte counts are not tracked here. deviceID is the
	// instance's 0-based pool index, not the USB address. May be left nil.
	InMessageHandler func(deviceID int, data []byte)
}

// New constructs an unbound MIDI Driver. Pass it to host.NewHost, which
// calls BindHost on it before any device can be enumerated.
func New() *Driver {
	d := &Driver{}
	for i := range d.pool {
		d.pool[i].drv = d
	}
	return d
}

// BindHost satisfies host.HostBinder: NewHost calls this once, before any
// LLD is initialized, wiring the driver to the same *Host it was registered
// with.
func (d *Driver) BindHost(h *host.Host) {
	d.host = h
}

// audioClassCode and midiStreamingSubclassCode are USB Audio Device Class
// codes (bInterfaceClass 0x01, bInterfaceSubClass 0x03): USB-MIDI devices
// expose their bulk endpoints on a MIDIStreaming interface within the Audio
// interface class, not a class of their own.
const (
	audioClassCode            = 0x01
	midiStreamingSubclassCode = 0x03
)

// Info matches any interface advertising MIDIStreaming, independent of
// device class/vendor/product.
func (d *Driver) Info() host.DriverInfo {
	return host.DriverInfo{
		DeviceClass: -1, DeviceSubClass: -1, DeviceProtocol: -1,
		VendorID: -1, ProductID: -1,
		IfaceClass: audioClassCode, IfaceSubClass: midiStreamingSubclassCode, IfaceProtocol: -1,
	}
}

func (d *Driver) Init(slot *host.DeviceSlot) (any, bool) {
	for i := range d.pool {
		mi := &d.pool[i]
		if mi.inUse {
			continue
		}
		*mi = midiInstance{drv: d, inUse: true, slot: slot, state: stateInactive}
		pkg.LogInfo(pkg.ComponentMIDI, "midi bound", "address", slot.Address)
		return mi, true
	}
	pkg.LogWarn(pkg.ComponentMIDI, "midi pool exhausted")
	return nil, false
}

// AnalyzeDescriptor captures the configuration value and both bulk
// endpoints. It reports ready once the IN endpoint has been found: a
// MIDIStreaming interface with no OUT endpoint (IN-only, e.g. a controller
// with no LEDs to drive) is still usable for InMessageHandler delivery.
func (d *Driver) AnalyzeDescriptor(drvdata any, record []byte) bool {
	mi := drvdata.(*midiInstance)
	if len(record) < 2 {
		return false
	}

	switch record[1] {
	case host.DescriptorTypeConfiguration:
		var cfg host.ConfigurationDescriptor
		if host.ParseConfigurationDescriptor(record, &cfg) {
			mi.configurationValue = cfg.ConfigurationValue
		}

	case host.DescriptorTypeEndpoint:
		var ep host.EndpointDescriptor
		if host.ParseEndpointDescriptor(record, &ep) && ep.IsBulk() {
			if ep.IsIn() {
				mi.inEPAddress = ep.Number()
				mi.inEPMaxPacket = cappedBufferSize(ep.MaxPacketSize)
			} else {
				mi.outEPAddress = ep.Number()
				mi.outEPMaxPacket = cappedBufferSize(ep.MaxPacketSize)
			}
			if mi.inEPAddress != 0 {
				mi.state = stateSetConfigurationRequest
				return true
			}
		}
	}
	return false
}

func cappedBufferSize(n uint16) uint16 {
	if n > bufferSize {
		return bufferSize
	}
	return n
}

func (d *Driver) Poll(drvdata any, timeUs uint32) {
	mi := drvdata.(*midiInstance)
	_ = timeUs
	switch mi.state {
	case stateSetConfigurationRequest:
		mi.state = stateSetConfigurationEmptyRead
		setup := host.SetupPacket{
			RequestType: host.RequestTypeOut | host.RequestTypeStandard | host.RequestTypeDevice,
			Request:     host.RequestSetConfiguration,
			Value:       uint16(mi.configurationValue),
		}
		d.host.IssueControlSetup(mi.slot, &setup, mi.setupBuf[:], mi.onComplete, mi)

	case stateReadingRequest:
		mi.readEvents()
	}
}

func (d *Driver) Remove(drvdata any) {
	mi := drvdata.(*midiInstance)
	mi.inUse = false
	mi.state = stateInactive
	mi.inEPAddress = 0
	mi.outEPAddress = 0
	pkg.LogInfo(pkg.ComponentMIDI, "midi removed")
}

// Send queues a bulk OUT transfer of one or more 4-byte USB-MIDI event
// packets. data's length must be a multiple of 4; cb is invoked once the
// transfer completes. A no-op if the device has no OUT endpoint.
func (mi *midiInstance) Send(data []byte, cb hal.Callback, arg any) {
	if mi.outEPAddress == 0 {
		return
	}
	mi.drv.host.IssueBulkTransfer(mi.slot, mi.outEPAddress, mi.outEPMaxPacket, &mi.outToggle, data, false, cb, arg)
}

// deviceID is the instance's index within the pool, the value passed to
// InMessageHandler.
func (mi *midiInstance) deviceID() int {
	for i := range mi.drv.pool {
		if &mi.drv.pool[i] == mi {
			return i
		}
	}
	return -1
}

func (mi *midiInstance) readEvents() {
	mi.state = stateReadingComplete
	mi.drv.host.IssueBulkTransfer(mi.slot, mi.inEPAddress, mi.inEPMaxPacket, &mi.inToggle, mi.inBuf[:mi.inEPMaxPacket], true, mi.onComplete, mi)
}

func (mi *midiInstance) onComplete(arg any, c hal.Completion) {
	switch mi.state {
	case stateReadingComplete:
		switch c.Status {
		case pkg.StatusOK, pkg.StatusERRSIZ:
			mi.dispatch(c.TransferredLength)
			mi.state = stateReadingRequest
		default:
			pkg.LogWarn(pkg.ComponentMIDI, "event read failed", "status", c.Status)
			mi.state = stateInactive
		}

	case stateSetConfigurationEmptyRead:
		switch c.Status {
		case pkg.StatusOK:
			mi.state = stateSetConfigurationComplete
			mi.drv.host.IssueControlData(mi.slot, nil, true, mi.onComplete, mi)
		default:
			pkg.LogWarn(pkg.ComponentMIDI, "set configuration failed", "status", c.Status)
			mi.state = stateInactive
		}

	case stateSetConfigurationComplete:
		switch c.Status {
		case pkg.StatusOK:
			mi.inToggle = 0
			mi.outToggle = 0
			mi.state = stateReadingRequest
			pkg.LogInfo(pkg.ComponentMIDI, "midi configured", "address", mi.slot.Address)
		default:
			pkg.LogWarn(pkg.ComponentMIDI, "set configuration status stage failed", "status", c.Status)
			mi.state = stateInactive
		}
	}
}

// dispatch walks a completed IN transfer's buffer in 4-byte event chunks,
// handing each event's 3-byte MIDI payload to InMessageHandler.
func (mi *midiInstance) dispatch(transferredLength int) {
	if mi.drv.InMessageHandler == nil {
		return
	}
	n := transferredLength - transferredLength%eventSize
	for off := 0; off < n; off += eventSize {
		mi.drv.InMessageHandler(mi.deviceID(), mi.inBuf[off+1:off+eventSize])
	}
}
