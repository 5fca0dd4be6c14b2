// Package xbox implements the XBOX 360 wired gamepad class driver: the same
// SET_CONFIGURATION-then-interrupt-read template as drivers/hid, specialized
// to decode the 20-byte report into named buttons and axes.
package xbox

import (
	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// Button is a bitmask of XBOX 360 gamepad buttons, decoded from report bytes
// 2-3.
type Button uint32

const (
	ButtonDPadTop Button = 1 << iota
	ButtonDPadLeft
	// ButtonDPadBottom is set from report byte 2 bit 1, not bit 2: the wire
	// decode walks the D-pad bits in top/bottom/left/right order while this
	// mask's position follows USB 2.0 bit numbering convention. Kept as the
	// source driver had it rather than reordered to match.
	ButtonDPadBottom
	ButtonDPadRight
	ButtonX
	ButtonY
	ButtonA
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonLT
	ButtonRT
	ButtonXbox
	ButtonAxisLeft
	ButtonAxisRight
)

// Report is a decoded XBOX 360 gamepad input report.
type Report struct {
	Buttons       Button
	AxisLeftX     int16
	AxisLeftY     int16
	AxisRightX    int16
	AxisRightY    int16
	AxisRearLeft  uint8
	AxisRearRight uint8
}

// reportLength is the expected transferred length of a correctly-sized
// report; a short transfer of exactly this length is still decoded.
const reportLength = 20

type state uint8

const (
	stateInactive state = iota

	stateSetConfigurationRequest
	stateSetConfigurationEmptyRead
	stateSetConfigurationComplete

	stateReadingRequest
	stateReadingComplete
)

type xboxInstance struct {
	drv  *Driver
	slot *host.DeviceSlot

	inUse bool

	configurationValue uint8
	inEPAddress        uint8
	inEPMaxPacket      uint16
	inToggle           uint8

	state state

	buffer [reportLength]byte
	Report Report

	setupBuf [8]byte
}

// Driver implements host.ClassDriver for XBOX 360 wired gamepads over a
// fixed pool of host.MaxXboxDevices concurrently-bound instances.
type Driver struct {
	host *host.Host
	pool [host.MaxXboxDevices]xboxInstance

	// OnUpdate, OnConnected, and OnDisconnected mirror the original
	// driver's config-struct callbacks: OnUpdate fires on every decoded
	// report, the other two on SET_CONFIGURATION completing and on Remove.
	// Any may be left nil.
	OnUpdate       func(deviceID int, r Report)
	OnConnected    func(deviceID int)
	OnDisconnected func(deviceID int)
}

// New constructs an unbound XBOX Driver. Pass it to host.NewHost, which
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

// Info matches the Microsoft XBOX 360 wired controller's vendor/product IDs;
// its device and interface class codes are vendor-specific (0xff) rather
// than the standard HID class.
func (d *Driver) Info() host.DriverInfo {
	return host.DriverInfo{
		DeviceClass: 0xff, DeviceSubClass: 0xff, DeviceProtocol: 0xff,
		VendorID: 0x045e, ProductID: 0x028e,
		IfaceClass: 0xff, IfaceSubClass: 93, IfaceProtocol: 0x01,
	}
}

func (d *Driver) Init(slot *host.DeviceSlot) (any, bool) {
	for i := range d.pool {
		xi := &d.pool[i]
		if xi.inUse {
			continue
		}
		*xi = xboxInstance{drv: d, inUse: true, slot: slot, state: stateInactive}
		pkg.LogInfo(pkg.ComponentXbox, "xbox bound", "address", slot.Address)
		return xi, true
	}
	pkg.LogWarn(pkg.ComponentXbox, "xbox pool exhausted")
	return nil, false
}

func (d *Driver) AnalyzeDescriptor(drvdata any, record []byte) bool {
	xi := drvdata.(*xboxInstance)
	if len(record) < 2 {
		return false
	}

	switch record[1] {
	case host.DescriptorTypeConfiguration:
		var cfg host.ConfigurationDescriptor
		if host.ParseConfigurationDescriptor(record, &cfg) {
			xi.configurationValue = cfg.ConfigurationValue
		}

	case host.DescriptorTypeEndpoint:
		var ep host.EndpointDescriptor
		if host.ParseEndpointDescriptor(record, &ep) && ep.IsIn() && ep.IsInterrupt() {
			xi.inEPAddress = ep.Number()
			xi.inEPMaxPacket = ep.MaxPacketSize
			if xi.inEPMaxPacket > reportLength {
				xi.inEPMaxPacket = reportLength
			}
			if xi.inEPAddress != 0 {
				xi.state = stateSetConfigurationRequest
				return true
			}
		}
	}
	return false
}

func (d *Driver) Poll(drvdata any, timeUs uint32) {
	xi := drvdata.(*xboxInstance)
	_ = timeUs
	switch xi.state {
	case stateSetConfigurationRequest:
		xi.state = stateSetConfigurationEmptyRead
		setup := host.SetupPacket{
			RequestType: host.RequestTypeOut | host.RequestTypeStandard | host.RequestTypeDevice,
			Request:     host.RequestSetConfiguration,
			Value:       uint16(xi.configurationValue),
		}
		d.host.IssueControlSetup(xi.slot, &setup, xi.setupBuf[:], xi.onComplete, xi)

	case stateReadingRequest:
		xi.readReport()
	}
}

func (d *Driver) Remove(drvdata any) {
	xi := drvdata.(*xboxInstance)
	if d.OnDisconnected != nil {
		d.OnDisconnected(xi.deviceID())
	}
	xi.inUse = false
	xi.state = stateInactive
	xi.inEPAddress = 0
	pkg.LogInfo(pkg.ComponentXbox, "xbox removed")
}

// deviceID is the instance's index within the pool, matching the original
// driver's device_id used to address per-device callbacks.
func (xi *xboxInstance) deviceID() int {
	for i := range xi.drv.pool {
		if &xi.drv.pool[i] == xi {
			return i
		}
	}
	return -1
}

func (xi *xboxInstance) readReport() {
	xi.state = stateReadingComplete
	xi.drv.host.IssueInterruptRead(xi.slot, xi.inEPAddress, xi.inEPMaxPacket, &xi.inToggle, xi.buffer[:xi.inEPMaxPacket], xi.onComplete, xi)
}

func (xi *xboxInstance) onComplete(arg any, c hal.Completion) {
	switch xi.state {
	case stateReadingComplete:
		switch c.Status {
		case pkg.StatusOK:
			xi.decode()
			xi.state = stateReadingRequest
		case pkg.StatusERRSIZ:
			if c.TransferredLength == reportLength {
				xi.decode()
			}
			xi.state = stateReadingRequest
		default:
			pkg.LogWarn(pkg.ComponentXbox, "report read failed", "status", c.Status)
			xi.state = stateInactive
		}

	case stateSetConfigurationEmptyRead:
		switch c.Status {
		case pkg.StatusOK:
			xi.state = stateSetConfigurationComplete
			xi.drv.host.IssueControlData(xi.slot, nil, true, xi.onComplete, xi)
		default:
			pkg.LogWarn(pkg.ComponentXbox, "set configuration failed", "status", c.Status)
			xi.state = stateInactive
		}

	case stateSetConfigurationComplete:
		switch c.Status {
		case pkg.StatusOK:
			xi.inToggle = 0
			xi.state = stateReadingRequest
			pkg.LogInfo(pkg.ComponentXbox, "xbox configured", "address", xi.slot.Address)
			if xi.drv.OnConnected != nil {
				xi.drv.OnConnected(xi.deviceID())
			}
		default:
			pkg.LogWarn(pkg.ComponentXbox, "set configuration status stage failed", "status", c.Status)
			xi.state = stateInactive
		}
	}
}

// decode unpacks xi.buffer into xi.Report and invokes OnUpdate. The bit
// layout follows the original driver exactly: buttons in bytes 2-3, rear
// trigger axes in bytes 4-5, stick axes as little-endian int16 pairs in
// bytes 6-13.
func (xi *xboxInstance) decode() {
	data1, data2 := xi.buffer[2], xi.buffer[3]

	var b Button
	if data1&(1<<0) != 0 {
		b |= ButtonDPadTop
	}
	if data1&(1<<1) != 0 {
		b |= ButtonDPadBottom
	}
	if data1&(1<<2) != 0 {
		b |= ButtonDPadLeft
	}
	if data1&(1<<3) != 0 {
		b |= ButtonDPadRight
	}
	if data1&(1<<4) != 0 {
		b |= ButtonStart
	}
	if data1&(1<<5) != 0 {
		b |= ButtonSelect
	}
	if data1&(1<<6) != 0 {
		b |= ButtonAxisLeft
	}
	if data1&(1<<7) != 0 {
		b |= ButtonAxisRight
	}
	if data2&(1<<4) != 0 {
		b |= ButtonA
	}
	if data2&(1<<5) != 0 {
		b |= ButtonB
	}
	if data2&(1<<6) != 0 {
		b |= ButtonX
	}
	if data2&(1<<7) != 0 {
		b |= ButtonY
	}
	if data2&(1<<0) != 0 {
		b |= ButtonLT
	}
	if data2&(1<<1) != 0 {
		b |= ButtonRT
	}
	if data2&(1<<2) != 0 {
		b |= ButtonXbox
	}

	xi.Report = Report{
		Buttons:       b,
		AxisRearLeft:  xi.buffer[4],
		AxisRearRight: xi.buffer[5],
		AxisLeftX:     int16(uint16(xi.buffer[6]) | uint16(xi.buffer[7])<<8),
		AxisLeftY:     int16(uint16(xi.buffer[8]) | uint16(xi.buffer[9])<<8),
		AxisRightX:    int16(uint16(xi.buffer[10]) | uint16(xi.buffer[11])<<8),
		AxisRightY:    int16(uint16(xi.buffer[12]) | uint16(xi.buffer[13])<<8),
	}

	if xi.drv.OnUpdate != nil {
		xi.drv.OnUpdate(xi.deviceID(), xi.Report)
	}
}
