// Package hid implements the generic HID class driver: one SET_CONFIGURATION
// request followed by a periodic interrupt IN report read. No report
// descriptor parsing; each raw report is handed to InMessageHandler as-is,
// since the byte layout is device-specific and left to the caller to decode.
package hid

import (
	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// MaxReportSize is the largest interrupt IN report this driver reads.
const MaxReportSize = 64

type state uint8

const (
	stateInactive state = iota

	stateSetConfigurationRequest
	stateSetConfigurationEmptyRead
	stateSetConfigurationComplete

	stateReadingRequest
	stateReadingComplete
)

// hidInstance is one occupied slot in Driver's fixed pool.
type hidInstance struct {
	drv  *Driver
	slot *host.DeviceSlot

	inUse bool

	configurationValue uint8
	inEPAddress        uint8
	inEPMaxPacket      uint16
	inToggle           uint8

	state state

	// ReportBuf receives each interrupt IN report. Once a read completes
	// with an OK or ERRSIZ status, the transferred bytes are passed to
	// InMessageHandler as a slice of this buffer; nothing outside this
	// package reads it directly.
	ReportBuf [MaxReportSize]byte

	setupBuf [8]byte
}

// Driver implements host.ClassDriver for plain HID devices over a fixed pool
// of host.MaxHidDevices concurrently-bound instances.
type Driver struct {
	host *host.Host
	pool [host.MaxHidDevices]hidInstance

	// InMessageHandler fires once per completed interrupt IN report, with
	// deviceID the instance's 0-based index into pool (not the USB
	// address). May be left nil.
	InMessageHandler func(deviceID int, data []byte)
}

// New constructs an unbound HID Driver. Pass it to host.NewHost, which calls
// BindHost on it before any device can be enumerated.
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

// ifaceClassHID is the USB-IF interface class code for HID (USB HID 1.11
// §4.1), not to be confused with host.DescriptorTypeHID, the class
// descriptor type code read out of the configuration descriptor.
const ifaceClassHID = 0x03

// Info matches any interface advertising the HID class, independent of
// device class/vendor/product: a composite device may expose HID on one
// interface and something else on another.
func (d *Driver) Info() host.DriverInfo {
	return host.DriverInfo{
		DeviceClass: -1, DeviceSubClass: -1, DeviceProtocol: -1,
		VendorID: -1, ProductID: -1,
		IfaceClass: ifaceClassHID, IfaceSubClass: -1, IfaceProtocol: -1,
	}
}

func (d *Driver) Init(slot *host.DeviceSlot) (any, bool) {
	for i := range d.pool {
		hi := &d.pool[i]
		if hi.inUse {
			continue
		}
		*hi = hidInstance{drv: d, inUse: true, slot: slot, state: stateInactive}
		pkg.LogInfo(pkg.ComponentHID, "hid bound", "address", slot.Address)
		return hi, true
	}
	pkg.LogWarn(pkg.ComponentHID, "hid pool exhausted")
	return nil, false
}

// AnalyzeDescriptor captures the configuration value and the interrupt IN
// endpoint. It reports ready once the endpoint has been found, matching the
// equivalent mouse driver's "interface class plus one IN endpoint is enough"
// criterion.
func (d *Driver) AnalyzeDescriptor(drvdata any, record []byte) bool {
	hi := drvdata.(*hidInstance)
	if len(record) < 2 {
		return false
	}

	switch record[1] {
	case host.DescriptorTypeConfiguration:
		var cfg host.ConfigurationDescriptor
		if host.ParseConfigurationDescriptor(record, &cfg) {
			hi.configurationValue = cfg.ConfigurationValue
		}

	case host.DescriptorTypeEndpoint:
		var ep host.EndpointDescriptor
		if host.ParseEndpointDescriptor(record, &ep) && ep.IsIn() && ep.IsInterrupt() {
			hi.inEPAddress = ep.Number()
			hi.inEPMaxPacket = ep.MaxPacketSize
			if hi.inEPMaxPacket > MaxReportSize {
				hi.inEPMaxPacket = MaxReportSize
			}
			if hi.inEPAddress != 0 {
				hi.state = stateSetConfigurationRequest
				return true
			}
		}
	}
	return false
}

func (d *Driver) Poll(drvdata any, timeUs uint32) {
	hi := drvdata.(*hidInstance)
	_ = timeUs
	switch hi.state {
	case stateSetConfigurationRequest:
		hi.state = stateSetConfigurationEmptyRead
		setup := host.SetupPacket{
			RequestType: host.RequestTypeOut | host.RequestTypeStandard | host.RequestTypeDevice,
			Request:     host.RequestSetConfiguration,
			Value:       uint16(hi.configurationValue),
		}
		d.host.IssueControlSetup(hi.slot, &setup, hi.setupBuf[:], hi.onComplete, hi)

	case stateReadingRequest:
		hi.readReport()

	default:
		// A transfer is in flight; nothing to start this tick.
	}
}

func (d *Driver) Remove(drvdata any) {
	hi := drvdata.(*hidInstance)
	hi.inUse = false
	hi.state = stateInactive
	hi.inEPAddress = 0
	pkg.LogInfo(pkg.ComponentHID, "hid removed")
}

// deviceID is the instance's index within the pool, the value passed to
// InMessageHandler.
func (hi *hidInstance) deviceID() int {
	for i := range hi.drv.pool {
		if &hi.drv.pool[i] == hi {
			return i
		}
	}
	return -1
}

func (hi *hidInstance) readReport() {
	hi.state = stateReadingComplete
	hi.drv.host.IssueInterruptRead(hi.slot, hi.inEPAddress, hi.inEPMaxPacket, &hi.inToggle, hi.ReportBuf[:hi.inEPMaxPacket], hi.onComplete, hi)
}

func (hi *hidInstance) onComplete(arg any, c hal.Completion) {
	switch hi.state {
	case stateReadingComplete:
		switch c.Status {
		case pkg.StatusOK, pkg.StatusERRSIZ:
			hi.state = stateReadingRequest
			n := c.TransferredLength
			if n > int(hi.inEPMaxPacket) {
				n = int(hi.inEPMaxPacket)
			}
			if n < 0 {
				n = 0
			}
			if hi.drv.InMessageHandler != nil {
				hi.drv.InMessageHandler(hi.deviceID(), hi.ReportBuf[:n])
			}
		default:
			pkg.LogWarn(pkg.ComponentHID, "report read failed", "status", c.Status)
			hi.state = stateInactive
		}

	case stateSetConfigurationEmptyRead:
		switch c.Status {
		case pkg.StatusOK:
			hi.state = stateSetConfigurationComplete
			hi.drv.host.IssueControlData(hi.slot, nil, true, hi.onComplete, hi)
		default:
			pkg.LogWarn(pkg.ComponentHID, "set configuration failed", "status", c.Status)
			hi.state = stateInactive
		}

	case stateSetConfigurationComplete:
		switch c.Status {
		case pkg.StatusOK:
			hi.inToggle = 0
			hi.state = stateReadingRequest
			pkg.LogInfo(pkg.ComponentHID, "hid configured", "address", hi.slot.Address)
		default:
			pkg.LogWarn(pkg.ComponentHID, "set configuration status stage failed", "status", c.Status)
			hi.state = stateInactive
		}
	}
}
