// Package hub implements the USB hub class driver: port power-up, status
// polling over an interrupt IN endpoint, reset sequencing with the
// mandated post-reset debounce, and handoff of a freshly reset downstream
// port to the host core's enumeration state machine.
//
// A hub occupies one of a small fixed pool of hubInstance records (at most
// host.MaxHubs concurrently, across every LLD); AnalyzeDescriptor captures
// the hub's class descriptor and interrupt IN endpoint, then Poll drives
// the state machine in hub.go. State names carry their nearest anchor in
// the distilled specification's numbered state machine (1, 3-5, 6, 7-9,
// 25, 26, 31-33, 35, 100) in a trailing comment; states with no named
// anchor are private bookkeeping the distilled spec folds into a single
// numbered step.
package hub

import (
	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

type state uint8

const (
	stateBound state = iota // 1: driver just bound, decide whether the HUB descriptor is already known

	stateHubDescriptorSetup    // 3
	stateHubDescriptorRead     // 4
	stateHubDescriptorComplete // 5

	stateIdle // 6

	statePortPowerSetup     // 7
	statePortPowerEmptyRead // 8
	statePortPowerNext      // 9

	stateInterruptReadRequest  // 25
	stateInterruptReadComplete // 26

	statePortStatusSetup    // 31
	statePortStatusComplete // 32
	stateEmptyPacketRead    // 33, generic EMPTY_PACKET_READ continuation

	stateClearChangeEmptyRead // status stage of whichever CLEAR_FEATURE case 32 issued
	stateConnectionChanged    // act on a cleared C_PORT_CONNECTION using the status already read

	statePostResetStatusSetup    // 35: issue the post-reset GET_STATUS
	statePostResetStatusRead     // issue the post-reset GET_STATUS's data stage
	statePostResetStatusComplete // inspect the post-reset GET_STATUS result

	stateDebounce // 100
)

// hubInstance is one occupied slot in Driver's fixed pool.
type hubInstance struct {
	drv  *Driver
	slot *host.DeviceSlot

	inUse bool

	children [host.HubMaxPorts + 1]*host.DeviceSlot // 1-based; index 0 unused

	portsNum      int
	inEPAddress   uint8
	inEPMaxPacket uint16
	inToggle      uint8

	state               state
	stateAfterEmptyRead state
	currentPort         int
	busy                bool
	timestampUs         uint32
	nextPowerPort       int

	savedPortStatus uint16
	savedPortChange uint16

	changeBitmap [scratchSize]byte
	scratch      [scratchSize]byte
	setupBuf     [8]byte
}

// Driver implements host.ClassDriver for the hub class over a fixed pool of
// host.MaxHubs concurrently-bound hubs.
type Driver struct {
	host *host.Host
	pool [host.MaxHubs]hubInstance
}

// New constructs an unbound hub Driver. Pass it to host.NewHost, which calls
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

// Info matches any device whose device class is the USB hub class; every
// other field is a wildcard.
func (d *Driver) Info() host.DriverInfo {
	return host.DriverInfo{
		DeviceClass: deviceClassHub, DeviceSubClass: -1, DeviceProtocol: -1,
		VendorID: -1, ProductID: -1,
		IfaceClass: -1, IfaceSubClass: -1, IfaceProtocol: -1,
	}
}

// Init claims a free hubInstance from the pool, or declines if every
// host.MaxHubs slot is already occupied.
func (d *Driver) Init(slot *host.DeviceSlot) (any, bool) {
	for i := range d.pool {
		hi := &d.pool[i]
		if hi.inUse {
			continue
		}
		*hi = hubInstance{drv: d, inUse: true, slot: slot, state: stateBound}
		pkg.LogInfo(pkg.ComponentHub, "hub bound", "address", slot.Address)
		return hi, true
	}
	pkg.LogWarn(pkg.ComponentHub, "hub pool exhausted")
	return nil, false
}

// AnalyzeDescriptor extracts the interrupt IN endpoint and, if present in
// the descriptor tree, the class-specific HUB descriptor's bNbrPorts. It
// reports ready as soon as the IN endpoint has been found; if no HUB
// descriptor appeared during the walk, state 3 fetches it live.
func (d *Driver) AnalyzeDescriptor(drvdata any, record []byte) bool {
	hi := drvdata.(*hubInstance)
	if len(record) < 2 {
		return false
	}

	switch record[1] {
	case host.DescriptorTypeEndpoint:
		var ep host.EndpointDescriptor
		if host.ParseEndpointDescriptor(record, &ep) && ep.IsIn() && ep.IsInterrupt() {
			hi.inEPAddress = ep.Number()
			hi.inEPMaxPacket = ep.MaxPacketSize
			return true
		}

	case host.DescriptorTypeHub:
		if len(record) > hubDescriptorMinLength {
			hi.portsNum = cappedPorts(int(record[2]))
		}
	}
	return false
}

// Poll advances hi's state machine for the states that wait on a tick
// (bound, idle, an interrupt read to retry, debounce); every other state is
// waiting on a packet completion, which re-enters step itself. Once idle and
// not mid-enumeration, it then polls every bound child — the only way
// devices behind a hub receive their own tick.
func (d *Driver) Poll(drvdata any, timeUs uint32) {
	hi := drvdata.(*hubInstance)
	switch hi.state {
	case stateDebounce:
		if hi.timestampUs == 0 {
			// Completions carry no time, so the debounce window starts at
			// the first tick after the post-reset status arrived.
			hi.timestampUs = timeUs
		}
		d.step(hi, timeUs, pkg.StatusOK, 0)
	case stateBound, stateIdle, stateInterruptReadRequest:
		d.step(hi, timeUs, pkg.StatusOK, 0)
	}

	if hi.state == stateIdle && !hi.busy {
		for _, child := range hi.children {
			if child != nil && child.Driver != nil && child.DriverData != nil {
				child.Driver.Poll(child.DriverData, timeUs)
			}
		}
	}
}

// Remove recursively tears down every bound child before freeing hi back to
// the pool, since a hub behind a hub must unwind depth-first. Guarded
// against double invocation by inUse, since both a root disconnect and a
// parent hub's own Remove can reach the same child in one tick.
func (d *Driver) Remove(drvdata any) {
	hi := drvdata.(*hubInstance)
	if !hi.inUse {
		return
	}
	for i, child := range hi.children {
		if child == nil {
			continue
		}
		d.host.RemoveDevice(child)
		hi.children[i] = nil
	}
	hi.inUse = false
	pkg.LogInfo(pkg.ComponentHub, "hub removed")
}

func cappedPorts(n int) int {
	if n > host.HubMaxPorts {
		return host.HubMaxPorts
	}
	return n
}

func (hi *hubInstance) onComplete(arg any, c hal.Completion) {
	hi.drv.step(hi, 0, c.Status, c.TransferredLength)
}

func (hi *hubInstance) controlSetup(requestType, request uint8, value, index, length uint16, next state) {
	hi.state = next
	setup := host.SetupPacket{RequestType: requestType, Request: request, Value: value, Index: index, Length: length}
	hi.drv.host.IssueControlSetup(hi.slot, &setup, hi.setupBuf[:], hi.onComplete, hi)
}

func (hi *hubInstance) controlRead(data []byte, next state) {
	hi.state = next
	hi.drv.host.IssueControlData(hi.slot, data, true, hi.onComplete, hi)
}

// emptyRead issues the zero-length IN status stage that follows a SETUP
// with no data stage, resuming at after once it completes — the
// EMPTY_PACKET_READ pattern shared by every no-data-stage hub request.
func (hi *hubInstance) emptyRead(after state) {
	hi.stateAfterEmptyRead = after
	hi.state = stateEmptyPacketRead
	hi.drv.host.IssueControlData(hi.slot, nil, true, hi.onComplete, hi)
}

// step is the state machine's single continuation: re-entered from packet
// completions (with the real status), from Poll for the states that wait on
// a tick, and, for states that begin a new request without waiting on one,
// recursively from within itself.
func (d *Driver) step(hi *hubInstance, timeUs uint32, status pkg.PacketStatus, transferredLength int) {
	switch hi.state {
	case stateBound:
		if hi.portsNum > 0 {
			hi.state = stateHubDescriptorComplete
			d.step(hi, timeUs, status, transferredLength)
			return
		}
		hi.controlSetup(requestTypeDeviceIn, host.RequestGetDescriptor, host.DescriptorTypeHub<<8, 0, scratchSize, stateHubDescriptorSetup)

	case stateHubDescriptorSetup:
		hi.controlRead(hi.scratch[:], stateHubDescriptorRead)

	case stateHubDescriptorRead:
		if status != pkg.StatusOK && status != pkg.StatusERRSIZ {
			pkg.LogWarn(pkg.ComponentHub, "hub descriptor read failed", "status", status)
			hi.state = stateIdle
			return
		}
		if transferredLength <= hubDescriptorMinLength {
			pkg.LogWarn(pkg.ComponentHub, "hub descriptor too short", "length", transferredLength)
			hi.state = stateIdle
			return
		}
		hi.portsNum = cappedPorts(int(hi.scratch[2]))
		hi.state = stateHubDescriptorComplete
		d.step(hi, timeUs, status, transferredLength)

	case stateHubDescriptorComplete:
		hi.nextPowerPort = 1
		hi.state = statePortPowerSetup
		d.step(hi, timeUs, status, transferredLength)

	// Power up every port once, in sequence, before entering the idle
	// status-polling loop.
	case statePortPowerSetup:
		if hi.nextPowerPort > hi.portsNum {
			hi.state = stateIdle
			d.step(hi, timeUs, status, transferredLength)
			return
		}
		hi.controlSetup(requestTypeOtherOut, host.RequestSetFeature, featurePortPower, uint16(hi.nextPowerPort), 0, statePortPowerEmptyRead)

	case statePortPowerEmptyRead:
		hi.emptyRead(statePortPowerNext)

	case statePortPowerNext:
		hi.nextPowerPort++
		hi.state = statePortPowerSetup
		d.step(hi, timeUs, status, transferredLength)

	case stateIdle:
		if hi.busy || !d.host.EnumAvailable() {
			return
		}
		hi.state = stateInterruptReadRequest
		d.step(hi, timeUs, status, transferredLength)

	case stateInterruptReadRequest:
		hi.state = stateInterruptReadComplete
		d.host.IssueInterruptRead(hi.slot, hi.inEPAddress, hi.inEPMaxPacket, &hi.inToggle, hi.changeBitmap[:], hi.onComplete, hi)

	case stateInterruptReadComplete:
		switch status {
		case pkg.StatusOK:
			bit := lowestSetBit(hi.changeBitmap[:], hi.portsNum+1)
			if bit < 0 {
				hi.state = stateIdle
				return
			}
			hi.currentPort = bit
			reqType := uint8(requestTypeOtherIn)
			if bit == 0 {
				reqType = requestTypeDeviceIn
			}
			hi.controlSetup(reqType, host.RequestGetStatus, 0, uint16(bit), 4, statePortStatusSetup)
		case pkg.StatusEAGAIN:
			hi.state = stateInterruptReadRequest // retry next tick
		default:
			hi.state = stateIdle
		}

	case statePortStatusSetup:
		hi.controlRead(hi.scratch[:4], statePortStatusComplete)

	case statePortStatusComplete:
		if status != pkg.StatusOK {
			hi.state = stateIdle
			return
		}
		hi.savedPortStatus = uint16(hi.scratch[0]) | uint16(hi.scratch[1])<<8
		hi.savedPortChange = uint16(hi.scratch[2]) | uint16(hi.scratch[3])<<8

		switch {
		case hi.savedPortChange&portChangeReset != 0:
			hi.controlSetup(requestTypeOtherOut, host.RequestClearFeature, featureCPortReset, uint16(hi.currentPort), 0, stateClearChangeEmptyRead)
			hi.stateAfterEmptyRead = statePostResetStatusSetup

		case hi.savedPortChange&portChangeConnection != 0:
			hi.controlSetup(requestTypeOtherOut, host.RequestClearFeature, featureCPortConnection, uint16(hi.currentPort), 0, stateClearChangeEmptyRead)
			hi.stateAfterEmptyRead = stateConnectionChanged

		default:
			hi.state = stateIdle
		}

	case stateClearChangeEmptyRead:
		hi.emptyRead(hi.stateAfterEmptyRead)

	case stateConnectionChanged:
		if hi.savedPortStatus&portStatusConnection == 0 {
			if child := hi.children[hi.currentPort]; child != nil {
				d.host.RemoveDevice(child)
				hi.children[hi.currentPort] = nil
			}
			hi.state = stateIdle
			return
		}
		// A device just connected: start the reset sequence. Its arrival
		// at the Default state is announced later via a C_PORT_RESET
		// change on a future interrupt-IN read, not here.
		hi.controlSetup(requestTypeOtherOut, host.RequestSetFeature, featurePortReset, uint16(hi.currentPort), 0, stateClearChangeEmptyRead)
		hi.stateAfterEmptyRead = stateIdle

	case statePostResetStatusSetup:
		hi.controlSetup(requestTypeOtherIn, host.RequestGetStatus, 0, uint16(hi.currentPort), 4, statePostResetStatusRead)

	case statePostResetStatusRead:
		hi.controlRead(hi.scratch[:4], statePostResetStatusComplete)

	case statePostResetStatusComplete:
		if status != pkg.StatusOK {
			hi.state = stateIdle
			return
		}
		portStat := uint16(hi.scratch[0]) | uint16(hi.scratch[1])<<8

		if portStat&portStatusEnable == 0 {
			hi.state = stateIdle
			return
		}
		if portStat&portStatusLowSpeed != 0 {
			// Low-speed devices behind a hub are not supported.
			hi.controlSetup(requestTypeOtherOut, host.RequestClearFeature, featurePortEnable, uint16(hi.currentPort), 0, stateClearChangeEmptyRead)
			hi.stateAfterEmptyRead = stateIdle
			return
		}

		child := d.host.FreeDevice(hi.slot)
		if child == nil {
			pkg.LogWarn(pkg.ComponentHub, "device table full, dropping downstream device")
			hi.state = stateIdle
			return
		}
		child.Speed = hal.SpeedHigh
		if portStat&portStatusHighSpeed == 0 {
			child.Speed = hal.SpeedFull
		}
		hi.children[hi.currentPort] = child
		hi.busy = true
		hi.timestampUs = 0 // stamped by the next Poll tick
		hi.state = stateDebounce

	case stateDebounce:
		if timeUs-hi.timestampUs < postResetDebounceUs {
			return
		}
		child := hi.children[hi.currentPort]
		if child == nil || !d.host.EnumAvailable() {
			return
		}
		d.host.StartEnumeration(child)
		hi.busy = false
		hi.state = stateIdle

	case stateEmptyPacketRead:
		hi.state = hi.stateAfterEmptyRead
		d.step(hi, timeUs, status, transferredLength)
	}
}

func lowestSetBit(buf []byte, bits int) int {
	for i := 0; i < bits; i++ {
		if buf[i/8]&(1<<(i%8)) != 0 {
			return i
		}
	}
	return -1
}
