package host

import "github.com/ardnew/softusb/host/hal"

// api.go is the surface drivers/hub, drivers/hid, drivers/xbox, and
// drivers/midi use to reach back into the core: issuing transfers on a
// bound device, allocating a child slot, handing a freshly reset port off
// to enumeration, and tearing a slot down. A ClassDriver only ever sees a
// *DeviceSlot from Init; it reaches the *Host that owns it through the
// reference NewHost installs via HostBinder.BindHost.

// LLDIndex reports which LLD's device table owns slot. None of the drivers
// in this repository call it; they keep the *DeviceSlot itself.
func (s *DeviceSlot) LLDIndex() int {
	return s.lldIndex
}

// IssueControlSetup issues the 8-byte SETUP stage of a control transfer on
// slot's endpoint 0. Completion invokes cb exactly once from a later Poll.
func (h *Host) IssueControlSetup(slot *DeviceSlot, setup *SetupPacket, buf []byte, cb hal.Callback, arg any) {
	setup.MarshalTo(buf)
	h.llds[slot.lldIndex].Write(&hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: 0,
		EndpointType:    hal.EndpointTypeControl,
		EndpointSizeMax: slot.MaxPacketSize0,
		ControlStage:    hal.ControlStageSetup,
		Speed:           slot.Speed,
		Data:            buf[:SetupPacketSize],
		Toggle:          &slot.Toggle0,
		Callback:        cb,
		CallbackArg:     arg,
	})
}

// IssueControlData issues the DATA (or zero-length status) stage of a
// control transfer on slot's endpoint 0. in selects direction; data is the
// transfer buffer (possibly empty, for a status-only stage).
func (h *Host) IssueControlData(slot *DeviceSlot, data []byte, in bool, cb hal.Callback, arg any) {
	p := &hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: 0,
		EndpointType:    hal.EndpointTypeControl,
		EndpointSizeMax: slot.MaxPacketSize0,
		ControlStage:    hal.ControlStageData,
		Speed:           slot.Speed,
		Data:            data,
		Toggle:          &slot.Toggle0,
		Callback:        cb,
		CallbackArg:     arg,
	}
	if in {
		h.llds[slot.lldIndex].Read(p)
	} else {
		h.llds[slot.lldIndex].Write(p)
	}
}

// IssueInterruptRead queues an interrupt IN transfer on slot's endpoint ep,
// tracking toggle across calls. Used by the hub driver's status-change poll
// and by the HID/XBOX class-driver template's periodic report read.
func (h *Host) IssueInterruptRead(slot *DeviceSlot, ep uint8, maxPacket uint16, toggle *uint8, data []byte, cb hal.Callback, arg any) {
	h.llds[slot.lldIndex].Read(&hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: ep,
		EndpointType:    hal.EndpointTypeInterrupt,
		EndpointSizeMax: maxPacket,
		Speed:           slot.Speed,
		Data:            data,
		Toggle:          toggle,
		Callback:        cb,
		CallbackArg:     arg,
	})
}

// IssueBulkTransfer queues a bulk transfer on slot's endpoint ep. Used by
// the MIDI class driver, which moves USB-MIDI event packets over bulk
// endpoints rather than interrupt ones.
func (h *Host) IssueBulkTransfer(slot *DeviceSlot, ep uint8, maxPacket uint16, toggle *uint8, data []byte, in bool, cb hal.Callback, arg any) {
	p := &hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: ep,
		EndpointType:    hal.EndpointTypeBulk,
		EndpointSizeMax: maxPacket,
		Speed:           slot.Speed,
		Data:            data,
		Toggle:          toggle,
		Callback:        cb,
		CallbackArg:     arg,
	}
	if in {
		h.llds[slot.lldIndex].Read(p)
	} else {
		h.llds[slot.lldIndex].Write(p)
	}
}

// FreeDevice allocates a free device-table slot on the same LLD as parent,
// for the hub driver to hand a newly detected downstream device. Returns
// nil if the table is full.
func (h *Host) FreeDevice(parent *DeviceSlot) *DeviceSlot {
	return h.freeDevice(parent)
}

// StartEnumeration hands slot (its Address field already holding the
// provisional address FreeDevice assigned, and Speed already set) to the
// same enumeration state machine Host.Poll uses for a root-port connect.
// EnumAvailable must be true before calling this; callers that serialize on
// the hub's own busy flag still need to check it, since the lock is
// bus-wide, not per-hub.
func (h *Host) StartEnumeration(slot *DeviceSlot) {
	h.startEnumeration(slot, slot.lldIndex)
}

// RemoveDevice tears slot's bound driver down (if any) and frees the slot,
// mirroring the root-disconnect handling in Host.Poll. Used by the hub
// driver for recursive child teardown when a port or the hub itself goes
// away.
func (h *Host) RemoveDevice(slot *DeviceSlot) {
	if slot.Driver != nil && slot.DriverData != nil {
		slot.Driver.Remove(slot.DriverData)
	}
	slot.Driver = nil
	slot.DriverData = nil
	slot.Address = -1
}
