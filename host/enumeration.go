package host

import (
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// startEnumeration begins enumerating a device that just appeared at slot 0
// of the given LLD. The slot's existing Address (assigned by Poll before this
// call) is stashed in the enumeration context and the slot is dropped back to
// the Default address (0) for the duration of the sequence.
func (h *Host) startEnumeration(slot *DeviceSlot, lldIndex int) {
	h.enumCtx.run = true
	slot.state = enumStateSetAddressEmptyRead

	address := slot.Address
	slot.Address = 0

	if slot.Speed == hal.SpeedLow {
		slot.MaxPacketSize0 = 8
	} else {
		slot.MaxPacketSize0 = 64
	}

	h.enumCtx.addressTemporary = address

	pkg.LogInfo(pkg.ComponentEnum, "enumeration started", "address", address)

	var setup SetupPacket
	setup.RequestType = RequestTypeStandard | RequestTypeDevice
	setup.Request = RequestSetAddress
	setup.Value = uint16(address)
	h.controlWriteSetup(slot, &setup, lldIndex)
}

// handleEnumCompletion is the Callback bound to every Packet issued by the
// enumeration state machine.
func (h *Host) handleEnumCompletion(arg any, c hal.Completion) {
	slot := arg.(*DeviceSlot)
	slot.pending = false
	h.stepEnumeration(slot, slot.lldIndex, c.Status, c.TransferredLength)
}

// terminateEnumeration aborts the in-progress enumeration, freeing the slot's
// address back to "unassigned" so a later disconnect/reconnect can reuse it.
func (h *Host) terminateEnumeration(slot *DeviceSlot, status pkg.PacketStatus) {
	pkg.LogWarn(pkg.ComponentEnum, "enumeration terminated", "status", status)
	slot.Address = -1
	h.finishEnumeration(slot)
}

// finishEnumeration releases the global enumeration lock, successfully or not.
func (h *Host) finishEnumeration(slot *DeviceSlot) {
	h.enumCtx.run = false
	slot.state = enumStateIdle
}

// stepEnumeration advances the enumeration continuation for slot by one
// step. It is called both from packet completion callbacks (with the
// completion's actual status) and, for states that begin a new request
// without waiting on one, recursively from within itself — mirroring the
// CONTINUE_WITH pattern of the original state machine.
func (h *Host) stepEnumeration(slot *DeviceSlot, lldIndex int, status pkg.PacketStatus, transferredLength int) {
	table := h.tables[lldIndex]
	scratch := table.Scratch[:]

	switch slot.state {
	case enumStateSetAddressEmptyRead:
		switch status {
		case pkg.StatusOK:
			slot.state = enumStateSetAddressEmptyReadComplete
			h.controlRead(slot, nil, lldIndex)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateSetAddressEmptyReadComplete:
		switch status {
		case pkg.StatusOK:
			if slot.Address == 0 {
				slot.Address = h.enumCtx.addressTemporary
				pkg.LogInfo(pkg.ComponentEnum, "address assigned", "address", slot.Address)
			}
			slot.state = enumStateDeviceDTReadSetup
			h.stepEnumeration(slot, lldIndex, status, transferredLength)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateDeviceDTReadSetup:
		var setup SetupPacket
		setup.RequestType = RequestTypeIn | RequestTypeStandard | RequestTypeDevice
		setup.Request = RequestGetDescriptor
		setup.Value = uint16(DescriptorTypeDevice) << 8
		setup.Length = DeviceDescriptorSize
		slot.state = enumStateDeviceDTRead
		h.controlWriteSetup(slot, &setup, lldIndex)

	case enumStateDeviceDTRead:
		switch status {
		case pkg.StatusOK:
			slot.state = enumStateDeviceDTReadComplete
			h.controlRead(slot, scratch[:DeviceDescriptorSize], lldIndex)
		case pkg.StatusEAGAIN:
			slot.state = enumStateDeviceDTReadSetup
			h.stepEnumeration(slot, lldIndex, status, transferredLength)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateDeviceDTReadComplete:
		switch status {
		case pkg.StatusOK:
			var dd DeviceDescriptor
			ParseDeviceDescriptor(scratch, &dd)
			h.recordDeviceDescriptor(slot, &dd)
			slot.state = enumStateConfigurationDTHeaderReadSetup
			h.stepEnumeration(slot, lldIndex, status, transferredLength)

		case pkg.StatusERRSIZ:
			if transferredLength >= 8 {
				var dd DeviceDescriptor
				ParseDeviceDescriptor(scratch, &dd)
				slot.MaxPacketSize0 = uint16(dd.MaxPacketSize0)
				slot.state = enumStateDeviceDTReadSetup
				h.stepEnumeration(slot, lldIndex, status, transferredLength)
			} else {
				h.terminateEnumeration(slot, status)
			}

		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateConfigurationDTHeaderReadSetup:
		var setup SetupPacket
		setup.RequestType = RequestTypeIn | RequestTypeStandard | RequestTypeDevice
		setup.Request = RequestGetDescriptor
		setup.Value = uint16(DescriptorTypeConfiguration) << 8
		setup.Length = slot.MaxPacketSize0
		slot.state = enumStateConfigurationDTHeaderRead
		h.controlWriteSetup(slot, &setup, lldIndex)

	case enumStateConfigurationDTHeaderRead:
		switch status {
		case pkg.StatusOK:
			slot.state = enumStateConfigurationDTHeaderReadComplete
			h.controlRead(slot, scratch[DeviceDescriptorSize:DeviceDescriptorSize+int(slot.MaxPacketSize0)], lldIndex)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateConfigurationDTHeaderReadComplete:
		switch status {
		case pkg.StatusOK:
			slot.state = enumStateConfigurationDTReadSetup
			h.stepEnumeration(slot, lldIndex, status, transferredLength)

		case pkg.StatusERRSIZ:
			if transferredLength >= ConfigurationDescriptorSize {
				var cd ConfigurationDescriptor
				ParseConfigurationDescriptor(scratch[DeviceDescriptorSize:], &cd)
				if transferredLength == int(cd.TotalLength) {
					pkg.LogDebug(pkg.ComponentEnum, "configuration descriptor read complete", "length", cd.TotalLength)
					slot.state = enumStateFindDriver
					h.stepEnumeration(slot, lldIndex, status, transferredLength)
				}
			}

		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateConfigurationDTReadSetup:
		var cd ConfigurationDescriptor
		ParseConfigurationDescriptor(scratch[DeviceDescriptorSize:], &cd)
		var setup SetupPacket
		setup.RequestType = RequestTypeIn | RequestTypeStandard | RequestTypeDevice
		setup.Request = RequestGetDescriptor
		setup.Value = uint16(DescriptorTypeConfiguration) << 8
		setup.Length = cd.TotalLength
		slot.state = enumStateConfigurationDTRead
		h.controlWriteSetup(slot, &setup, lldIndex)

	case enumStateConfigurationDTRead:
		switch status {
		case pkg.StatusOK:
			var cd ConfigurationDescriptor
			ParseConfigurationDescriptor(scratch[DeviceDescriptorSize:], &cd)
			slot.state = enumStateConfigurationDTReadComplete
			end := DeviceDescriptorSize + int(cd.TotalLength)
			if end > len(scratch) {
				end = len(scratch)
			}
			h.controlRead(slot, scratch[DeviceDescriptorSize:end], lldIndex)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateConfigurationDTReadComplete:
		switch status {
		case pkg.StatusOK:
			var cd ConfigurationDescriptor
			ParseConfigurationDescriptor(scratch[DeviceDescriptorSize:], &cd)
			pkg.LogDebug(pkg.ComponentEnum, "configuration descriptor read complete", "length", cd.TotalLength)
			slot.state = enumStateFindDriver
			h.stepEnumeration(slot, lldIndex, status, transferredLength)
		default:
			h.terminateEnumeration(slot, status)
		}

	case enumStateFindDriver:
		var cd ConfigurationDescriptor
		ParseConfigurationDescriptor(scratch[DeviceDescriptorSize:], &cd)
		total := DeviceDescriptorSize + int(cd.TotalLength)
		if total > len(scratch) {
			total = len(scratch)
		}
		h.registerDevice(slot, scratch[:total])
		h.finishEnumeration(slot)
	}
}

// recordDeviceDescriptor copies the match-relevant fields of dd into the
// slot's accumulated driver info and updates MaxPacketSize0.
func (h *Host) recordDeviceDescriptor(slot *DeviceSlot, dd *DeviceDescriptor) {
	slot.MaxPacketSize0 = uint16(dd.MaxPacketSize0)
	slot.info.deviceClass = dd.DeviceClass
	slot.info.deviceSubClass = dd.DeviceSubClass
	slot.info.deviceProtocol = dd.DeviceProtocol
	slot.info.vendorID = dd.VendorID
	slot.info.productID = dd.ProductID
	pkg.LogInfo(pkg.ComponentEnum, "device descriptor read",
		"vendorID", dd.VendorID, "productID", dd.ProductID,
		"class", dd.DeviceClass, "subClass", dd.DeviceSubClass, "protocol", dd.DeviceProtocol)
}

// controlWriteSetup issues the 8-byte SETUP stage of a control transfer on
// endpoint 0 of slot, using the slot's own scratch setup buffer.
func (h *Host) controlWriteSetup(slot *DeviceSlot, setup *SetupPacket, lldIndex int) {
	setup.MarshalTo(slot.setupBuf[:])
	slot.packet = hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: 0,
		EndpointType:    hal.EndpointTypeControl,
		EndpointSizeMax: slot.MaxPacketSize0,
		ControlStage:    hal.ControlStageSetup,
		Speed:           slot.Speed,
		Data:            slot.setupBuf[:],
		Toggle:          &slot.Toggle0,
		Callback:        h.enumCallback,
		CallbackArg:     slot,
	}
	slot.pending = true
	h.llds[lldIndex].Write(&slot.packet)
}

// controlRead issues the DATA (or zero-length status) stage of a control
// transfer, reading into data.
func (h *Host) controlRead(slot *DeviceSlot, data []byte, lldIndex int) {
	slot.packet = hal.Packet{
		Address:         uint8(slot.Address),
		EndpointAddress: 0,
		EndpointType:    hal.EndpointTypeControl,
		EndpointSizeMax: slot.MaxPacketSize0,
		ControlStage:    hal.ControlStageData,
		Speed:           slot.Speed,
		Data:            data,
		Toggle:          &slot.Toggle0,
		Callback:        h.enumCallback,
		CallbackArg:     slot,
	}
	slot.pending = true
	h.llds[lldIndex].Read(&slot.packet)
}
