package host

import "github.com/ardnew/softusb/pkg"

// registerDevice walks a device's full descriptor tree — the device
// descriptor followed by the configuration descriptor and everything nested
// under it — looking for an interface a registered driver will bind to.
//
// The walk assumes the first record is the device descriptor; its
// class/subclass/protocol/VID/PID seed the match info carried into every
// interface check. Each INTERFACE record updates the interface-level match
// fields and calls findDriver. As soon as a driver binds, the buffer is
// replayed from offset 0 to that driver's AnalyzeDescriptor, record by
// record, stopping the instant it reports enough has been seen. If no
// interface finds a driver the device is left unbound.
func (h *Host) registerDevice(slot *DeviceSlot, buf []byte) {
	slot.Driver = nil
	slot.DriverData = nil

	if len(buf) < 2 {
		pkg.LogError(pkg.ComponentEnum, "descriptor buffer too short to register device")
		return
	}
	if buf[1] != DescriptorTypeDevice {
		pkg.LogError(pkg.ComponentEnum, "descriptor buffer does not begin with a device descriptor")
		return
	}

	offset := 0
	for offset < len(buf) {
		length := int(buf[offset])
		if offset+1 >= len(buf) {
			pkg.LogError(pkg.ComponentEnum, "malformed descriptor: truncated record", "offset", offset)
			return
		}
		descType := buf[offset+1]

		if descType == DescriptorTypeInterface {
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(buf[offset:], &iface) {
				slot.info.ifaceClass = iface.InterfaceClass
				slot.info.ifaceSubClass = iface.InterfaceSubClass
				slot.info.ifaceProtocol = iface.InterfaceProtocol

				if h.findDriver(slot) {
					if h.analyzeAll(slot, buf) {
						pkg.LogInfo(pkg.ComponentEnum, "device initialized")
						return
					}
					pkg.LogWarn(pkg.ComponentEnum, "driver bound but never completed analysis")
				} else {
					pkg.LogDebug(pkg.ComponentEnum, "no compatible driver for interface", "interface", iface.InterfaceNumber)
				}
			}
		}

		if length == 0 {
			pkg.LogError(pkg.ComponentEnum, "malformed descriptor: zero length record", "offset", offset)
			return
		}
		offset += length
	}

	pkg.LogDebug(pkg.ComponentEnum, "device not initialized: no driver bound")
}

// analyzeAll replays every record in buf to slot's bound driver, stopping as
// soon as AnalyzeDescriptor reports it has seen enough.
func (h *Host) analyzeAll(slot *DeviceSlot, buf []byte) bool {
	offset := 0
	for offset < len(buf) {
		length := int(buf[offset])
		if slot.Driver.AnalyzeDescriptor(slot.DriverData, buf[offset:]) {
			return true
		}
		if length == 0 {
			pkg.LogError(pkg.ComponentEnum, "malformed descriptor during analysis", "offset", offset)
			return false
		}
		offset += length
	}
	return false
}
