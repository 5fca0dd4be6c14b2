package host

import "github.com/ardnew/softusb/pkg"

// matches reports whether info satisfies every non-wildcard field of d. A
// field value of -1 in d means "don't care".
func (d DriverInfo) matches(info deviceInfo) bool {
	if d.IfaceClass != -1 && d.IfaceClass != int32(info.ifaceClass) {
		return false
	}
	if d.IfaceSubClass != -1 && d.IfaceSubClass != int32(info.ifaceSubClass) {
		return false
	}
	if d.IfaceProtocol != -1 && d.IfaceProtocol != int32(info.ifaceProtocol) {
		return false
	}
	if d.DeviceClass != -1 && d.DeviceClass != int32(info.deviceClass) {
		return false
	}
	if d.DeviceSubClass != -1 && d.DeviceSubClass != int32(info.deviceSubClass) {
		return false
	}
	if d.DeviceProtocol != -1 && d.DeviceProtocol != int32(info.deviceProtocol) {
		return false
	}
	if d.VendorID != -1 && d.VendorID != int32(info.vendorID) {
		return false
	}
	if d.ProductID != -1 && d.ProductID != int32(info.productID) {
		return false
	}
	return true
}

// findDriver walks h.drivers in registration order looking for the first
// candidate whose Info matches slot.info, then calls its Init. If Init
// declines (ok == false) the search continues with the next candidate.
//
// ok == true means the driver accepted the device and now owns it — the
// opposite sense of the upstream C source's literal `if (dev->drvdata)
// continue`, which treats a non-null return as failure. That reads as an
// inverted bug: a driver that successfully allocates state and returns it
// would then be skipped instead of bound. This implementation uses the
// sense that makes the matcher actually work.
func (h *Host) findDriver(slot *DeviceSlot) bool {
	for _, drv := range h.drivers {
		info := drv.Info()
		if !info.matches(slot.info) {
			continue
		}

		drvdata, ok := drv.Init(slot)
		if !ok {
			pkg.LogDebug(pkg.ComponentEnum, "driver declined device", "vendorID", slot.info.vendorID, "productID", slot.info.productID)
			continue
		}

		slot.Driver = drv
		slot.DriverData = drvdata
		return true
	}
	return false
}
