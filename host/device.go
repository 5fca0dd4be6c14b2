package host

import "github.com/ardnew/softusb/host/hal"

// enumState is the enumeration state machine's tagged-enum state. See
// enumeration.go for the transition table.
type enumState uint8

const (
	enumStateIdle enumState = iota
	enumStateSetAddressEmptyRead
	enumStateSetAddressEmptyReadComplete
	enumStateDeviceDTReadSetup
	enumStateDeviceDTRead
	enumStateDeviceDTReadComplete
	enumStateConfigurationDTHeaderReadSetup
	enumStateConfigurationDTHeaderRead
	enumStateConfigurationDTHeaderReadComplete
	enumStateConfigurationDTReadSetup
	enumStateConfigurationDTRead
	enumStateConfigurationDTReadComplete
	enumStateFindDriver
)

// DriverInfo is the eight-field wildcard-tolerant match record a ClassDriver
// registers. A field value of -1 means "don't care"; see Host.findDriver.
type DriverInfo struct {
	DeviceClass    int32
	DeviceSubClass int32
	DeviceProtocol int32
	VendorID       int32
	ProductID      int32
	IfaceClass     int32
	IfaceSubClass  int32
	IfaceProtocol  int32
}

// deviceInfo is the subset of DriverInfo's fields extracted from a specific
// device's descriptors during a descriptor walk.
type deviceInfo struct {
	deviceClass    uint8
	deviceSubClass uint8
	deviceProtocol uint8
	vendorID       uint16
	productID      uint16
	ifaceClass     uint8
	ifaceSubClass  uint8
	ifaceProtocol  uint8
}

// ClassDriver is the contract a device or hub driver implements. The core
// never interprets the drvdata value it is handed back; it only stores and
// returns it to the same driver on later calls.
type ClassDriver interface {
	// Init is called once a descriptor walk has matched this driver's Info
	// against a device. ok==true means the driver accepts the device and
	// owns drvdata from this point on; ok==false means the driver declined
	// (e.g. it has no free internal slot) and the matcher should continue
	// to the next candidate.
	//
	// This is the corrected sense of the upstream C source's init return
	// value: the original treats a non-null return as failure
	// (`if (dev->drvdata) { ...; continue; }`), which looks like an
	// inverted bug. This contract uses the sense that actually makes the
	// matcher work: true means accepted.
	Init(slot *DeviceSlot) (drvdata any, ok bool)

	// AnalyzeDescriptor is replayed with every descriptor record (device,
	// configuration, interface, endpoint, class-specific) from the start
	// of the buffer once this driver has been bound. Return true as soon
	// as enough records have been seen to configure the driver; the walk
	// stops at that point.
	AnalyzeDescriptor(drvdata any, record []byte) bool

	// Poll is called once per host tick for every still-bound device this
	// driver owns.
	Poll(drvdata any, timeUs uint32)

	// Remove tears the driver down; drvdata must not be used again after
	// this call returns.
	Remove(drvdata any)

	// Info returns this driver's match criteria.
	Info() DriverInfo
}

// DeviceSlot identifies one USB device on one LLD's device table.
//
// DeviceSlot never holds a pointer back to its owning Host or LLD; it records
// the owning LLD as an index. Class drivers keep the *DeviceSlot they were
// handed by Init in their own state, so slot -> drvdata -> slot is a Go
// pointer cycle; no (lldIndex, index) coordinates are stored instead.
type DeviceSlot struct {
	// Address is the USB bus address, or -1 if this slot is free. Address
	// 0 means the device is in the Default state (mid-enumeration).
	Address int16

	// Speed is the negotiated connection speed.
	Speed hal.Speed

	// MaxPacketSize0 is the negotiated endpoint-0 max packet size: 8 for
	// SpeedLow, 64 otherwise, until the device descriptor updates it.
	MaxPacketSize0 uint16

	// Toggle0 is the DATA0/DATA1 toggle for endpoint 0 control transfers.
	Toggle0 uint8

	// Driver is the bound class driver, or nil if unbound.
	Driver ClassDriver
	// DriverData is the opaque state Driver.Init returned for this slot.
	DriverData any

	// lldIndex identifies which LLD owns this slot, for Host lookups.
	lldIndex int

	// state drives the enumeration continuation in enumeration.go.
	state enumState
	// info accumulates descriptor fields as the walk proceeds.
	info deviceInfo
	// packet is the slot's scratch Packet, reused across enumeration
	// stages so enumeration never allocates on the hot path.
	packet hal.Packet
	// setupBuf holds the marshaled 8-byte SETUP stage for packet.
	setupBuf [SetupPacketSize]byte
	// pending is set while packet is in flight and cleared by its callback.
	pending bool
}

// DeviceTable is the fixed-size array of device slots belonging to one LLD,
// plus the scratch descriptor buffer the enumeration state machine reads
// into. Slot 0 is reserved for the device directly attached to the root
// port; slots 1..MaxDevices-1 are allocated to devices behind hubs.
type DeviceTable struct {
	Slots   [MaxDevices]DeviceSlot
	Scratch [ScratchBufferSize]byte
}

// reset restores every slot to the free state (address -1, no driver).
func (t *DeviceTable) reset(lldIndex int) {
	for i := range t.Slots {
		t.Slots[i] = DeviceSlot{Address: -1, lldIndex: lldIndex}
	}
}

// getFreeDevice scans the table from index 0 and returns the first free
// slot, assigning it address index+1. Returns nil if the table is full.
// This mirrors the original source's usbh_get_free_device: a new slot is
// handed out with its address pre-assigned, but with no bound driver yet.
func (t *DeviceTable) getFreeDevice() *DeviceSlot {
	for i := range t.Slots {
		if t.Slots[i].Address < 0 {
			t.Slots[i].Address = int16(i + 1)
			return &t.Slots[i]
		}
	}
	return nil
}
