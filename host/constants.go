package host

// Compile-time capacity limits. Device slots, hub instances and class-driver
// instances live in fixed-size arrays sized by these constants, and the
// enumeration state machine reuses each slot's own Packet. The Issue*
// transfer calls in api.go, used by the hub and class drivers, allocate a
// new hal.Packet on every call.
const (
	// MaxDevices is the number of device slots in one LLD's device table.
	// Slot 0 is the root device; slots 1..MaxDevices-1 are available to
	// devices behind hubs.
	MaxDevices = 16

	// MaxHubs is the number of hub instances the drivers/hub package can
	// track concurrently, across all LLDs.
	MaxHubs = 4

	// HubMaxPorts is the largest bNbrPorts a hub descriptor may report;
	// larger values are capped (with a logged warning) to this limit.
	HubMaxPorts = 7

	// MaxHidDevices is the number of HID instances drivers/hid can track
	// concurrently, across all LLDs.
	MaxHidDevices = 8

	// MaxXboxDevices is the number of XBOX gamepad instances drivers/xbox
	// can track concurrently, across all LLDs.
	MaxXboxDevices = 4

	// MaxMidiDevices is the number of USB-MIDI instances drivers/midi can
	// track concurrently, across all LLDs.
	MaxMidiDevices = 4

	// ScratchBufferSize is the size of each LLD's descriptor scratch
	// buffer, shared by the enumeration state machine for the device and
	// configuration descriptor reads.
	ScratchBufferSize = 512
)

// Descriptor types (USB 2.0 table 9-5), plus the HID and HUB class-specific
// values the bundled class drivers recognize.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
	DescriptorTypeHID           = 0x21
	DescriptorTypeHIDReport     = 0x22
	DescriptorTypeHub           = 0x29
)

// Standard request codes (USB 2.0 table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
)

// bmRequestType bit fields (USB 2.0 table 9-2).
const (
	RequestTypeOut       = 0x00
	RequestTypeIn        = 0x80
	RequestTypeStandard  = 0x00
	RequestTypeClass     = 0x20
	RequestTypeDevice    = 0x00
	RequestTypeInterface = 0x01
	RequestTypeEndpoint  = 0x02
)

// SetupPacket is the 8-byte standard control request layout.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// SetupPacketSize is the wire size of a SetupPacket.
const SetupPacketSize = 8

// MarshalTo writes the little-endian wire form of s into buf, which must be
// at least SetupPacketSize bytes.
func (s *SetupPacket) MarshalTo(buf []byte) {
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
}

// DeviceDescriptor is the 18-byte USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the wire size of a DeviceDescriptor.
const DeviceDescriptorSize = 18

// ParseDeviceDescriptor decodes data into out. Returns false if data is
// shorter than DeviceDescriptorSize.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) bool {
	if len(data) < DeviceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = uint16(data[2]) | uint16(data[3])<<8
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = uint16(data[8]) | uint16(data[9])<<8
	out.ProductID = uint16(data[10]) | uint16(data[11])<<8
	out.DeviceVersion = uint16(data[12]) | uint16(data[13])<<8
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return true
}

// ConfigurationDescriptor is the 9-byte USB configuration descriptor header.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ConfigurationDescriptorSize is the wire size of the configuration
// descriptor header (the fixed part; TotalLength covers the full tree).
const ConfigurationDescriptorSize = 9

// ParseConfigurationDescriptor decodes data into out. Returns false if data
// is shorter than ConfigurationDescriptorSize.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) bool {
	if len(data) < ConfigurationDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = uint16(data[2]) | uint16(data[3])<<8
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return true
}

// InterfaceDescriptor is the 9-byte USB interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the wire size of an InterfaceDescriptor.
const InterfaceDescriptorSize = 9

// ParseInterfaceDescriptor decodes data into out. Returns false if data is
// shorter than InterfaceDescriptorSize.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) bool {
	if len(data) < InterfaceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return true
}

// EndpointDescriptor is the 7-byte USB endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// EndpointDescriptorSize is the wire size of an EndpointDescriptor.
const EndpointDescriptorSize = 7

// ParseEndpointDescriptor decodes data into out. Returns false if data is
// shorter than EndpointDescriptorSize.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) bool {
	if len(data) < EndpointDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = uint16(data[4]) | uint16(data[5])<<8
	out.Interval = data[6]
	return true
}

// IsIn reports whether the endpoint is device-to-host.
func (e *EndpointDescriptor) IsIn() bool {
	return e.EndpointAddress&0x80 != 0
}

// Number returns the endpoint number (0-15), direction bit masked off.
func (e *EndpointDescriptor) Number() uint8 {
	return e.EndpointAddress & 0x0F
}

// IsInterrupt reports whether the endpoint is an interrupt endpoint.
func (e *EndpointDescriptor) IsInterrupt() bool {
	return e.Attributes&0x03 == 0x03
}

// IsBulk reports whether the endpoint is a bulk endpoint.
func (e *EndpointDescriptor) IsBulk() bool {
	return e.Attributes&0x03 == 0x02
}
