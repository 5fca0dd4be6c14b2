package hub

// Hub and port feature selectors (USB 2.0 table 11-17). Standard request
// codes (GET_STATUS, CLEAR_FEATURE, SET_FEATURE, GET_DESCRIPTOR) and the
// HUB descriptor type reuse host's own constants.
const (
	featurePortConnection  = 0
	featurePortEnable      = 1
	featurePortReset       = 4
	featurePortPower       = 8
	featureCPortConnection = 16
	featureCPortEnable     = 17
	featureCPortReset      = 20
)

// bmRequestType recipients used by hub class requests. Port-level requests
// use recipient=OTHER (0x03) rather than INTERFACE: that's the recipient
// bit combination real hub controllers accept.
const (
	requestTypeClass     = 0x20
	recipientDevice      = 0x00
	recipientOther       = 0x03
	requestTypeDeviceIn  = requestTypeClass | recipientDevice | 0x80
	requestTypeOtherOut  = requestTypeClass | recipientOther
	requestTypeOtherIn   = requestTypeClass | recipientOther | 0x80
)

// Port status bitmap (wPortStatus, first two bytes of the 4-byte GET_STATUS
// response).
const (
	portStatusConnection = 1 << 0
	portStatusEnable     = 1 << 1
	portStatusReset      = 1 << 4
	portStatusLowSpeed   = 1 << 9
	portStatusHighSpeed  = 1 << 10
)

// wPortChange bitmap (last two bytes of the 4-byte GET_STATUS response).
const (
	portChangeConnection = 1 << 0
	portChangeReset      = 1 << 4
)

const (
	deviceClassHub = 0x09

	// hubDescriptorMinLength is the fixed portion of the class-specific HUB
	// descriptor up to and including bNbrPorts.
	hubDescriptorMinLength = 3

	// postResetDebounceUs is the mandated wait after PORT_RESET completes
	// before issuing control transfers to the downstream device.
	postResetDebounceUs = 500_000

	// scratchSize covers the largest response the hub driver itself reads:
	// the class-specific HUB descriptor, or a 4-byte port status block.
	scratchSize = 32
)
