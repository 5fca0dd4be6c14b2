// Package hal defines the packet/transport contract between the host stack
// core and a low-level host-controller driver (LLD).
//
// An LLD is an asynchronous packet transport: Read and Write never block.
// Each queues a Packet and returns immediately; the LLD completes it later,
// from within a subsequent call to Poll, by invoking the packet's Callback
// exactly once with a Completion. Completions for packets submitted to the
// same endpoint are delivered in submission order. Poll is also where the
// LLD surfaces root-port connect and disconnect events. Nothing in this
// package blocks, spawns a goroutine, or allocates after Init.
package hal

import "github.com/ardnew/softusb/pkg"

// Speed is the negotiated USB connection speed.
type Speed uint8

// USB 2.0 speed grades. SpeedSuper is defined for completeness but unused:
// the core does not implement USB 3.0 enumeration.
const (
	SpeedLow Speed = iota
	SpeedFull
	SpeedHigh
	SpeedSuper
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	case SpeedSuper:
		return "super"
	default:
		return "unknown"
	}
}

// MaxPacketSize0 returns the default endpoint-0 max packet size for a device
// that has not yet supplied its device descriptor.
func (s Speed) MaxPacketSize0() uint16 {
	if s == SpeedLow {
		return 8
	}
	return 64
}

// PollStatus reports a root-port connect/disconnect transition observed
// during a single Poll call. A single Poll call surfaces at most one such
// transition; the core drains it before re-polling.
type PollStatus int

// Poll outcomes for a single LLD tick.
const (
	// PollNone means no connect/disconnect transition occurred this tick.
	PollNone PollStatus = iota
	// PollConnected means a new device appeared on the LLD's root port.
	PollConnected
	// PollDisconnected means the device on the LLD's root port went away.
	PollDisconnected
)

// EndpointType identifies the USB transfer type of a Packet's endpoint.
type EndpointType uint8

// Endpoint types the core issues. Isochronous is intentionally absent: it is
// a stated Non-goal.
const (
	EndpointTypeControl EndpointType = iota
	EndpointTypeInterrupt
	EndpointTypeBulk
)

// ControlStage tags which stage of a control transfer a Packet represents.
// It is meaningless (and ignored) for non-control endpoint types.
type ControlStage uint8

// Control transfer stages.
const (
	// ControlStageSetup is the 8-byte SETUP packet that begins every
	// control transfer.
	ControlStageSetup ControlStage = iota
	// ControlStageData is either the data stage or the zero-length status
	// stage of a control transfer.
	ControlStageData
)

// Completion carries the outcome of one asynchronous Packet.
type Completion struct {
	// Status is the packet-level result; see pkg.PacketStatus.
	Status pkg.PacketStatus
	// TransferredLength is the number of bytes actually moved. For OUT
	// packets it mirrors the requested length on success; for IN packets
	// (and any ERRSIZ completion) it may be less than len(Packet.Data).
	TransferredLength int
}

// Callback is invoked by the LLD, from within a later Poll call, exactly
// once per Packet submitted to Read or Write.
type Callback func(arg any, c Completion)

// Packet describes a single USB transaction. The caller retains ownership
// of Data for the packet's entire lifetime, which ends when Callback is
// invoked; LLDs must not retain Data or Packet beyond that point.
type Packet struct {
	// Address is the target device's bus address (0 during enumeration).
	Address uint8
	// EndpointAddress is the endpoint number (0-15), direction implied by
	// the call (Read = IN, Write = OUT) except for the control SETUP stage,
	// which is always OUT to endpoint 0.
	EndpointAddress uint8
	// EndpointType selects which kind of transfer this packet performs.
	EndpointType EndpointType
	// EndpointSizeMax is the endpoint's wMaxPacketSize.
	EndpointSizeMax uint16
	// ControlStage is meaningful only when EndpointType == EndpointTypeControl.
	ControlStage ControlStage
	// Speed is the device's negotiated speed, needed by split/low-speed
	// aware LLDs to schedule the transaction correctly.
	Speed Speed
	// Data is the packet payload. For Write it holds the bytes to send;
	// for Read the LLD fills it up to len(Data) bytes.
	Data []byte
	// Toggle points at the DATA0/DATA1 toggle bit the LLD must track (and
	// flip on each successful non-SETUP stage) for this endpoint.
	Toggle *uint8
	// Callback is invoked on completion.
	Callback Callback
	// CallbackArg is passed back to Callback unmodified.
	CallbackArg any
}

// LowLevelDriver is the contract a host-controller driver implements. All
// methods are called only from the single poll goroutine; none may block.
type LowLevelDriver interface {
	// Init prepares the controller for use. Called once, before the first Poll.
	Init() error

	// Poll advances the controller by one tick, delivering at most one
	// connect/disconnect transition and any number of queued completions.
	Poll(timeUs uint32) PollStatus

	// Read queues an asynchronous IN transfer.
	Read(p *Packet)

	// Write queues an asynchronous OUT (or SETUP) transfer.
	Write(p *Packet)

	// RootSpeed returns the negotiated speed of the device on the root port.
	// Valid only after a PollConnected transition and before the matching
	// PollDisconnected.
	RootSpeed() Speed
}
