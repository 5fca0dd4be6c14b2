// Package host implements a pure-Go USB 2.0 host stack: enumeration, a
// wildcard-tolerant class-driver registry, and the per-tick dispatch loop
// that ties them to a [hal.LowLevelDriver] transport.
//
// # Architecture
//
//   - Host owns one device table per LLD and the registered class drivers
//   - DeviceSlot tracks one device's address, speed, and bound driver
//   - The enumeration state machine in enumeration.go drives a newly
//     connected device from the Default address through SET_ADDRESS,
//     GET_DEVICE_DESCRIPTOR, and GET_CONFIGURATION_DESCRIPTOR to a bound
//     driver
//   - The descriptor walker in descriptor.go dispatches each parsed
//     descriptor record to the bound driver's AnalyzeDescriptor
//
// # Cooperative scheduling
//
// There is a single external entry point, Host.Poll(timeUs), expected to be
// called at roughly 1 kHz. Every state transition in this package happens
// either inside a packet completion callback or inside Poll; nothing here
// blocks on I/O or spawns a goroutine. Enumeration allocates nothing after
// NewHost; each Issue* call in api.go allocates one hal.Packet.
//
// # Zero-allocation device table
//
// Device slots, the enumeration continuation's scratch Packet, and the
// per-LLD descriptor buffer are all fixed-size arrays sized by the
// constants in constants.go (MaxDevices, ScratchBufferSize). Driver-private
// state is handed back to the core as an opaque value and never
// interpreted.
//
// # Example
//
//	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{hidDriver})
//	for {
//		h.Poll(nextTickMicros())
//	}
//
// A named-pipe LLD for tests and examples is available in
// [github.com/ardnew/softusb/host/hal/fifo]; a Linux usbfs LLD is available
// in [github.com/ardnew/softusb/host/hal/linux].
package host
