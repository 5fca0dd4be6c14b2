// Package hal defines the packet/transport contract between the host stack
// core and a low-level host-controller driver (LLD); see [LowLevelDriver].
//
// # Design principles
//
// An LLD is an asynchronous packet transport, not a blocking register-level
// driver: Read and Write always return immediately, and the LLD reports
// completion later from inside a Poll call. This keeps the host stack's core
// single-threaded and free of blocking I/O waits, at the cost of pushing any
// platform-specific blocking (e.g. a kernel ioctl) behind the LLD's own
// internal bookkeeping.
//
// # Implementing an LLD
//
//  1. Implement Init to prepare the controller, without blocking.
//  2. Implement Poll to surface at most one connect/disconnect transition
//     and drain any packets queued by Read/Write, invoking each one's
//     Callback exactly once.
//  3. Implement Read/Write to enqueue a Packet and return immediately.
//  4. Implement RootSpeed to report the last negotiated root-port speed.
//
// A named-pipe LLD for tests and examples is available in
// [github.com/ardnew/softusb/host/hal/fifo]; a Linux usbfs LLD is available
// in [github.com/ardnew/softusb/host/hal/linux].
package hal
