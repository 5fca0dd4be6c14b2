// Package linux implements hal.LowLevelDriver for Linux using usbfs.
//
// It uses the usbfs interface (/dev/bus/usb/) for USB device access, sysfs
// (/sys/bus/usb/devices/) for device discovery, and a netlink uevent socket
// for hotplug monitoring. It is pure Go, with no cgo dependency.
//
// # Requirements
//
// The process needs read/write access to the device nodes under
// /dev/bus/usb/, typically via udev rules granting the running user or
// group access, or by running as root.
//
// # Architecture
//
// Transfers are asynchronous, matching the hal.LowLevelDriver contract:
//   - URBs are submitted non-blockingly via USBDEVFS_SUBMITURB.
//   - A background goroutine blocks on epoll_wait across the device fd, the
//     hotplug socket, and a wake eventfd; ready fds are funneled through a
//     buffered channel that Poll drains without blocking. This is the one
//     sanctioned blocking goroutine in the driver.
//   - Completed URBs are reaped non-blockingly via USBDEVFS_REAPURBNDELAY
//     once Poll observes the device fd is ready.
//
// usbfs combines an entire control transfer (setup, data, status) into one
// URB, unlike the two-phase SETUP/DATA model the host core issues packets
// in; LowLevelDriver stages the SETUP bytes and defers the actual URB
// submission to the DATA-stage call, which is when direction and length are
// known.
//
// Since the kernel has already enumerated the bus and assigned addresses,
// a LowLevelDriver instance here models exactly one connected device, found
// by Filter and adopted via scan or hotplug add event; a caller wanting
// several concrete devices visible to the host core runs one LowLevelDriver
// per device.
//
// # Supported features
//
//   - Control, bulk, and interrupt transfers
//   - Device hotplug detection via netlink
//   - Interface claiming with kernel driver detachment
//   - Low, full, and high speed USB
package linux
