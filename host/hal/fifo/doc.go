// Package fifo provides a hal.LowLevelDriver backed by named pipes (FIFOs),
// for testing and simulation without real USB hardware.
//
// # Architecture
//
// The host polls a bus directory for device subdirectories matching the
// pattern `device-*/`. Each device creates its own subdirectory with named
// pipes:
//
//	/tmp/usb-bus/                    # Bus directory
//	├── device-a1b2c3d4/             # Device subdirectory
//	│   ├── connection               # Connection signaling
//	│   ├── host_to_device           # Host -> device (endpoint 0 OUT/SETUP)
//	│   ├── device_to_host           # Device -> host (endpoint 0 IN)
//	│   ├── ep1_in, ep1_out          # Endpoint 1 data FIFOs
//	│   └── ...                      # (up to ep15)
//	└── ...
//
// # Hot-plugging
//
// While no device is connected, Poll scans the bus directory for a new
// device subdirectory on every call.
// A device signals its presence by writing 0x01 to its connection FIFO, and
// its departure by writing 0x00 or closing the pipe.
//
// # Non-blocking
//
// Every FIFO is opened O_NONBLOCK. Write queues a message and pushes as many
// bytes as the pipe will currently accept on each Poll; Read queues a
// request and is satisfied on whichever later Poll call finds a complete
// message waiting. Neither ever blocks the caller.
//
// # Protocol
//
// Each message uses a simple framing protocol:
//
//	[1 byte: message type][2 bytes: length, little-endian][N bytes: payload]
//
// Message types: 0x01 SETUP, 0x02 DATA, 0x03 ACK, 0x04 NAK, 0x05 STALL.
package fifo
