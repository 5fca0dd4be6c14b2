// Package fifo implements a hal.LowLevelDriver backed by named pipes (FIFOs)
// on the local filesystem, for deterministic tests and examples that don't
// need real USB hardware. The device side of the framed message protocol is
// not part of this repository; whatever process plays the device creates
// its pipes under the shared bus directory.
package fifo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"golang.org/x/sys/unix"
)

// Message types exchanged over the FIFO pair.
const (
	msgSetup = 0x01 // host->device: 8-byte SETUP stage
	msgData  = 0x02 // either direction: a data payload
	msgAck   = 0x03 // device->host: zero-length success (status stage, or OUT ack)
	msgNak   = 0x04 // device->host: retry the transfer
	msgStall = 0x05 // device->host: endpoint stalled
)

// sigConnect/sigDisconnect are the single bytes written to the "connection"
// FIFO to signal a device's presence.
const (
	sigDisconnect = 0x00
	sigConnect    = 0x01
)

const (
	maxMessageSize = 1024
	headerSize     = 3 // type, length-lo, length-hi
	// MaxEndpoints is the largest non-zero endpoint number this transport
	// supports (1-15).
	MaxEndpoints = 15
)

const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// deviceConn holds the open pipe handles for the one device this LLD can be
// connected to at a time (the FIFO transport models a single root port).
type deviceConn struct {
	dir          string
	hostToDevice *os.File
	deviceToHost *os.File
	connection   *os.File
	epIn         [MaxEndpoints]*os.File
	epOut        [MaxEndpoints]*os.File
	speed        hal.Speed
}

// pendingWrite is an OUT (or SETUP) packet queued by Write, completed once
// its message has been pushed into the pipe without blocking.
type pendingWrite struct {
	packet *hal.Packet
	file   *os.File
	msg    [maxMessageSize]byte
	msgLen int
	sent   int
}

// pendingRead is an IN packet queued by Read, completed once a response
// message has been fully read from the pipe without blocking.
type pendingRead struct {
	packet *hal.Packet
	file   *os.File
}

// LowLevelDriver implements hal.LowLevelDriver over named pipes. It never
// blocks: Init creates the bus directory, Poll non-blockingly advances
// connection detection and any in-flight reads/writes.
type LowLevelDriver struct {
	busDir string

	device *deviceConn

	writes []pendingWrite
	reads  []pendingRead

	knownDirs map[string]bool
	connected bool
}

// New creates a FIFO LLD rooted at busDir. The device side creates its own
// subdirectory (device-<id>/) under busDir when it connects.
func New(busDir string) *LowLevelDriver {
	return &LowLevelDriver{
		busDir:    busDir,
		knownDirs: make(map[string]bool),
	}
}

// Init creates the bus directory if it does not already exist.
func (l *LowLevelDriver) Init() error {
	if err := os.MkdirAll(l.busDir, 0o755); err != nil {
		return fmt.Errorf("fifo: create bus dir: %w", err)
	}
	pkg.LogInfo(pkg.ComponentFIFOHAL, "initialized", "busDir", l.busDir)
	return nil
}

// RootSpeed returns the connected device's negotiated speed.
func (l *LowLevelDriver) RootSpeed() hal.Speed {
	if l.device == nil {
		return hal.SpeedFull
	}
	return l.device.speed
}

// Poll scans for a new or departed device directory and pumps any in-flight
// packets. At most one connect/disconnect transition is reported per call.
func (l *LowLevelDriver) Poll(timeUs uint32) hal.PollStatus {
	status := hal.PollNone

	if l.device == nil {
		if dev := l.scanForDevice(); dev != nil {
			l.device = dev
			l.connected = true
			status = hal.PollConnected
		}
	} else if l.checkDisconnected() {
		l.closeDevice()
		status = hal.PollDisconnected
	}

	l.pumpWrites()
	l.pumpReads()

	return status
}

// scanForDevice looks for a not-yet-seen device-* subdirectory with a
// connection FIFO present and, if found, opens every pipe for it.
func (l *LowLevelDriver) scanForDevice() *deviceConn {
	entries, err := os.ReadDir(l.busDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "device-") {
			continue
		}
		dir := filepath.Join(l.busDir, entry.Name())
		if l.knownDirs[dir] {
			continue
		}
		connPath := filepath.Join(dir, fifoConnection)
		if _, err := os.Stat(connPath); err != nil {
			continue
		}
		l.knownDirs[dir] = true

		dev, err := l.openDevice(dir)
		if err != nil {
			pkg.LogWarn(pkg.ComponentFIFOHAL, "failed to open device pipes", "dir", dir, "error", err)
			continue
		}
		return dev
	}
	return nil
}

func (l *LowLevelDriver) openDevice(dir string) (*deviceConn, error) {
	dev := &deviceConn{dir: dir, speed: hal.SpeedFull}

	open := func(name string, flag int) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, name), flag|unix.O_NONBLOCK, 0)
	}

	var err error
	if dev.connection, err = open(fifoConnection, os.O_RDONLY); err != nil {
		return nil, err
	}
	if dev.hostToDevice, err = open(fifoHostToDevice, os.O_WRONLY); err != nil {
		return nil, err
	}
	if dev.deviceToHost, err = open(fifoDeviceToHost, os.O_RDONLY); err != nil {
		return nil, err
	}
	for i := 1; i <= MaxEndpoints; i++ {
		idx := i - 1
		if dev.epIn[idx], err = open(fmt.Sprintf("ep%d_in", i), os.O_RDONLY); err != nil {
			return nil, err
		}
		if dev.epOut[idx], err = open(fmt.Sprintf("ep%d_out", i), os.O_WRONLY); err != nil {
			return nil, err
		}
	}

	pkg.LogInfo(pkg.ComponentFIFOHAL, "device connected", "dir", dir)
	return dev, nil
}

// checkDisconnected does a non-blocking read of the connection FIFO; EOF or
// an explicit sigDisconnect byte means the device went away.
func (l *LowLevelDriver) checkDisconnected() bool {
	var buf [1]byte
	n, err := l.device.connection.Read(buf[:])
	if err != nil {
		return isEOF(err)
	}
	return n > 0 && buf[0] == sigDisconnect
}

func (l *LowLevelDriver) closeDevice() {
	dev := l.device
	dev.connection.Close()
	dev.hostToDevice.Close()
	dev.deviceToHost.Close()
	for i := range dev.epIn {
		dev.epIn[i].Close()
		dev.epOut[i].Close()
	}
	delete(l.knownDirs, dev.dir)
	l.device = nil
	l.connected = false
	pkg.LogInfo(pkg.ComponentFIFOHAL, "device disconnected", "dir", dev.dir)
}

// Write queues p's payload to be written to the device. Completion is
// delivered from a later Poll once the message is fully in the pipe.
func (l *LowLevelDriver) Write(p *hal.Packet) {
	if l.device == nil {
		l.completeWrite(p, pkg.StatusEFATAL, 0)
		return
	}

	file := l.deviceToHostEndpointFile(p, false)
	if file == nil {
		l.completeWrite(p, pkg.StatusEFATAL, 0)
		return
	}

	w := pendingWrite{packet: p, file: file}
	msgType := byte(msgData)
	if p.EndpointType == hal.EndpointTypeControl && p.ControlStage == hal.ControlStageSetup {
		msgType = msgSetup
	}
	w.msg[0] = msgType
	binary.LittleEndian.PutUint16(w.msg[1:3], uint16(len(p.Data)))
	copy(w.msg[headerSize:], p.Data)
	w.msgLen = headerSize + len(p.Data)

	l.writes = append(l.writes, w)
}

// Read queues p to receive the next response message from the device.
func (l *LowLevelDriver) Read(p *hal.Packet) {
	if l.device == nil {
		l.completeRead(p, pkg.StatusEFATAL, nil)
		return
	}

	file := l.deviceToHostEndpointFile(p, true)
	if file == nil {
		l.completeRead(p, pkg.StatusEFATAL, nil)
		return
	}

	l.reads = append(l.reads, pendingRead{packet: p, file: file})
}

// deviceToHostEndpointFile picks the pipe endpoint-0 traffic (control
// transfers) or a numbered data endpoint uses.
func (l *LowLevelDriver) deviceToHostEndpointFile(p *hal.Packet, in bool) *os.File {
	if p.EndpointType == hal.EndpointTypeControl {
		if in {
			return l.device.deviceToHost
		}
		return l.device.hostToDevice
	}
	num := p.EndpointAddress & 0x0F
	if num == 0 || int(num) > MaxEndpoints {
		return nil
	}
	idx := num - 1
	if in {
		return l.device.epIn[idx]
	}
	return l.device.epOut[idx]
}

func (l *LowLevelDriver) pumpWrites() {
	remaining := l.writes[:0]
	for i := range l.writes {
		w := &l.writes[i]
		n, err := w.file.Write(w.msg[w.sent:w.msgLen])
		w.sent += n
		if err != nil && !isWouldBlock(err) {
			l.completeWrite(w.packet, pkg.StatusEFATAL, w.sent)
			continue
		}
		if w.sent >= w.msgLen {
			l.completeWrite(w.packet, pkg.StatusOK, len(w.packet.Data))
			continue
		}
		remaining = append(remaining, *w)
	}
	l.writes = remaining
}

func (l *LowLevelDriver) pumpReads() {
	var buf [maxMessageSize]byte
	remaining := l.reads[:0]
	for i := range l.reads {
		r := &l.reads[i]
		n, err := r.file.Read(buf[:])
		if err != nil {
			if isWouldBlock(err) {
				remaining = append(remaining, *r)
				continue
			}
			l.completeRead(r.packet, pkg.StatusEFATAL, nil)
			continue
		}
		if n < headerSize {
			remaining = append(remaining, *r)
			continue
		}

		payloadLen := int(binary.LittleEndian.Uint16(buf[1:3]))
		switch buf[0] {
		case msgAck:
			l.completeRead(r.packet, pkg.StatusOK, nil)
		case msgData:
			end := headerSize + payloadLen
			if end > n {
				end = n
			}
			l.completeRead(r.packet, pkg.StatusOK, buf[headerSize:end])
		case msgNak:
			l.completeRead(r.packet, pkg.StatusEAGAIN, nil)
		case msgStall:
			l.completeRead(r.packet, pkg.StatusEFATAL, nil)
		default:
			l.completeRead(r.packet, pkg.StatusEFATAL, nil)
		}
	}
	l.reads = remaining
}

func (l *LowLevelDriver) completeWrite(p *hal.Packet, status pkg.PacketStatus, n int) {
	if p.Callback != nil {
		p.Callback(p.CallbackArg, hal.Completion{Status: status, TransferredLength: n})
	}
}

func (l *LowLevelDriver) completeRead(p *hal.Packet, status pkg.PacketStatus, data []byte) {
	n := copy(p.Data, data)
	if p.Callback != nil {
		p.Callback(p.CallbackArg, hal.Completion{Status: status, TransferredLength: n})
	}
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func isEOF(err error) bool {
	return err != nil && (errors.Is(err, io.EOF) || !isWouldBlock(err))
}

var _ hal.LowLevelDriver = (*LowLevelDriver)(nil)
