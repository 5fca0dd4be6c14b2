//go:build linux

package linux

import (
	"sync"
	"unsafe"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"golang.org/x/sys/unix"
)

// =============================================================================
// URB slot management
// =============================================================================

// urbSlot is one in-flight URB and the Packet callback it will eventually
// resolve. userContext on the submitted URB holds this slot's endpoint and
// slot indices so a reaped completion can be matched back without a map
// lookup.
type urbSlot struct {
	u        urb
	buffer   [URBBufferSize]byte
	inUse    bool
	next     int8
	packet   *hal.Packet
	reading  bool
}

type endpointState struct {
	slots    [MaxURBsPerEndpoint]urbSlot
	freeHead int8
	mu       sync.Mutex
}

func (e *endpointState) init() {
	e.freeHead = 0
	for i := 0; i < MaxURBsPerEndpoint-1; i++ {
		e.slots[i] = urbSlot{next: int8(i + 1)}
	}
	e.slots[MaxURBsPerEndpoint-1] = urbSlot{next: -1}
}

func (e *endpointState) allocSlot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freeHead < 0 {
		return -1
	}
	idx := int(e.freeHead)
	slot := &e.slots[idx]
	e.freeHead = slot.next
	slot.inUse = true
	slot.next = -1
	return idx
}

func (e *endpointState) freeSlot(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= MaxURBsPerEndpoint || !e.slots[idx].inUse {
		return
	}
	e.slots[idx] = urbSlot{next: e.freeHead}
	e.freeHead = int8(idx)
}

// =============================================================================
// Device connection
// =============================================================================

// deviceConn is one open usbfs device node and its per-endpoint URB pools.
type deviceConn struct {
	fd      int
	info    usbDeviceInfo
	address uint8

	endpoints [MaxEndpointsPerDevice]endpointState

	claimedMask uint16
	claimMu     sync.Mutex

	// controlEP holds the dedicated endpoint-0 URB slot pool. usbfs combines
	// an entire control transfer (setup, data, status) into one URB, so the
	// setup bytes staged here are only submitted once the data-stage Read or
	// Write call supplies the transfer's actual direction and length.
	controlEP        endpointState
	pendingSetup     [8]byte
	havePendingSetup bool

	mu           sync.RWMutex
	disconnected bool
}

func newDeviceConn(info usbDeviceInfo) (*deviceConn, error) {
	fd, err := openDevice(info.devfsPath)
	if err != nil {
		return nil, err
	}
	conn := &deviceConn{fd: fd, info: info}
	for i := range conn.endpoints {
		conn.endpoints[i].init()
	}
	conn.controlEP.init()
	return conn, nil
}

// stageSetup records the 8-byte SETUP stage for the control URB that
// submitControl will build once the data stage is known.
func (d *deviceConn) stageSetup(data []byte) {
	copy(d.pendingSetup[:], data)
	d.havePendingSetup = true
}

// submitControl builds and submits the single combined control URB usbfs
// expects: an 8-byte setup header immediately followed by the data/status
// buffer. p.Data is the data-stage buffer (possibly empty for a zero-length
// status stage); in reports whether this is a device-to-host data stage.
func (d *deviceConn) submitControl(p *hal.Packet, in bool) error {
	if !d.havePendingSetup {
		return pkg.ErrInvalidRequest
	}
	d.havePendingSetup = false

	slotIdx := d.controlEP.allocSlot()
	if slotIdx < 0 {
		return pkg.ErrNoMemory
	}
	slot := d.controlEP.getSlot(slotIdx)
	slot.packet = p
	slot.reading = in

	n := copy(slot.buffer[:8], d.pendingSetup[:])
	dataLen := len(p.Data)
	if 8+dataLen > URBBufferSize {
		dataLen = URBBufferSize - 8
	}
	if !in {
		copy(slot.buffer[n:n+dataLen], p.Data[:dataLen])
	}

	userContext := uintptr(slotIdx)
	slot.u = urb{
		typ:          URBTypeControl,
		endpoint:     0,
		bufferLength: int32(8 + dataLen),
		userContext:  userContext,
	}
	slot.u.buffer = uintptr(unsafe.Pointer(&slot.buffer[0]))

	if err := submitURB(d.fd, &slot.u); err != nil {
		d.controlEP.freeSlot(slotIdx)
		return err
	}
	return nil
}

func (d *deviceConn) close() error {
	d.mu.Lock()
	d.disconnected = true
	d.mu.Unlock()

	d.claimMu.Lock()
	for i := 0; i < MaxInterfacesPerDevice; i++ {
		if d.claimedMask&(1<<i) != 0 {
			releaseInterface(d.fd, uint8(i))
		}
	}
	d.claimedMask = 0
	d.claimMu.Unlock()

	d.discardAllURBs()
	return closeDevice(d.fd)
}

func (d *deviceConn) isDisconnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disconnected
}

func (d *deviceConn) markDisconnected() {
	d.mu.Lock()
	d.disconnected = true
	d.mu.Unlock()
}

// =============================================================================
// Interface claiming (lazy)
// =============================================================================

func (d *deviceConn) ensureInterfaceClaimed(iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return pkg.ErrInvalidEndpoint
	}

	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	mask := uint16(1) << iface
	if d.claimedMask&mask != 0 {
		return nil
	}

	if err := disconnectDriver(d.fd, iface); err != nil {
		_ = isNoData(err)
	}
	if err := claimInterface(d.fd, iface); err != nil {
		return err
	}
	d.claimedMask |= mask
	return nil
}

// =============================================================================
// URB submission
// =============================================================================

func endpointIndex(addr uint8) int {
	epNum := int(addr & 0x0F)
	if addr&0x80 != 0 {
		return epNum + 16
	}
	return epNum
}

// submitPacket claims a URB slot for p's endpoint and submits it as a bulk
// or interrupt transfer. Control transfers (endpoint 0) never reach this
// path; see stageSetup/submitControl.
func (d *deviceConn) submitPacket(p *hal.Packet, in bool) error {
	epAddr := p.EndpointAddress
	if in {
		epAddr |= 0x80
	}
	idx := endpointIndex(epAddr)
	if idx < 0 || idx >= MaxEndpointsPerDevice {
		return pkg.ErrInvalidEndpoint
	}

	ep := &d.endpoints[idx]
	slotIdx := ep.allocSlot()
	if slotIdx < 0 {
		return pkg.ErrNoMemory
	}
	slot := ep.getSlot(slotIdx)
	slot.packet = p
	slot.reading = in

	n := len(p.Data)
	if n > URBBufferSize {
		n = URBBufferSize
	}
	if !in {
		copy(slot.buffer[:n], p.Data[:n])
	}

	userContext := uintptr(idx)<<32 | uintptr(slotIdx)
	switch p.EndpointType {
	case hal.EndpointTypeInterrupt:
		initInterruptURB(&slot.u, epAddr, slot.buffer[:max(n, len(p.Data))], userContext)
	default:
		initBulkURB(&slot.u, epAddr, slot.buffer[:max(n, len(p.Data))], userContext)
	}

	if err := submitURB(d.fd, &slot.u); err != nil {
		ep.freeSlot(slotIdx)
		return err
	}
	return nil
}

func (e *endpointState) getSlot(idx int) *urbSlot {
	if idx < 0 || idx >= MaxURBsPerEndpoint {
		return nil
	}
	return &e.slots[idx]
}

// reap retrieves one completed URB without blocking and resolves it to the
// Packet that submitted it, returning (nil, false) when nothing is ready.
// Control-endpoint URBs (endpoint 0) are dispatched to the dedicated
// controlEP pool; every other endpoint resolves against d.endpoints.
func (d *deviceConn) reap() (*hal.Packet, hal.Completion, bool) {
	u, err := reapURBNDelay(d.fd)
	if err != nil || u == nil {
		return nil, hal.Completion{}, false
	}

	if u.typ == URBTypeControl {
		return d.resolveControl(u)
	}
	return d.resolveData(u)
}

func (d *deviceConn) resolveData(u *urb) (*hal.Packet, hal.Completion, bool) {
	epIdx := int(u.userContext >> 32)
	slotIdx := int(u.userContext & 0xFFFFFFFF)
	if epIdx < 0 || epIdx >= MaxEndpointsPerDevice {
		return nil, hal.Completion{}, false
	}
	ep := &d.endpoints[epIdx]
	slot := ep.getSlot(slotIdx)
	if slot == nil || !slot.inUse {
		return nil, hal.Completion{}, false
	}

	p := slot.packet
	status := urbStatus(u.status)
	if slot.reading && int(u.actualLength) < len(p.Data) && status == pkg.StatusOK {
		status = pkg.StatusERRSIZ
	}
	if slot.reading {
		copy(p.Data, slot.buffer[:u.actualLength])
	}

	completion := hal.Completion{Status: status, TransferredLength: int(u.actualLength)}
	ep.freeSlot(slotIdx)
	return p, completion, true
}

func (d *deviceConn) resolveControl(u *urb) (*hal.Packet, hal.Completion, bool) {
	slotIdx := int(u.userContext)
	slot := d.controlEP.getSlot(slotIdx)
	if slot == nil || !slot.inUse {
		return nil, hal.Completion{}, false
	}

	p := slot.packet
	status := urbStatus(u.status)
	actual := int(u.actualLength) - 8
	if actual < 0 {
		actual = 0
	}
	if slot.reading && actual < len(p.Data) && status == pkg.StatusOK {
		status = pkg.StatusERRSIZ
	}
	if slot.reading {
		copy(p.Data, slot.buffer[8:8+actual])
	}

	completion := hal.Completion{Status: status, TransferredLength: actual}
	d.controlEP.freeSlot(slotIdx)
	return p, completion, true
}

func urbStatus(status int32) pkg.PacketStatus {
	if status == URBStatusSuccess {
		return pkg.StatusOK
	}
	if unix.Errno(-status) == unix.EPIPE {
		return pkg.StatusEFATAL
	}
	return pkg.StatusEFATAL
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// discardAllURBs cancels and reaps every in-flight URB; used when a device
// disconnects so its endpoint state can be reused if it reconnects.
func (d *deviceConn) discardAllURBs() {
	discard := func(ep *endpointState) {
		ep.mu.Lock()
		for i := 0; i < MaxURBsPerEndpoint; i++ {
			if ep.slots[i].inUse {
				discardURB(d.fd, &ep.slots[i].u)
			}
		}
		ep.mu.Unlock()
	}
	for epIdx := range d.endpoints {
		discard(&d.endpoints[epIdx])
	}
	discard(&d.controlEP)

	for {
		if _, err := reapURBNDelay(d.fd); err != nil {
			break
		}
	}
	for epIdx := range d.endpoints {
		d.endpoints[epIdx].init()
	}
	d.controlEP.init()
	d.havePendingSetup = false
}

func (d *deviceConn) handleENODEV() {
	d.markDisconnected()
	d.discardAllURBs()
}
