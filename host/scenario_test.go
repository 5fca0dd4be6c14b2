package host_test

// Black-box coverage of the six concrete enumeration scenarios plus the
// disconnect-mid-enumeration regression, driven entirely through host's
// exported surface (NewHost, Poll, EnumAvailable) and a small scripted
// hal.LowLevelDriver standing in for real hardware, in the style of
// host/hal/hal_test.go's fakeLLD.

import (
	"sync"
	"testing"

	"github.com/ardnew/softusb/drivers/hid"
	"github.com/ardnew/softusb/drivers/hub"
	"github.com/ardnew/softusb/drivers/xbox"
	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- shared fixtures -------------------------------------------------------

func decodeSetup(data []byte) host.SetupPacket {
	return host.SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       uint16(data[2]) | uint16(data[3])<<8,
		Index:       uint16(data[4]) | uint16(data[5])<<8,
		Length:      uint16(data[6]) | uint16(data[7])<<8,
	}
}

func ackOK(n int) hal.Completion { return hal.Completion{Status: pkg.StatusOK, TransferredLength: n} }

func buildDeviceDescriptor(class, subclass, protocol uint8, vid, pid uint16, maxPacket0 uint8) []byte {
	buf := make([]byte, host.DeviceDescriptorSize)
	buf[0] = host.DeviceDescriptorSize
	buf[1] = host.DescriptorTypeDevice
	buf[2], buf[3] = 0x00, 0x02
	buf[4], buf[5], buf[6] = class, subclass, protocol
	buf[7] = maxPacket0
	buf[8], buf[9] = byte(vid), byte(vid>>8)
	buf[10], buf[11] = byte(pid), byte(pid>>8)
	buf[17] = 1
	return buf
}

// buildConfigBlob builds a configuration descriptor with exactly one
// interface and one endpoint, back to back, matching the tree layout
// host/descriptor.go's walker expects.
func buildConfigBlob(ifaceClass, ifaceSubClass, ifaceProtocol, epAddr, epAttr uint8, epMaxPacket uint16) []byte {
	const (
		configLen = 9
		ifaceLen  = 9
		epLen     = 7
		total     = configLen + ifaceLen + epLen
	)
	buf := make([]byte, total)
	buf[0] = configLen
	buf[1] = host.DescriptorTypeConfiguration
	buf[2], buf[3] = byte(total), byte(total>>8)
	buf[4] = 1 // one interface
	buf[5] = 1 // bConfigurationValue
	buf[7] = 0x80
	buf[8] = 50

	iface := buf[configLen:]
	iface[0] = ifaceLen
	iface[1] = host.DescriptorTypeInterface
	iface[4] = 1 // one endpoint
	iface[5] = ifaceClass
	iface[6] = ifaceSubClass
	iface[7] = ifaceProtocol

	ep := buf[configLen+ifaceLen:]
	ep[0] = epLen
	ep[1] = host.DescriptorTypeEndpoint
	ep[2] = epAddr
	ep[3] = epAttr
	ep[4], ep[5] = byte(epMaxPacket), byte(epMaxPacket>>8)
	ep[6] = 10

	return buf
}

// scriptedLLD is a minimal asynchronous hal.LowLevelDriver: it surfaces at
// most one connect and one disconnect transition, each at a fixed tick, and
// answers whatever single packet is in flight through a caller-supplied
// respond function — mirroring the strictly-one-outstanding-transfer shape
// every enumeration and class-driver state machine in this repository
// already assumes.
type scriptedLLD struct {
	speed          hal.Speed
	connectTick    int
	disconnectTick int
	respond        func(p *hal.Packet) hal.Completion

	tick    int
	dead    bool
	pending *hal.Packet
}

func (l *scriptedLLD) Init() error          { return nil }
func (l *scriptedLLD) RootSpeed() hal.Speed { return l.speed }
func (l *scriptedLLD) Write(p *hal.Packet)  { l.pending = p }
func (l *scriptedLLD) Read(p *hal.Packet)   { l.pending = p }

func (l *scriptedLLD) Poll(timeUs uint32) hal.PollStatus {
	l.tick++
	if l.dead {
		return hal.PollNone
	}
	if l.disconnectTick != 0 && l.tick == l.disconnectTick {
		// A real link going away loses whatever was in flight; the stray
		// completion never arrives.
		l.dead = true
		l.pending = nil
		return hal.PollDisconnected
	}

	status := hal.PollNone
	if l.connectTick != 0 && l.tick == l.connectTick {
		status = hal.PollConnected
	}
	if l.pending != nil && l.respond != nil {
		p := l.pending
		l.pending = nil
		c := l.respond(p)
		if p.Callback != nil {
			p.Callback(p.CallbackArg, c)
		}
	}
	return status
}

var _ hal.LowLevelDriver = (*scriptedLLD)(nil)

// controlGadget answers the control-transfer sequence host/enumeration.go
// issues for a single device: SET_ADDRESS, GET_DESCRIPTOR(DEVICE),
// GET_DESCRIPTOR(CONFIGURATION), and whatever class-specific SET_CONFIGURATION
// follows. An interrupt IN read, if reportFunc is set, is answered with the
// report it returns.
type controlGadget struct {
	deviceDescriptor []byte
	configBlob       []byte

	// shortFirstRead makes the first GET_DESCRIPTOR(DEVICE) response a
	// truncated 8-byte ERRSIZ completion, exercising the retry path in
	// host/enumeration.go's enumStateDeviceDTReadComplete.
	shortFirstRead        bool
	deviceDescriptorReads int

	lastSetup host.SetupPacket

	reportFunc func() []byte
}

func (g *controlGadget) respond(p *hal.Packet) hal.Completion {
	switch p.EndpointType {
	case hal.EndpointTypeControl:
		if p.ControlStage == hal.ControlStageSetup {
			g.lastSetup = decodeSetup(p.Data)
			return ackOK(len(p.Data))
		}
		if len(p.Data) == 0 {
			return ackOK(0)
		}
		switch {
		case g.lastSetup.Request == host.RequestGetDescriptor && byte(g.lastSetup.Value>>8) == host.DescriptorTypeDevice:
			g.deviceDescriptorReads++
			if g.shortFirstRead && g.deviceDescriptorReads == 1 {
				n := copy(p.Data, g.deviceDescriptor[:8])
				return hal.Completion{Status: pkg.StatusERRSIZ, TransferredLength: n}
			}
			return ackOK(copy(p.Data, g.deviceDescriptor))
		case g.lastSetup.Request == host.RequestGetDescriptor && byte(g.lastSetup.Value>>8) == host.DescriptorTypeConfiguration:
			return ackOK(copy(p.Data, g.configBlob))
		default:
			return ackOK(0)
		}

	case hal.EndpointTypeInterrupt:
		if g.reportFunc == nil {
			return hal.Completion{Status: pkg.StatusEAGAIN}
		}
		return ackOK(copy(p.Data, g.reportFunc()))
	}
	return hal.Completion{Status: pkg.StatusEFATAL}
}

// recordingDriver is a wildcard host.ClassDriver that binds to the first
// interface any device exposes and records the address it was bound at,
// standing in for a real class driver in tests that only care whether
// enumeration reached a bound driver, not which one.
type recordingDriver struct {
	mu    sync.Mutex
	bound []int16
}

func (d *recordingDriver) Info() host.DriverInfo {
	return host.DriverInfo{
		DeviceClass: -1, DeviceSubClass: -1, DeviceProtocol: -1,
		VendorID: -1, ProductID: -1,
		IfaceClass: -1, IfaceSubClass: -1, IfaceProtocol: -1,
	}
}

func (d *recordingDriver) Init(slot *host.DeviceSlot) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bound = append(d.bound, slot.Address)
	return struct{}{}, true
}

func (d *recordingDriver) AnalyzeDescriptor(drvdata any, record []byte) bool { return true }
func (d *recordingDriver) Poll(drvdata any, timeUs uint32)                   {}
func (d *recordingDriver) Remove(drvdata any)                                {}

func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bound)
}

var _ host.ClassDriver = (*recordingDriver)(nil)

// hubGadget answers both the hub's own control/interrupt traffic and, once a
// downstream port reports a connection, the child device's own enumeration —
// enough to drive drivers/hub through power-up, change detection, reset, and
// debounce to a StartEnumeration call.
const (
	hubRequestTypeOtherIn = 0x20 | 0x03 | 0x80 // class | recipient=other | IN

	hubPortStatusConnection = 1 << 0
	hubPortStatusEnable     = 1 << 1
	hubPortStatusLowSpeed   = 1 << 9

	hubPortChangeConnection = 1 << 0
	hubPortChangeReset      = 1 << 4
)

type hubGadget struct {
	hubAddr, childAddr uint8

	hubDeviceDescriptor, hubConfigBlob     []byte
	childDeviceDescriptor, childConfigBlob []byte

	// lowSpeed makes the post-reset port status report the device as
	// low-speed, exercising drivers/hub's rejection path instead of a
	// normal handoff to enumeration.
	lowSpeed bool

	lastSetup       host.SetupPacket
	portStatusCount int

	// changeArmed gates when the hub's status-change endpoint starts
	// reporting a pending change on port 1; left false lets a test drive
	// the hub to a quiescent idle state first.
	changeArmed    bool
	hubChangeCount int

	childReportFunc func() []byte
}

func (g *hubGadget) respond(p *hal.Packet) hal.Completion {
	switch p.EndpointType {
	case hal.EndpointTypeControl:
		if p.ControlStage == hal.ControlStageSetup {
			g.lastSetup = decodeSetup(p.Data)
			return ackOK(len(p.Data))
		}
		if len(p.Data) == 0 {
			return ackOK(0)
		}

		switch {
		case g.lastSetup.Request == host.RequestGetDescriptor && byte(g.lastSetup.Value>>8) == host.DescriptorTypeDevice:
			dd := g.childDeviceDescriptor
			if p.Address == g.hubAddr {
				dd = g.hubDeviceDescriptor
			}
			return ackOK(copy(p.Data, dd))

		case g.lastSetup.Request == host.RequestGetDescriptor && byte(g.lastSetup.Value>>8) == host.DescriptorTypeConfiguration:
			cb := g.childConfigBlob
			if p.Address == g.hubAddr {
				cb = g.hubConfigBlob
			}
			return ackOK(copy(p.Data, cb))

		case g.lastSetup.Request == host.RequestGetDescriptor && byte(g.lastSetup.Value>>8) == host.DescriptorTypeHub:
			return ackOK(copy(p.Data, []byte{7, host.DescriptorTypeHub, 1, 0, 0, 0, 0}))

		case g.lastSetup.RequestType == hubRequestTypeOtherIn && g.lastSetup.Request == host.RequestGetStatus:
			status, change := g.portStatus()
			p.Data[0], p.Data[1] = byte(status), byte(status>>8)
			if len(p.Data) >= 4 {
				p.Data[2], p.Data[3] = byte(change), byte(change>>8)
			}
			return ackOK(4)

		default:
			return ackOK(0)
		}

	case hal.EndpointTypeInterrupt:
		if p.Address == g.hubAddr {
			if !g.changeArmed {
				return ackOK(0)
			}
			g.hubChangeCount++
			if g.hubChangeCount <= 2 {
				p.Data[0] = 0x02 // port 1 changed
				return ackOK(1)
			}
			return ackOK(0)
		}
		if g.childReportFunc != nil {
			return ackOK(copy(p.Data, g.childReportFunc()))
		}
		return hal.Completion{Status: pkg.StatusEAGAIN}
	}
	return hal.Completion{Status: pkg.StatusEFATAL}
}

// portStatus returns the GET_STATUS(port) response for the Nth call: first a
// bare connection change, then (after the hub clears it and resets the
// port) the post-reset enable/speed status, then a steady state with no
// further change.
func (g *hubGadget) portStatus() (status, change uint16) {
	g.portStatusCount++
	status = hubPortStatusConnection
	switch g.portStatusCount {
	case 1:
		return status, hubPortChangeConnection
	case 2:
		status |= hubPortStatusEnable
		if g.lowSpeed {
			status |= hubPortStatusLowSpeed
		}
		return status, hubPortChangeReset
	default:
		status |= hubPortStatusEnable
		if g.lowSpeed {
			status |= hubPortStatusLowSpeed
		}
		return status, 0
	}
}

// --- scenario 1: single full-speed HID mouse --------------------------------

func TestScenario_SingleFullSpeedHIDMouse(t *testing.T) {
	gadget := &controlGadget{
		deviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x1234, 0x0001, 64),
		configBlob:       buildConfigBlob(0x03, 0, 2, 0x81, 0x03, 8),
	}
	lld := &scriptedLLD{speed: hal.SpeedFull, connectTick: 1, respond: gadget.respond}

	driver := hid.New()
	var reports [][]byte
	var mu sync.Mutex
	driver.InMessageHandler = func(id int, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, append([]byte(nil), data...))
	}

	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{driver})
	gadget.reportFunc = func() []byte { return []byte{0, 1, 2, 3, 4, 5, 6, 7} }

	for i := 0; i < 500; i++ {
		h.Poll(uint32(i) * 1000)
		mu.Lock()
		n := len(reports)
		mu.Unlock()
		if n > 0 {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reports)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, reports[0])
}

// --- scenario 2: XBOX 360 wired controller -----------------------------------

func TestScenario_Xbox360Controller(t *testing.T) {
	gadget := &controlGadget{
		deviceDescriptor: buildDeviceDescriptor(0xff, 0xff, 0xff, 0x045e, 0x028e, 64),
		configBlob:       buildConfigBlob(0xff, 93, 0x01, 0x81, 0x03, 32),
	}
	lld := &scriptedLLD{speed: hal.SpeedHigh, connectTick: 1, respond: gadget.respond}

	driver := xbox.New()
	var got xbox.Report
	var updates int
	driver.OnUpdate = func(id int, r xbox.Report) {
		got = r
		updates++
	}

	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{driver})
	report := make([]byte, 20)
	report[3] = 0x10 // buffer[3] bit4 -> ButtonA
	gadget.reportFunc = func() []byte { return report }

	for i := 0; i < 500 && updates == 0; i++ {
		h.Poll(uint32(i) * 1000)
	}

	require.Positive(t, updates)
	assert.NotZero(t, got.Buttons&xbox.ButtonA)
}

// --- scenario 3: hub with one downstream full-speed device ------------------

func TestScenario_HubWithDownstreamFullSpeedDevice(t *testing.T) {
	gadget := &hubGadget{
		hubAddr: 1, childAddr: 2,
		hubDeviceDescriptor:   buildDeviceDescriptor(0x09, 0, 1, 0x0424, 0x2514, 64),
		hubConfigBlob:         buildConfigBlob(0x09, 0, 0, 0x81, 0x03, 1),
		childDeviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x5678, 0x0001, 64),
		childConfigBlob:       buildConfigBlob(0x00, 0, 0, 0x82, 0x03, 8),
		changeArmed:           true,
	}
	lld := &scriptedLLD{speed: hal.SpeedFull, connectTick: 1, respond: gadget.respond}

	rec := &recordingDriver{}
	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{hub.New(), rec})

	var timeUs uint32
	for i := 0; i < 5000 && rec.count() == 0; i++ {
		timeUs += 1000
		h.Poll(timeUs)
	}

	require.Equal(t, 1, rec.count())
	assert.EqualValues(t, 2, rec.bound[0])
}

// --- scenario 4: hub rejects a low-speed downstream device ------------------

func TestScenario_HubRejectsLowSpeedDownstreamDevice(t *testing.T) {
	gadget := &hubGadget{
		hubAddr: 1, childAddr: 2,
		hubDeviceDescriptor:   buildDeviceDescriptor(0x09, 0, 1, 0x0424, 0x2514, 64),
		hubConfigBlob:         buildConfigBlob(0x09, 0, 0, 0x81, 0x03, 1),
		childDeviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x5678, 0x0001, 8),
		childConfigBlob:       buildConfigBlob(0x00, 0, 0, 0x82, 0x03, 8),
		changeArmed:           true,
		lowSpeed:              true,
	}
	lld := &scriptedLLD{speed: hal.SpeedFull, connectTick: 1, respond: gadget.respond}

	rec := &recordingDriver{}
	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{hub.New(), rec})

	var timeUs uint32
	for i := 0; i < 5000; i++ {
		timeUs += 1000
		h.Poll(timeUs)
	}

	assert.Zero(t, rec.count())
}

// --- scenario 5: short DEVICE descriptor response (ERRSIZ) retried ---------

func TestScenario_ShortDeviceDescriptorRetries(t *testing.T) {
	gadget := &controlGadget{
		deviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x1111, 0x2222, 64),
		configBlob:       buildConfigBlob(0, 0, 0, 0x81, 0x03, 8),
		shortFirstRead:   true,
	}
	lld := &scriptedLLD{speed: hal.SpeedFull, connectTick: 1, respond: gadget.respond}

	rec := &recordingDriver{}
	h := host.NewHost([]hal.LowLevelDriver{lld}, []host.ClassDriver{rec})

	for i := 0; i < 500 && rec.count() == 0; i++ {
		h.Poll(uint32(i) * 1000)
	}

	require.Equal(t, 1, rec.count())
	assert.GreaterOrEqual(t, gadget.deviceDescriptorReads, 2)
}

// --- scenario 6: disconnect mid-enumeration must not wedge the host --------

// TestScenario_DisconnectDuringEnumerationUnlocksHost regression-tests
// host.go's PollDisconnected handling: a device that disconnects partway
// through the standard enumeration sequence on one LLD must release the
// bus-wide enumeration lock, or every hub on every other LLD is permanently
// unable to hand a freshly reset downstream port to enumeration.
func TestScenario_DisconnectDuringEnumerationUnlocksHost(t *testing.T) {
	hubGad := &hubGadget{
		hubAddr: 1, childAddr: 2,
		hubDeviceDescriptor:   buildDeviceDescriptor(0x09, 0, 1, 0x0424, 0x2514, 64),
		hubConfigBlob:         buildConfigBlob(0x09, 0, 0, 0x81, 0x03, 1),
		childDeviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x5678, 0x0001, 64),
		childConfigBlob:       buildConfigBlob(0x00, 0, 0, 0x82, 0x03, 8),
	}
	hubLLD := &scriptedLLD{speed: hal.SpeedFull, connectTick: 1, respond: hubGad.respond}

	faultyGad := &controlGadget{
		deviceDescriptor: buildDeviceDescriptor(0, 0, 0, 0x9999, 0x0001, 64),
		configBlob:       buildConfigBlob(0, 0, 0, 0x81, 0x03, 8),
	}
	faultyLLD := &scriptedLLD{speed: hal.SpeedFull, connectTick: 40, disconnectTick: 42, respond: faultyGad.respond}

	rec := &recordingDriver{}
	h := host.NewHost([]hal.LowLevelDriver{hubLLD, faultyLLD}, []host.ClassDriver{hub.New(), rec})

	var timeUs uint32
	for i := 0; i < 60; i++ {
		timeUs += 1000
		h.Poll(timeUs)
	}

	// The hub finished its own enumeration and went idle long before the
	// faulty device's disconnect; the faulty device's interrupted
	// enumeration must not leave the bus-wide lock held.
	require.True(t, h.EnumAvailable())
	require.Zero(t, rec.count())

	hubGad.changeArmed = true
	for i := 0; i < 5000 && rec.count() == 0; i++ {
		timeUs += 1000
		h.Poll(timeUs)
	}

	require.Equal(t, 1, rec.count())
	assert.EqualValues(t, 2, rec.bound[0])
}
