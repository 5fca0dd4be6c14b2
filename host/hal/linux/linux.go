//go:build linux

// Package linux implements a hal.LowLevelDriver over Linux's usbfs, using
// async USBDEVFS_SUBMITURB/USBDEVFS_REAPURBNDELAY and a netlink hotplug
// socket. Like the fifo LLD, it models a single connected device per
// instance: the kernel has already enumerated the physical bus and assigned
// addresses, so this driver's job is exposing one such device node as a
// packet transport, not re-deriving USB topology. A caller wanting several
// concrete devices visible to the host core runs one LowLevelDriver per
// device and registers each with host.NewHost.
package linux

import (
	"fmt"
	"sync"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// Filter narrows which usbfs device this driver attaches to. A zero value
// matches the first USB device discovered by scan or hotplug.
type Filter struct {
	VendorID  uint16
	ProductID uint16
}

func (f Filter) matches(info usbDeviceInfo) bool {
	if f.VendorID != 0 && f.VendorID != info.vendorID {
		return false
	}
	if f.ProductID != 0 && f.ProductID != info.productID {
		return false
	}
	return true
}

// LowLevelDriver implements hal.LowLevelDriver over a single usbfs device
// node. Init opens the poller and hotplug socket; Poll surfaces connect and
// disconnect transitions and drains completed URBs.
type LowLevelDriver struct {
	filter Filter

	poller  *poller
	hotplug *hotplugMonitor

	mu     sync.Mutex
	device *deviceConn
}

// New creates a Linux usbfs LLD. filter narrows which device is adopted when
// more than one is present; the zero Filter adopts the first device seen.
func New(filter Filter) *LowLevelDriver {
	return &LowLevelDriver{filter: filter}
}

// Init opens the epoll poller and netlink hotplug socket. It does not block
// waiting for a device: that happens incrementally across Poll calls.
func (l *LowLevelDriver) Init() error {
	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("linux: create poller: %w", err)
	}
	l.poller = p

	hp, err := newHotplugMonitor()
	if err != nil {
		l.poller.close()
		return fmt.Errorf("linux: create hotplug monitor: %w", err)
	}
	l.hotplug = hp

	if err := l.poller.addFD(hp.socketFD(), EPOLLIN); err != nil {
		l.hotplug.close()
		l.poller.close()
		return fmt.Errorf("linux: watch hotplug socket: %w", err)
	}

	pkg.LogInfo(pkg.ComponentLinuxHAL, "initialized")
	return nil
}

// RootSpeed reports the connected device's negotiated speed.
func (l *LowLevelDriver) RootSpeed() hal.Speed {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.device == nil {
		return hal.SpeedFull
	}
	return l.device.info.speed
}

// Poll drains the epoll goroutine's ready queue: hotplug events are
// processed inline, device-fd readiness triggers a URB reap pass. At most
// one connect/disconnect transition is reported per call.
func (l *LowLevelDriver) Poll(timeUs uint32) hal.PollStatus {
	status := hal.PollNone

	l.poller.drain(func(fd int, events uint32) {
		if l.hotplug != nil && fd == l.hotplug.socketFD() {
			l.drainHotplug(&status)
			return
		}
		l.mu.Lock()
		conn := l.device
		l.mu.Unlock()
		if conn == nil || fd != conn.fd {
			return
		}
		if events&EPOLLERR != 0 || events&EPOLLHUP != 0 {
			conn.handleENODEV()
			return
		}
		l.reapCompletions(conn)
	})

	if l.device == nil {
		if conn := l.scanExisting(); conn != nil {
			l.adopt(conn)
			status = hal.PollConnected
		}
	} else if l.device.isDisconnected() {
		l.release()
		status = hal.PollDisconnected
	}

	return status
}

func (l *LowLevelDriver) drainHotplug(status *hal.PollStatus) {
	for {
		info, isAdd, handled, err := l.hotplug.processEvent()
		if err != nil || !handled {
			return
		}
		if info == nil {
			continue
		}
		if isAdd {
			if l.device != nil || !l.filter.matches(*info) {
				continue
			}
			conn, err := newDeviceConn(*info)
			if err != nil {
				pkg.LogWarn(pkg.ComponentLinuxHAL, "failed to open device", "error", err)
				continue
			}
			l.adopt(conn)
			*status = hal.PollConnected
		} else {
			l.mu.Lock()
			cur := l.device
			l.mu.Unlock()
			if cur != nil && cur.info.busNum == info.busNum && cur.info.devNum == info.devNum {
				cur.markDisconnected()
			}
		}
	}
}

func (l *LowLevelDriver) scanExisting() *deviceConn {
	devices, err := scanUSBDevices()
	if err != nil {
		return nil
	}
	for _, info := range devices {
		if l.filter.matches(info) {
			conn, err := newDeviceConn(info)
			if err != nil {
				continue
			}
			return conn
		}
	}
	return nil
}

func (l *LowLevelDriver) adopt(conn *deviceConn) {
	l.mu.Lock()
	l.device = conn
	l.mu.Unlock()
	l.poller.addFD(conn.fd, EPOLLIN)
	pkg.LogInfo(pkg.ComponentLinuxHAL, "device connected", "vid", conn.info.vendorID, "pid", conn.info.productID)
}

func (l *LowLevelDriver) release() {
	l.mu.Lock()
	conn := l.device
	l.device = nil
	l.mu.Unlock()
	if conn == nil {
		return
	}
	l.poller.delFD(conn.fd)
	conn.close()
	pkg.LogInfo(pkg.ComponentLinuxHAL, "device disconnected")
}

func (l *LowLevelDriver) reapCompletions(conn *deviceConn) {
	for {
		p, completion, ok := conn.reap()
		if !ok {
			return
		}
		if p.Callback != nil {
			p.Callback(p.CallbackArg, completion)
		}
	}
}

// Write submits an OUT (or control SETUP/status) packet. Completion arrives
// from a later Poll call once the kernel reaps the URB.
func (l *LowLevelDriver) Write(p *hal.Packet) {
	l.submit(p, false)
}

// Read submits an IN packet.
func (l *LowLevelDriver) Read(p *hal.Packet) {
	l.submit(p, true)
}

func (l *LowLevelDriver) submit(p *hal.Packet, in bool) {
	l.mu.Lock()
	conn := l.device
	l.mu.Unlock()

	if conn == nil || conn.isDisconnected() {
		if p.Callback != nil {
			p.Callback(p.CallbackArg, hal.Completion{Status: pkg.StatusEFATAL})
		}
		return
	}

	if p.EndpointType == hal.EndpointTypeControl {
		// usbfs exposes control transfers as a single URB covering
		// setup+data+status; translate the core's two-phase SETUP/DATA
		// packet pair onto it lazily on the DATA phase, since that's when
		// the full request (direction, length) is known. The SETUP phase
		// alone just stages the 8 setup bytes and completes immediately.
		if p.ControlStage == hal.ControlStageSetup {
			conn.stageSetup(p.Data)
			if p.Callback != nil {
				p.Callback(p.CallbackArg, hal.Completion{Status: pkg.StatusOK})
			}
			return
		}

		if err := conn.submitControl(p, in); err != nil {
			if isNoDevice(err) {
				conn.handleENODEV()
			}
			if p.Callback != nil {
				p.Callback(p.CallbackArg, hal.Completion{Status: pkg.StatusEFATAL})
			}
		}
		return
	}

	if err := conn.submitPacket(p, in); err != nil {
		if isNoDevice(err) {
			conn.handleENODEV()
		}
		if p.Callback != nil {
			p.Callback(p.CallbackArg, hal.Completion{Status: pkg.StatusEFATAL})
		}
	}
}

var _ hal.LowLevelDriver = (*LowLevelDriver)(nil)
