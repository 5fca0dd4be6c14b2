//go:build linux

package linux

import (
	"bytes"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// =============================================================================
// UEvent types
// =============================================================================

type ueventAction uint8

const (
	ueventUnknown ueventAction = iota
	ueventAdd
	ueventRemove
	ueventChange
	ueventBind
	ueventUnbind
)

// uevent is a parsed netlink uevent.
type uevent struct {
	action    ueventAction
	devpath   string
	subsystem string
	devtype   string
}

// =============================================================================
// Hotplug monitor
//
// Backed by a netlink socket, read from the same epoll goroutine as URB
// completions (poller.run): the socket fd is just another fd in the epoll
// set, so no second background goroutine is needed.
// =============================================================================

type hotplugMonitor struct {
	fd  int
	buf [UEventBufferSize]byte
}

func newHotplugMonitor() (*hotplugMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, NetlinkKObjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &hotplugMonitor{fd: fd}, nil
}

func (h *hotplugMonitor) close() error {
	return unix.Close(h.fd)
}

func (h *hotplugMonitor) socketFD() int {
	return h.fd
}

// processEvent reads one pending uevent from the socket without blocking.
// handled is false when no data is available (or on a read error). An
// event not classified as a USB device add or remove is reported with a
// nil info and handled true, so the caller can keep draining.
func (h *hotplugMonitor) processEvent() (info *usbDeviceInfo, isAdd, handled bool, err error) {
	n, rerr := unix.Read(h.fd, h.buf[:])
	if rerr != nil {
		if rerr == unix.EAGAIN {
			return nil, false, false, nil
		}
		return nil, false, false, rerr
	}
	if n <= 0 {
		return nil, false, false, nil
	}

	evt := parseUEvent(h.buf[:n])
	if evt.subsystem != "usb" || evt.devtype != "usb_device" {
		return nil, false, true, nil
	}

	sysfsPath := filepath.Join(SysfsUSBPath, filepath.Base(evt.devpath))

	switch evt.action {
	case ueventAdd:
		parsed, perr := parseUSBDevice(sysfsPath)
		if perr != nil {
			return nil, false, true, nil
		}
		return &parsed, true, true, nil

	case ueventRemove:
		parsed := usbDeviceInfo{sysfsPath: sysfsPath}
		if busNum, devNum, ok := parseSysfsDevicePath(sysfsPath); ok {
			parsed.busNum = busNum
			parsed.devNum = devNum
			parsed.devfsPath = formatDevfsPath(busNum, devNum)
		}
		return &parsed, false, true, nil
	}

	return nil, false, true, nil
}

// =============================================================================
// UEvent parsing
// =============================================================================

func parseUEvent(data []byte) uevent {
	evt := uevent{}

	for _, line := range bytes.Split(data, []byte{0}) {
		if len(line) == 0 {
			continue
		}
		s := string(line)

		idx := strings.IndexByte(s, '=')
		if idx < 0 {
			switch {
			case strings.HasPrefix(s, "add@"):
				evt.action, evt.devpath = ueventAdd, s[4:]
			case strings.HasPrefix(s, "remove@"):
				evt.action, evt.devpath = ueventRemove, s[7:]
			case strings.HasPrefix(s, "change@"):
				evt.action, evt.devpath = ueventChange, s[7:]
			case strings.HasPrefix(s, "bind@"):
				evt.action, evt.devpath = ueventBind, s[5:]
			case strings.HasPrefix(s, "unbind@"):
				evt.action, evt.devpath = ueventUnbind, s[7:]
			}
			continue
		}

		key, value := s[:idx], s[idx+1:]
		switch key {
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		case "DEVTYPE":
			evt.devtype = value
		}
	}

	return evt
}
