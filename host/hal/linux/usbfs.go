//go:build linux

package linux

import (
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"golang.org/x/sys/unix"
)

// =============================================================================
// URB (USB Request Block) Structures
// =============================================================================

// urb mirrors the kernel's struct usbdevfs_urb.
type urb struct {
	typ          uint8
	endpoint     uint8
	status       int32
	flags        uint32
	buffer       uintptr
	bufferLength int32
	actualLength int32
	startFrame   int32
	streamID     uint32
	errorCount   int32
	signr        uint32
	userContext  uintptr
	isoFrameDesc [0]isoPacketDesc
}

// isoPacketDesc describes an isochronous packet; unused (isochronous transfer
// is a stated Non-goal) but kept so urb's layout matches the kernel struct.
type isoPacketDesc struct {
	length       uint32
	actualLength uint32
	status       uint32
}

// ctrlTransfer mirrors the kernel's struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32
	data        uintptr
}

// bulkTransfer mirrors the kernel's struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32
	data     uintptr
}

// connectInfo mirrors the kernel's struct usbdevfs_connectinfo.
type connectInfo struct {
	devnum uint32
	slow   uint8
}

// =============================================================================
// Ioctl numbers
//
// Built with goioctl instead of hand-encoding the _IOC bit layout per
// architecture: the direction/type/number/size packing differs between arm,
// mips, and the rest, and goioctl already carries that table.
// =============================================================================

var (
	ioctlUsbdevfsControl          = ioctl.IOWR('U', 0, unsafe.Sizeof(ctrlTransfer{}))
	ioctlUsbdevfsBulk             = ioctl.IOWR('U', 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlUsbdevfsResetEP          = ioctl.IOR('U', 3, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsSubmitURB        = ioctl.IOR('U', 10, unsafe.Sizeof(urb{}))
	ioctlUsbdevfsDiscardURB       = ioctl.IO('U', 11)
	ioctlUsbdevfsReapURB          = ioctl.IOW('U', 12, unsafe.Sizeof(uintptr(0)))
	ioctlUsbdevfsReapURBNDelay    = ioctl.IOW('U', 13, unsafe.Sizeof(uintptr(0)))
	ioctlUsbdevfsClaimInterface   = ioctl.IOR('U', 15, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsReleaseInterface = ioctl.IOR('U', 16, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsConnectInfo      = ioctl.IOW('U', 17, unsafe.Sizeof(connectInfo{}))
	ioctlUsbdevfsReset            = ioctl.IO('U', 20)
	ioctlUsbdevfsDisconnect       = ioctl.IO('U', 22)
	ioctlUsbdevfsConnect          = ioctl.IO('U', 23)
	ioctlUsbdevfsGetCapabilities  = ioctl.IOR('U', 26, unsafe.Sizeof(uint32(0)))
)

// =============================================================================
// Raw syscall wrappers
// =============================================================================

func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func closeDevice(fd int) error {
	return unix.Close(fd)
}

func ioctlRaw(fd int, req uint32, arg uintptr) error {
	return unix.IoctlSetInt(fd, req, int(arg))
}

// ioctlPtr issues an ioctl whose third argument is a pointer, which
// IoctlSetInt's int-only signature can't carry.
func ioctlPtr(fd int, req uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlPtrRetval(fd int, req uint32, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

// =============================================================================
// USBDEVFS operations
// =============================================================================

func doControlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeout uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     timeout,
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlPtrRetval(fd, ioctlUsbdevfsControl, unsafe.Pointer(&ctrl))
}

func claimInterface(fd int, iface uint8) error {
	ifaceNum := uint32(iface)
	return ioctlPtr(fd, ioctlUsbdevfsClaimInterface, unsafe.Pointer(&ifaceNum))
}

func releaseInterface(fd int, iface uint8) error {
	ifaceNum := uint32(iface)
	return ioctlPtr(fd, ioctlUsbdevfsReleaseInterface, unsafe.Pointer(&ifaceNum))
}

func disconnectDriver(fd int, iface uint8) error {
	ifaceNum := uint32(iface)
	return ioctlPtr(fd, ioctlUsbdevfsDisconnect, unsafe.Pointer(&ifaceNum))
}

func resetDevice(fd int) error {
	return ioctlRaw(fd, ioctlUsbdevfsReset, 0)
}

func getConnectInfo(fd int) (connectInfo, error) {
	var info connectInfo
	err := ioctlPtr(fd, ioctlUsbdevfsConnectInfo, unsafe.Pointer(&info))
	return info, err
}

// =============================================================================
// Async URB operations
//
// submitURB/reapURBNDelay never block: submission enqueues the transfer with
// the kernel, and reap is the _NDELAY variant, returning EAGAIN immediately
// when nothing has completed. This is what lets LowLevelDriver.Poll drain
// completions without ever blocking the caller.
// =============================================================================

func submitURB(fd int, u *urb) error {
	return ioctlPtr(fd, ioctlUsbdevfsSubmitURB, unsafe.Pointer(u))
}

func reapURBNDelay(fd int) (*urb, error) {
	var urbPtr *urb
	err := ioctlPtr(fd, ioctlUsbdevfsReapURBNDelay, unsafe.Pointer(&urbPtr))
	if err != nil {
		return nil, err
	}
	return urbPtr, nil
}

func discardURB(fd int, u *urb) error {
	return ioctlPtr(fd, ioctlUsbdevfsDiscardURB, unsafe.Pointer(u))
}

func initBulkURB(u *urb, endpoint uint8, data []byte, userContext uintptr) {
	u.typ = URBTypeBulk
	u.endpoint = endpoint
	u.flags = 0
	u.status = 0
	u.bufferLength = int32(len(data))
	u.userContext = userContext
	if len(data) > 0 {
		u.buffer = uintptr(unsafe.Pointer(&data[0]))
	}
}

func initInterruptURB(u *urb, endpoint uint8, data []byte, userContext uintptr) {
	u.typ = URBTypeInterrupt
	u.endpoint = endpoint
	u.flags = 0
	u.status = 0
	u.bufferLength = int32(len(data))
	u.userContext = userContext
	if len(data) > 0 {
		u.buffer = uintptr(unsafe.Pointer(&data[0]))
	}
}

// =============================================================================
// Error helpers
// =============================================================================

func isNoDevice(err error) bool { return err == unix.ENODEV }
func isAgain(err error) bool    { return err == unix.EAGAIN }
func isPipe(err error) bool     { return err == unix.EPIPE }
func isNoData(err error) bool   { return err == unix.ENODATA }
