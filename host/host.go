// Package host implements the USB host-side enumeration and dispatch core:
// a device table per low-level driver (LLD), the standard enumeration state
// machine, and a wildcard-tolerant class-driver registry. The core never
// blocks; Host.Poll is the single external entry point driving every state
// machine forward one tick at a time.
package host

import (
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// enumerationContext holds the state that, in the original C source, lived
// in package-level globals: whether a device currently occupies the Default
// address, and the address it is being assigned. Collecting it into
// a struct owned by Host keeps multiple Hosts (e.g. in tests) independent.
type enumerationContext struct {
	run              bool
	addressTemporary int16
}

// Host owns a set of low-level drivers and a registry of class drivers, and
// drives enumeration and per-device polling for all of them.
type Host struct {
	llds    []hal.LowLevelDriver
	tables  []*DeviceTable
	drivers []ClassDriver

	enumCtx      enumerationContext
	enumCallback hal.Callback
}

// HostBinder is implemented by class drivers that need to issue transfers or
// manage child slots beyond what their bound *DeviceSlot alone allows
// (drivers/hub, drivers/hid, drivers/xbox, and drivers/midi all implement
// it). NewHost calls BindHost on every driver in its list that implements
// this interface, before any LLD is initialized, so a driver's exported
// IssueX/FreeDevice/RemoveDevice calls are always safe to make from its
// Init/Poll/Remove methods onward. A driver constructed with New(...) and
// never bound this way would otherwise need its *Host before NewHost could
// be called with that same driver in its list; BindHost breaks that cycle by
// letting the driver be constructed first, with a nil or zero-value host,
// and wired up after.
type HostBinder interface {
	BindHost(h *Host)
}

// NewHost constructs a Host over the given LLDs and class drivers. Both
// slices are stored in order: drivers are tried in registration order by
// findDriver, and each LLD's device table is initialized (every slot freed)
// before Init is called on it. Drivers implementing HostBinder are bound to
// h before any LLD is touched.
func NewHost(llds []hal.LowLevelDriver, drivers []ClassDriver) *Host {
	h := &Host{
		llds:    llds,
		drivers: drivers,
		tables:  make([]*DeviceTable, len(llds)),
	}
	h.enumCallback = h.handleEnumCompletion

	for _, d := range drivers {
		if binder, ok := d.(HostBinder); ok {
			binder.BindHost(h)
		}
	}

	for i, lld := range llds {
		table := &DeviceTable{}
		table.reset(i)
		h.tables[i] = table

		if err := lld.Init(); err != nil {
			pkg.LogError(pkg.ComponentHost, "low-level driver init failed", "index", i, "error", err)
		}
	}

	return h
}

// EnumAvailable reports whether no device currently occupies the Default
// address on any LLD. A second device's enumeration cannot start while this
// is false.
func (h *Host) EnumAvailable() bool {
	return !h.enumCtx.run
}

// Poll advances every LLD by one tick: it surfaces at most one root-port
// connect/disconnect transition per LLD, delivers queued packet completions
// (which drive the enumeration state machine and, transitively, any bound
// driver's own continuation), and then polls the root slot's bound driver
// exactly once. timeUs is a free-running microsecond counter; it may wrap.
func (h *Host) Poll(timeUs uint32) {
	for i, lld := range h.llds {
		table := h.tables[i]
		root := &table.Slots[0]

		switch lld.Poll(timeUs) {
		case hal.PollConnected:
			pkg.LogInfo(pkg.ComponentHost, "device connected", "lld", i)
			root.lldIndex = i
			root.Speed = lld.RootSpeed()
			root.Address = 1
			h.startEnumeration(root, i)

		case hal.PollDisconnected:
			pkg.LogInfo(pkg.ComponentHost, "device disconnected", "lld", i)
			if h.enumCtx.run && root.state != enumStateIdle {
				h.enumCtx.run = false
			}
			h.RemoveDevice(root)
			root.state = enumStateIdle
			for j := 1; j < MaxDevices; j++ {
				table.Slots[j] = DeviceSlot{Address: -1, lldIndex: i}
			}
		}

		if root.Driver != nil && root.DriverData != nil {
			root.Driver.Poll(root.DriverData, timeUs)
		}
	}
}

// slot resolves a (lldIndex, slotIndex) coordinate pair to its DeviceSlot.
// Nothing in this repository calls it: driver-private state holds a
// *DeviceSlot pointer rather than these coordinates.
func (h *Host) slot(lldIndex, slotIndex int) *DeviceSlot {
	return &h.tables[lldIndex].Slots[slotIndex]
}

// freeDevice allocates a free slot from the device table of the LLD owning
// parent, assigning it the slot's index+1 as a provisional address. Returns
// nil if the table is full.
func (h *Host) freeDevice(parent *DeviceSlot) *DeviceSlot {
	return h.tables[parent.lldIndex].getFreeDevice()
}
