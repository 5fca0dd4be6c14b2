package hid

import (
	"testing"

	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configDescriptor(configValue uint8) []byte {
	return []byte{9, host.DescriptorTypeConfiguration, 0, 0, 1, configValue, 0, 0, 0}
}

func endpointDescriptor(addr, attrs uint8, maxPacket uint16) []byte {
	return []byte{7, host.DescriptorTypeEndpoint, addr, attrs, byte(maxPacket), byte(maxPacket >> 8), 10}
}

func TestDriver_Info(t *testing.T) {
	d := New()
	info := d.Info()
	assert.EqualValues(t, ifaceClassHID, info.IfaceClass)
	assert.EqualValues(t, -1, info.DeviceClass)
	assert.EqualValues(t, -1, info.VendorID)
	assert.EqualValues(t, -1, info.IfaceProtocol)
}

func TestDriver_InitFillsPool(t *testing.T) {
	d := New()
	slot := &host.DeviceSlot{Address: 1}

	drvdata, ok := d.Init(slot)
	require.True(t, ok)
	hi := drvdata.(*hidInstance)
	assert.True(t, hi.inUse)
	assert.Same(t, slot, hi.slot)
	assert.Equal(t, stateInactive, hi.state)
}

func TestDriver_InitPoolExhausted(t *testing.T) {
	d := New()
	for i := 0; i < host.MaxHidDevices; i++ {
		_, ok := d.Init(&host.DeviceSlot{})
		require.True(t, ok)
	}
	_, ok := d.Init(&host.DeviceSlot{})
	assert.False(t, ok)
}

func TestDriver_AnalyzeDescriptor(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hidInstance)

	assert.False(t, d.AnalyzeDescriptor(hi, configDescriptor(1)))
	assert.Equal(t, uint8(1), hi.configurationValue)

	// A non-interrupt (bulk) IN endpoint must not configure the driver.
	assert.False(t, d.AnalyzeDescriptor(hi, endpointDescriptor(0x81, 0x02, 64)))
	assert.Zero(t, hi.inEPAddress)

	// Interrupt IN endpoint 1 completes analysis.
	assert.True(t, d.AnalyzeDescriptor(hi, endpointDescriptor(0x81, 0x03, 8)))
	assert.EqualValues(t, 1, hi.inEPAddress)
	assert.EqualValues(t, 8, hi.inEPMaxPacket)
	assert.Equal(t, stateSetConfigurationRequest, hi.state)
}

func TestDriver_AnalyzeDescriptor_CapsOversizedReport(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hidInstance)

	d.AnalyzeDescriptor(hi, endpointDescriptor(0x82, 0x03, 255))
	assert.EqualValues(t, MaxReportSize, hi.inEPMaxPacket)
}

func TestDriver_Remove(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hidInstance)
	hi.state = stateReadingRequest
	hi.inEPAddress = 1

	d.Remove(hi)

	assert.False(t, hi.inUse)
	assert.Equal(t, stateInactive, hi.state)
	assert.Zero(t, hi.inEPAddress)
}

func TestHidInstance_OnComplete_ReportFiresHandler(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hidInstance)
	hi.inEPMaxPacket = 4
	hi.state = stateReadingComplete
	copy(hi.ReportBuf[:4], []byte{1, 2, 3, 4})

	var gotID int
	var gotData []byte
	d.InMessageHandler = func(deviceID int, data []byte) {
		gotID = deviceID
		gotData = append([]byte(nil), data...)
	}

	hi.onComplete(hi, hal.Completion{Status: pkg.StatusOK, TransferredLength: 4})

	assert.Equal(t, stateReadingRequest, hi.state)
	assert.Equal(t, 0, gotID)
	assert.Equal(t, []byte{1, 2, 3, 4}, gotData)
}

func TestHidInstance_OnComplete_FatalAbandonsDevice(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hidInstance)
	hi.state = stateReadingComplete

	hi.onComplete(hi, hal.Completion{Status: pkg.StatusEFATAL})

	assert.Equal(t, stateInactive, hi.state)
}

func TestHidInstance_DeviceID(t *testing.T) {
	d := New()
	drvdata1, _ := d.Init(&host.DeviceSlot{})
	drvdata2, _ := d.Init(&host.DeviceSlot{})
	hi1 := drvdata1.(*hidInstance)
	hi2 := drvdata2.(*hidInstance)

	assert.Equal(t, 0, hi1.deviceID())
	assert.Equal(t, 1, hi2.deviceID())
}

var _ host.ClassDriver = (*Driver)(nil)
