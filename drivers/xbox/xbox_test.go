package xbox

import (
	"testing"

	"github.com/ardnew/softusb/host"
	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver_Info(t *testing.T) {
	d := New()
	info := d.Info()
	assert.EqualValues(t, 0x045e, info.VendorID)
	assert.EqualValues(t, 0x028e, info.ProductID)
	assert.EqualValues(t, 93, info.IfaceSubClass)
}

func TestDriver_InitPoolExhausted(t *testing.T) {
	d := New()
	for i := 0; i < host.MaxXboxDevices; i++ {
		_, ok := d.Init(&host.DeviceSlot{})
		require.True(t, ok)
	}
	_, ok := d.Init(&host.DeviceSlot{})
	assert.False(t, ok)
}

func TestXboxInstance_Decode_Buttons(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	xi := drvdata.(*xboxInstance)

	// byte 2: DPad top (bit0) + start (bit4); byte 3: A (bit4) + LT (bit0)
	xi.buffer[2] = 1<<0 | 1<<4
	xi.buffer[3] = 1<<4 | 1<<0

	var got Report
	var gotID int
	d.OnUpdate = func(deviceID int, r Report) {
		gotID = deviceID
		got = r
	}

	xi.decode()

	assert.Equal(t, 0, gotID)
	assert.NotZero(t, got.Buttons&ButtonDPadTop)
	assert.NotZero(t, got.Buttons&ButtonStart)
	assert.NotZero(t, got.Buttons&ButtonA)
	assert.NotZero(t, got.Buttons&ButtonLT)
	assert.Zero(t, got.Buttons&ButtonB)
}

func TestXboxInstance_Decode_Axes(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	xi := drvdata.(*xboxInstance)

	xi.buffer[4] = 0x11 // rear left
	xi.buffer[5] = 0x22 // rear right
	xi.buffer[6], xi.buffer[7] = 0x00, 0x80   // left X = -32768
	xi.buffer[8], xi.buffer[9] = 0xff, 0x7f   // left Y = 32767
	xi.buffer[10], xi.buffer[11] = 0x00, 0x00 // right X = 0
	xi.buffer[12], xi.buffer[13] = 0x01, 0x00 // right Y = 1

	xi.decode()

	assert.EqualValues(t, 0x11, xi.Report.AxisRearLeft)
	assert.EqualValues(t, 0x22, xi.Report.AxisRearRight)
	assert.EqualValues(t, -32768, xi.Report.AxisLeftX)
	assert.EqualValues(t, 32767, xi.Report.AxisLeftY)
	assert.EqualValues(t, 0, xi.Report.AxisRightX)
	assert.EqualValues(t, 1, xi.Report.AxisRightY)
}

func TestXboxInstance_OnComplete_ShortReadStillDecodes(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	xi := drvdata.(*xboxInstance)
	xi.state = stateReadingComplete

	var fired bool
	d.OnUpdate = func(int, Report) { fired = true }

	xi.onComplete(xi, hal.Completion{Status: pkg.StatusERRSIZ, TransferredLength: reportLength})

	assert.True(t, fired)
	assert.Equal(t, stateReadingRequest, xi.state)
}

func TestXboxInstance_OnComplete_ShortReadWrongLengthSkipsDecode(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	xi := drvdata.(*xboxInstance)
	xi.state = stateReadingComplete

	var fired bool
	d.OnUpdate = func(int, Report) { fired = true }

	xi.onComplete(xi, hal.Completion{Status: pkg.StatusERRSIZ, TransferredLength: reportLength - 1})

	assert.False(t, fired)
	assert.Equal(t, stateReadingRequest, xi.state)
}

func TestDriver_Remove_FiresOnDisconnected(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	xi := drvdata.(*xboxInstance)

	var gotID int
	d.OnDisconnected = func(deviceID int) { gotID = deviceID }

	d.Remove(xi)

	assert.Equal(t, 0, gotID)
	assert.False(t, xi.inUse)
}

var _ host.ClassDriver = (*Driver)(nil)
