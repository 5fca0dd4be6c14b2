package midi

import (
	"testing"

	"github.com/ardnew/softusb/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointDescriptor(addr, attrs uint8, maxPacket uint16) []byte {
	return []byte{7, host.DescriptorTypeEndpoint, addr, attrs, byte(maxPacket), byte(maxPacket >> 8), 0}
}

func TestDriver_Info(t *testing.T) {
	d := New()
	info := d.Info()
	assert.EqualValues(t, audioClassCode, info.IfaceClass)
	assert.EqualValues(t, midiStreamingSubclassCode, info.IfaceSubClass)
	assert.EqualValues(t, -1, info.IfaceProtocol)
}

func TestDriver_AnalyzeDescriptor_INOnlyIsSufficient(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)

	ready := d.AnalyzeDescriptor(mi, endpointDescriptor(0x81, 0x02, 64))
	assert.True(t, ready)
	assert.EqualValues(t, 1, mi.inEPAddress)
	assert.Zero(t, mi.outEPAddress)
}

func TestDriver_AnalyzeDescriptor_InterruptEndpointIgnored(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)

	ready := d.AnalyzeDescriptor(mi, endpointDescriptor(0x81, 0x03, 64))
	assert.False(t, ready)
	assert.Zero(t, mi.inEPAddress)
}

func TestDriver_AnalyzeDescriptor_OUTBeforeIN(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)

	ready := d.AnalyzeDescriptor(mi, endpointDescriptor(0x01, 0x02, 64))
	assert.False(t, ready)
	assert.EqualValues(t, 1, mi.outEPAddress)

	ready = d.AnalyzeDescriptor(mi, endpointDescriptor(0x82, 0x02, 64))
	assert.True(t, ready)
	assert.EqualValues(t, 2, mi.inEPAddress)
}

func TestMidiInstance_Dispatch(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)

	// Two 4-byte USB-MIDI events: Note On ch0 (0x09 CIN) and Note Off (0x08).
	copy(mi.inBuf[:8], []byte{
		0x09, 0x90, 0x40, 0x7f,
		0x08, 0x80, 0x40, 0x00,
	})

	var payloads [][]byte
	d.InMessageHandler = func(deviceID int, data []byte) {
		payloads = append(payloads, append([]byte(nil), data...))
	}

	mi.dispatch(8)

	require.Len(t, payloads, 2)
	assert.Equal(t, []byte{0x90, 0x40, 0x7f}, payloads[0])
	assert.Equal(t, []byte{0x80, 0x40, 0x00}, payloads[1])
}

func TestMidiInstance_Dispatch_TrailingPartialEventIgnored(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)
	copy(mi.inBuf[:6], []byte{0x09, 0x90, 0x40, 0x7f, 0x08, 0x80})

	var count int
	d.InMessageHandler = func(int, []byte) { count++ }

	mi.dispatch(6)

	assert.Equal(t, 1, count)
}

func TestMidiInstance_Send_NoOutEndpointIsNoop(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	mi := drvdata.(*midiInstance)

	assert.NotPanics(t, func() {
		mi.Send([]byte{0x09, 0x90, 0x40, 0x7f}, nil, nil)
	})
}

func TestDriver_InitPoolExhausted(t *testing.T) {
	d := New()
	for i := 0; i < host.MaxMidiDevices; i++ {
		_, ok := d.Init(&host.DeviceSlot{})
		require.True(t, ok)
	}
	_, ok := d.Init(&host.DeviceSlot{})
	assert.False(t, ok)
}

var _ host.ClassDriver = (*Driver)(nil)
