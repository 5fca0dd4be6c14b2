package hub

import (
	"testing"

	"github.com/ardnew/softusb/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointDescriptor(addr, attrs uint8, maxPacket uint16) []byte {
	return []byte{7, host.DescriptorTypeEndpoint, addr, attrs, byte(maxPacket), byte(maxPacket >> 8), 12}
}

func hubDescriptor(numPorts uint8) []byte {
	return []byte{9, host.DescriptorTypeHub, numPorts, 0, 0, 0, 0, 0, 0}
}

func TestDriver_Info(t *testing.T) {
	d := New()
	info := d.Info()
	assert.EqualValues(t, deviceClassHub, info.DeviceClass)
	assert.EqualValues(t, -1, info.VendorID)
}

func TestDriver_InitPoolExhausted(t *testing.T) {
	d := New()
	for i := 0; i < host.MaxHubs; i++ {
		_, ok := d.Init(&host.DeviceSlot{})
		require.True(t, ok)
	}
	_, ok := d.Init(&host.DeviceSlot{})
	assert.False(t, ok)
}

func TestDriver_AnalyzeDescriptor_HubDescriptorCapsPorts(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hubInstance)

	ready := d.AnalyzeDescriptor(hi, hubDescriptor(host.HubMaxPorts+5))
	assert.False(t, ready)
	assert.Equal(t, host.HubMaxPorts, hi.portsNum)
}

func TestDriver_AnalyzeDescriptor_InterruptInEndpointReady(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hubInstance)

	assert.False(t, d.AnalyzeDescriptor(hi, endpointDescriptor(0x01, 0x02, 64)))
	assert.True(t, d.AnalyzeDescriptor(hi, endpointDescriptor(0x81, 0x03, 1)))
	assert.EqualValues(t, 1, hi.inEPAddress)
}

func TestDriver_RemoveClearsChildren(t *testing.T) {
	h := host.NewHost(nil, nil)
	d := New()
	d.BindHost(h)
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hubInstance)
	hi.children[1] = &host.DeviceSlot{Address: 3}

	d.Remove(hi)

	assert.False(t, hi.inUse)
	assert.Nil(t, hi.children[1])
}

func TestDriver_RemoveIgnoresAlreadyFreedInstance(t *testing.T) {
	d := New()
	drvdata, _ := d.Init(&host.DeviceSlot{})
	hi := drvdata.(*hubInstance)
	hi.inUse = false

	assert.NotPanics(t, func() { d.Remove(hi) })
}

var _ host.ClassDriver = (*Driver)(nil)
