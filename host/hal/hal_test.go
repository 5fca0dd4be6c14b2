package hal

import (
	"testing"

	"github.com/ardnew/softusb/pkg"
	"github.com/stretchr/testify/assert"
)

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedLow, "low"},
		{SpeedFull, "full"},
		{SpeedHigh, "high"},
		{SpeedSuper, "super"},
		{Speed(255), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.speed.String())
	}
}

func TestSpeed_MaxPacketSize0(t *testing.T) {
	assert.EqualValues(t, 8, SpeedLow.MaxPacketSize0())
	assert.EqualValues(t, 64, SpeedFull.MaxPacketSize0())
	assert.EqualValues(t, 64, SpeedHigh.MaxPacketSize0())
}

func TestPollStatus_Values(t *testing.T) {
	assert.EqualValues(t, 0, PollNone)
	assert.EqualValues(t, 1, PollConnected)
	assert.EqualValues(t, 2, PollDisconnected)
}

func TestPacket_CallbackInvoked(t *testing.T) {
	var got Completion
	var gotArg any
	p := &Packet{
		Data: make([]byte, 4),
		Callback: func(arg any, c Completion) {
			gotArg = arg
			got = c
		},
		CallbackArg: "slot",
	}

	p.Callback(p.CallbackArg, Completion{Status: pkg.StatusOK, TransferredLength: 4})

	assert.Equal(t, "slot", gotArg)
	assert.Equal(t, pkg.StatusOK, got.Status)
	assert.Equal(t, 4, got.TransferredLength)
}

// fakeLLD is a minimal LowLevelDriver used only to confirm the interface
// shape is implementable with no surprises (e.g. unexported methods).
type fakeLLD struct{}

func (*fakeLLD) Init() error                    { return nil }
func (*fakeLLD) Poll(timeUs uint32) PollStatus  { return PollNone }
func (*fakeLLD) Read(p *Packet)                 {}
func (*fakeLLD) Write(p *Packet)                {}
func (*fakeLLD) RootSpeed() Speed               { return SpeedFull }

func TestLowLevelDriver_Implementable(t *testing.T) {
	var lld LowLevelDriver = &fakeLLD{}
	assert.Equal(t, PollNone, lld.Poll(0))
	assert.Equal(t, SpeedFull, lld.RootSpeed())
}
