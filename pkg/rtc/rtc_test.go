package rtc

import (
	"testing"

	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/pion/webrtc/v3"
)

// An ICE blip surfaces as Disconnected followed by Connected; the open
// data channel never re-fires OnOpen, so the Connected state has to
// carry the recovery signal itself.
func TestICEStateSignals(t *testing.T) {
	var drops, recoveries int
	p := New(logger.Default(), nil)
	p.OnDrop = func() { drops++ }
	p.OnRecover = func() { recoveries++ }

	handle := p.handleICEState()
	handle(webrtc.ICEConnectionStateConnected)
	handle(webrtc.ICEConnectionStateDisconnected)
	handle(webrtc.ICEConnectionStateConnected)

	if drops != 1 || recoveries != 2 {
		t.Fatalf("got %d drops and %d recoveries, want 1 and 2", drops, recoveries)
	}
}
