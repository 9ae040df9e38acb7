package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spectrum-scan/rfscan/internal/protocol"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, protocol.Baud, o.Baud)
	assert.Greater(t, o.StabilizeDelay, time.Duration(0))
	assert.Equal(t, -10, o.AmpTopDBm)
	assert.Equal(t, -120, o.AmpBottomDBm)
	assert.NotNil(t, o.Logger)
}

func TestOptionsKeepConfiguredBaud(t *testing.T) {
	o := Options{Baud: 9600}.withDefaults()
	assert.Equal(t, 9600, o.Baud)

	o = Options{Baud: -1}.withDefaults()
	assert.Equal(t, protocol.Baud, o.Baud)
}
