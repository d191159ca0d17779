package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceStatus(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		want      Status
	}{
		{"available driver is online", true, StatusOnline},
		{"unavailable driver is busy", false, StatusBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Presence{DriverID: "d-1", Available: tt.available}
			assert.Equal(t, tt.want, p.Status())
		})
	}
}
