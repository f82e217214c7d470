package octoprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func TestMoveCommand(t *testing.T) {
	tests := []struct {
		name string
		move Move
		want string
	}{
		{"x only", Move{X: ptr(10)}, "G0 X10.0"},
		{"xyz", Move{X: ptr(10), Y: ptr(5), Z: ptr(3)}, "G0 X10.0 Y5.0 Z3.0"},
		{"fractions and sign", Move{Z: ptr(-0.2), E: ptr(1.25)}, "G0 Z-0.2 E1.25"},
		{"feedrate", Move{X: ptr(1), Speed: ptr(1500)}, "G0 X1.0 F1500.0"},
		{"feedrate alone", Move{Speed: ptr(600)}, "G0 F600.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MoveCommand(tt.move)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoveCommandWithoutAxis(t *testing.T) {
	_, err := MoveCommand(Move{})
	assert.Equal(t, ErrNoMovement, err)
}
