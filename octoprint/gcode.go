package octoprint

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrNoMovement = errors.New("no movement axis specified")

// Move is a simple linear move. Nil fields are left out of the command.
type Move struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Z     *float64 `json:"z"`
	E     *float64 `json:"e"`
	Speed *float64 `json:"speed"` // feedrate
}

// MoveCommand renders m as a G0 command, e.g. "G0 X10.0 Y5.0 F1500.0".
func MoveCommand(m Move) (string, error) {
	var b strings.Builder
	b.WriteString("G0")
	for _, p := range []struct {
		letter byte
		value  *float64
	}{{'X', m.X}, {'Y', m.Y}, {'Z', m.Z}, {'E', m.E}, {'F', m.Speed}} {
		if p.value == nil {
			continue
		}
		b.WriteByte(' ')
		b.WriteByte(p.letter)
		b.WriteString(number(*p.value))
	}
	if b.Len() == 2 {
		return "", ErrNoMovement
	}
	return b.String(), nil
}

// number keeps a decimal point on whole values, as printers and users expect.
func number(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
