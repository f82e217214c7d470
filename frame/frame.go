package frame

import (
	"time"
)

// Frame is one complete JPEG image cut out of the upstream byte stream.
// Data starts with 0xFFD8 and ends with 0xFFD9. A Frame is never modified after
// it has been emitted, so it is shared by reference between consumers.
type Frame struct {
	Seq  uint64
	Time time.Time
	Data []byte
}

func (f *Frame) Len() int {
	return len(f.Data)
}
