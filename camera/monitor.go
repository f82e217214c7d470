package camera

// Monitor is one open connection to the camera. Whatever the transport, it reads
// as a multipart/x-mixed-replace byte stream delimited by Boundary().
type Monitor interface {
	Boundary() string
	Read(p []byte) (int, error)
	ShutDown()
}
