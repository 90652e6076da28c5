//go:build !govips || !cgo

package pipeline

const Backend = "portable"

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() Encoder {
	return portableEncoder{}
}
