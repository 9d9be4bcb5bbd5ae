//go:build windows
// +build windows

package socket

import (
	"errors"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen opens the master's host control-plane listener as a named
// pipe at path (e.g. `\\.\pipe\meshwatch-master`).
func Listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

// Dial connects to a listener previously opened with Listen.
func Dial(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}

// OpenSerial is unsupported on Windows in this build: the real product
// talks to the host over a Unix-style USB-CDC path, which Windows
// exposes as a COM port requiring a different open/configure sequence
// not exercised by this port.
func OpenSerial(devicePath string) (*serialFile, error) {
	return nil, errors.New("serial host transport is not implemented on windows")
}

type serialFile struct{}

func (serialFile) Read(p []byte) (int, error)  { return 0, errors.New("unsupported") }
func (serialFile) Write(p []byte) (int, error) { return 0, errors.New("unsupported") }
func (serialFile) Close() error                { return nil }
