//go:build !windows
// +build !windows

package socket

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen opens the master's host control-plane listener as a Unix
// domain socket at path.
func Listen(path string) (net.Listener, error) {
	return listenUnixSocket(path)
}

// Dial connects to a listener previously opened with Listen, for
// cmd/meshctl talking to a co-located masternode daemon.
func Dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

// serialFile adapts a raw-mode tty file descriptor to io.ReadWriteCloser.
type serialFile struct {
	*os.File
}

// OpenSerial opens devicePath (e.g. "/dev/ttyACM0") as the host line
// protocol transport, putting it into raw mode via termios ioctls so
// newline-terminated commands aren't mangled by line discipline
// processing (echo, signal characters, CR/LF translation).
func OpenSerial(devicePath string) (*serialFile, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", devicePath, err)
	}
	fd := int(f.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("get termios: %w", err)
	}
	raw := *termios
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("set termios: %w", err)
	}
	return &serialFile{f}, nil
}
