package socket

import "golang.org/x/sys/unix"

// ioctl request numbers for reading/writing termios differ between
// Linux and the BSD-family (Darwin); split out so socket_unix.go can
// stay platform-generic.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)
