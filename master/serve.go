package master

import (
	"bufio"
	"io"
)

// ServeHost reads newline-terminated commands from rw and writes every
// host event back to it (spec.md §6.2), until rw is closed or ctx-less
// read fails. Only one host connection is meaningful at a time; a caller
// accepting a new connection should call AttachHost again before
// starting a new ServeHost.
func (c *Controller) ServeHost(rw io.ReadWriter) error {
	c.AttachHost(rw)
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		c.HandleLine(scanner.Text())
	}
	return scanner.Err()
}
