package master

import (
	"strconv"
	"strings"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
)

// parseNodeID parses a decimal node id, rejecting the INVALID sentinel
// the way the original firmware's utils_parse_nodeid does.
func parseNodeID(s string) (protocol.NodeId, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, util.ErrBadParam
	}
	id := protocol.NodeId(v)
	if !id.Valid() {
		return 0, util.ErrBadParam
	}
	return id, nil
}

// parseUint16List parses a comma-separated list of exactly n unsigned
// 16-bit integers, matching master_sensorconnection.c's
// parse_int16_list(str, NULL, out, n).
func parseUint16List(s string, n int) ([]uint16, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, util.ErrBadParam
	}
	out := make([]uint16, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, util.ErrBadParam
		}
		out[i] = uint16(v)
	}
	return out, nil
}

// parseInt16List parses a comma-separated list of exactly n signed
// 16-bit integers.
func parseInt16List(s string, n int) ([]int16, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, util.ErrBadParam
	}
	out := make([]int16, n)
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, util.ErrBadParam
		}
		out[i] = int16(v)
	}
	return out, nil
}

// parseRGB parses a "R,G,B" triple.
func parseRGB(s string) ([3]byte, error) {
	var rgb [3]byte
	vals, err := parseUint16List(s, 3)
	if err != nil {
		return rgb, err
	}
	for i, v := range vals {
		if v > 255 {
			return rgb, util.ErrBadParam
		}
		rgb[i] = byte(v)
	}
	return rgb, nil
}

// parseRouteList parses "DST1:HOP1,DST2:HOP2,..." into RouteEntry rows,
// used both for the node-targeted route commands and the master's own
// local "routes" command.
func parseRouteList(s string) ([]protocol.RouteEntry, error) {
	parts := strings.Split(s, ",")
	entries := make([]protocol.RouteEntry, 0, len(parts))
	for _, p := range parts {
		pair := strings.SplitN(p, ":", 2)
		if len(pair) != 2 {
			return nil, util.ErrBadParam
		}
		dst, err := parseNodeID(pair[0])
		if err != nil {
			return nil, err
		}
		hop, err := parseNodeID(pair[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, protocol.RouteEntry{Dst: dst, Next: hop})
	}
	if len(entries) == 0 {
		return nil, util.ErrBadParam
	}
	return entries, nil
}
