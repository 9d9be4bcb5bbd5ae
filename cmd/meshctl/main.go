// Command meshctl is the host-side companion to masternoded: it dials
// the master's control-plane socket (common/socket), sends one
// newline-terminated host command (spec.md §6.2/§4.5), and prints every
// ###-prefixed event the master sends back until interrupted, since
// most commands complete asynchronously once the node replies.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/stustanet/meshwatch/common/socket"
	"github.com/stustanet/meshwatch/common/util"
)

var hostSocketFlag = cli.StringFlag{
	Name:   "socket",
	Value:  "/var/run/meshwatch/master.sock",
	Usage:  "path of the masternoded host control-plane listener",
	EnvVar: "MESHWATCH_SOCKET",
}

// sendAndStream dials the master, writes one line built from cmd and
// args, and copies every line the master sends back to stdout,
// colorizing the ### event prefixes, until the connection closes or the
// process is interrupted.
func sendAndStream(c *cli.Context, cmd string, args ...string) error {
	conn, err := socket.Dial(c.GlobalString("socket"))
	if err != nil {
		return fmt.Errorf("connect to masternoded: %w", err)
	}
	defer conn.Close()

	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		printEvent(scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func printEvent(line string) {
	switch {
	case strings.HasPrefix(line, "###ERR"):
		fmt.Println(util.Red(line))
	case strings.HasPrefix(line, "###TIMEOUT"):
		fmt.Println(util.Yellow(line))
	case strings.HasPrefix(line, "###ACK"):
		fmt.Println(util.Green(line))
	case strings.HasPrefix(line, "###STATUS"):
		fmt.Println(util.Cyan(line))
	default:
		fmt.Println(line)
	}
}

// forward builds a cli.ActionFunc that sends name plus every positional
// argument the user gave, unmodified, to the master. meshctl does no
// argument validation of its own: the master's line-protocol parser
// (master.HandleLine) is the single source of truth for command syntax,
// and replies ###ERR on rejection exactly as it would for any other
// host.
func forward(name string) cli.ActionFunc {
	return func(c *cli.Context) error {
		return sendAndStream(c, name, []string(c.Args())...)
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "meshctl"
	app.Usage = "control a running masternoded over its host line protocol"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{hostSocketFlag}

	app.Commands = []cli.Command{
		{
			Name:      "connect",
			Usage:     "connect <node> <first-hop> <max-retries>",
			ArgsUsage: "<node> <first-hop> <max-retries>",
			Action:    forward("connect"),
		},
		{
			Name:      "set-routes",
			Usage:     "install routes on a remote node: set-routes <node> <dst:hop,...>",
			ArgsUsage: "<node> <dst:hop,...>",
			Action:    forward("set_routes"),
		},
		{
			Name:      "reset-routes",
			Usage:     "reset and install routes on a remote node: reset-routes <node> <dst:hop,...>",
			ArgsUsage: "<node> <dst:hop,...>",
			Action:    forward("reset_routes"),
		},
		{
			Name:      "routes",
			Usage:     "set the master's own local route table: routes <dst:hop,...>",
			ArgsUsage: "<dst:hop,...>",
			Action:    forward("routes"),
		},
		{
			Name:      "cfg-sensor",
			Usage:     "configure one channel's state-estimation params",
			ArgsUsage: "<node> <channel> <input-filter> <st-matrix> <st-window> <reject-filter>",
			Action:    forward("cfg_sensor"),
		},
		{
			Name:      "enable-sensor",
			Usage:     "start sampling on a node",
			ArgsUsage: "<node> <active-mask> <samples-per-sec>",
			Action:    forward("enable_sensor"),
		},
		{
			Name:      "raw-frames",
			Usage:     "request a burst of unauthenticated raw frame dumps",
			ArgsUsage: "<node> <channel> <count>",
			Action:    forward("raw_frames"),
		},
		{
			Name:      "raw-status",
			Usage:     "request an unauthenticated raw status dump",
			ArgsUsage: "<node>",
			Action:    forward("raw_status"),
		},
		{
			Name:      "ping",
			Usage:     "send an unauthenticated echo request",
			ArgsUsage: "<node>",
			Action:    forward("ping"),
		},
		{
			Name:      "authping",
			Usage:     "send a signed NOP over the config channel",
			ArgsUsage: "<node>",
			Action:    forward("authping"),
		},
		{
			Name:      "led",
			Usage:     "set one LED directly",
			ArgsUsage: "<node> <index> <r,g,b>",
			Action:    forward("led"),
		},
		{
			Name:      "rebuild-status-channel",
			Usage:     "force a node to rebuild its status-channel handshake",
			ArgsUsage: "<node>",
			Action:    forward("rebuild_status_channel"),
		},
		{
			Name:      "cfg-status-indicator",
			Usage:     "bind a channel's on/off colors to an LED",
			ArgsUsage: "<node> <channel> <led> <on-r,g,b> <off-r,g,b>",
			Action:    forward("cfg_status_change_indicator"),
		},
		{
			Name:      "retransmit",
			Usage:     "resume retransmission on a connection that hit ###TIMEOUT",
			ArgsUsage: "<node>",
			Action:    forward("retransmit"),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, util.Red(err.Error()))
		os.Exit(1)
	}
}
