package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"nova/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", time.Minute, "Reply timeout")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: nova-ctl [flags] [trigger | say <text> | status | transcribe <file>]")
		cli.PrintDefaults()
	}
	cli.Parse()

	msg := ipc.ControlMessage{Cmd: ipc.CmdTrigger}
	if args := cli.Args(); len(args) > 0 {
		msg.Cmd = args[0]
		msg.Text = strings.Join(args[1:], " ")
	}
	if (msg.Cmd == ipc.CmdSay || msg.Cmd == ipc.CmdTranscribe) && strings.TrimSpace(msg.Text) == "" {
		cli.Usage()
		os.Exit(2)
	}
	if msg.Cmd == ipc.CmdTranscribe {
		abs, err := filepath.Abs(msg.Text)
		if err != nil {
			fmt.Println("bad path:", err)
			os.Exit(2)
		}
		msg.Text = abs
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, *socket, msg)
	if err != nil {
		fmt.Println("nova-daemon not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Println("error:", reply.Error)
		os.Exit(1)
	}

	keys := make([]string, 0, len(reply.Data))
	for k := range reply.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, reply.Data[k])
	}
}
