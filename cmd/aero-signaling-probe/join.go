package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/signaling"
)

type joinOptions struct {
	*rootOptions
	msgpack  bool
	duration time.Duration
}

func newJoinCmd(root *rootOptions) *cobra.Command {
	opts := &joinOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and print the events received",
		Long: `Join a room and print every event the server sends until interrupted.

Other members of the room are told this probe arrived, so a browser already in
the room will usually start negotiating with it. The probe never answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runJoin(ctx, opts, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.msgpack, "msgpack", false, "Use the MessagePack subprotocol instead of JSON")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "Leave after this long (0 = until interrupted)")
	return cmd
}

func runJoin(ctx context.Context, opts *joinOptions, roomKey string, out io.Writer) error {
	wsURL, err := opts.socketURL()
	if err != nil {
		return err
	}

	var codec signaling.Codec = signaling.JSONCodec{}
	if opts.msgpack {
		codec = signaling.MsgpackCodec{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	client, err := signaling.Dial(dialCtx, wsURL, signaling.ClientOptions{
		Codec:  codec,
		Header: opts.header(),
		Dialer: &websocket.Dialer{HandshakeTimeout: opts.timeout},
	})
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(out, "connected as %s (%s)\n", client.ID(), codec.Name())
	if err := client.JoinRoom(roomKey); err != nil {
		return err
	}
	fmt.Fprintf(out, "joined room %q\n", roomKey)

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	counts := map[string]int{}
	var order []string
	start := time.Now()
	for {
		ev, err := client.Next(ctx)
		if err != nil {
			renderEventSummary(out, order, counts, time.Since(start))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if counts[ev.Name] == 0 {
			order = append(order, ev.Name)
		}
		counts[ev.Name]++
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05.000"), describeEvent(ev))
	}
}

func describeEvent(ev signaling.Event) string {
	switch {
	case ev.Error != nil:
		return fmt.Sprintf("%-17s code=%s message=%q", ev.Name, ev.Error.Code, ev.Error.Message)
	case ev.Peer != "":
		return fmt.Sprintf("%-17s peer=%s", ev.Name, ev.Peer)
	case ev.From != "":
		return fmt.Sprintf("%-17s from=%s bytes=%d", ev.Name, ev.From, len(ev.Payload))
	default:
		return fmt.Sprintf("%-17s %s", ev.Name, ev.Envelope.Data)
	}
}

func renderEventSummary(out io.Writer, order []string, counts map[string]int, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Events received in %s", elapsed.Round(time.Millisecond))
	t.AppendHeader(table.Row{"Event", "Count"})
	total := 0
	for _, name := range order {
		t.AppendRow(table.Row{name, counts[name]})
		total += counts[name]
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}
