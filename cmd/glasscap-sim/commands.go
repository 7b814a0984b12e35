package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mzyy94/glasscap/internal/chunk"
	"github.com/mzyy94/glasscap/internal/transport"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "target",
			Usage: "glasscap UDP address",
			Value: fmt.Sprintf("127.0.0.1:%d", transport.DefaultUDPPort),
		},
		&cli.IntFlag{
			Name:  "payload",
			Usage: "payload bytes per chunk",
			Value: chunk.DefaultPayloadSize,
		},
		&cli.DurationFlag{
			Name:  "gap",
			Usage: "delay between chunks",
			Value: 2 * time.Millisecond,
		},
		&cli.IntSliceFlag{
			Name:  "drop",
			Usage: "frame indices to drop",
		},
		&cli.IntSliceFlag{
			Name:  "dup",
			Usage: "frame indices to send twice",
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send JPEG files once and exit",
		ArgsUsage: "FILE...",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one JPEG file is required", 2)
			}
			conn, err := dial(c.String("target"))
			if err != nil {
				return err
			}
			defer conn.Close()

			opts := optionsFrom(c)
			for _, path := range c.Args().Slice() {
				if err := sendFile(conn, path, opts); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Answer capture commands from glasscap, cycling through the given JPEG files",
		ArgsUsage: "FILE...",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one JPEG file is required", 2)
			}
			conn, err := dial(c.String("target"))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, conn, c.Args().Slice(), optionsFrom(c))
		},
	}
}

func optionsFrom(c *cli.Context) sendOptions {
	return sendOptions{
		PayloadSize: c.Int("payload"),
		Gap:         c.Duration("gap"),
		Drop:        toSet(c.IntSlice("drop")),
		Dup:         toSet(c.IntSlice("dup")),
	}
}

func toSet(v []int) map[int]bool {
	m := make(map[int]bool, len(v))
	for _, i := range v {
		m[i] = true
	}
	return m
}

func dial(target string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

func sendFile(conn *net.UDPConn, path string, opts sendOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	frames, err := plan(data, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, f := range frames {
		if _, err := conn.Write(f); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if opts.Gap > 0 {
			time.Sleep(opts.Gap)
		}
	}
	slog.Info("image sent", "file", path, "bytes", len(data), "datagrams", len(frames))
	return nil
}

// serve announces itself with an empty terminator so glasscap learns the
// bridge address, then follows capture commands.
func serve(ctx context.Context, conn *net.UDPConn, files []string, opts sendOptions) error {
	if _, err := conn.Write(chunk.Terminator()); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	slog.Info("simulated camera ready", "target", conn.RemoteAddr(), "files", len(files))

	cmds := make(chan byte, 4)
	go func() {
		defer close(cmds)
		buf := make([]byte, 16)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("command read failed", "err", err)
				}
				return
			}
			if n == 1 {
				cmds <- buf[0]
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	next := 0
	shoot := func() {
		if err := sendFile(conn, files[next%len(files)], opts); err != nil {
			slog.Warn("send failed", "err", err)
		}
		next++
	}

	var tick <-chan time.Time
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			shoot()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			slog.Info("command received", "cmd", chunk.DescribeCommand(cmd))
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			switch cmd {
			case chunk.CommandStop:
			case chunk.CommandSingleShot:
				shoot()
			default:
				ticker = time.NewTicker(time.Duration(cmd) * time.Second)
				tick = ticker.C
				shoot()
			}
		}
	}
}
