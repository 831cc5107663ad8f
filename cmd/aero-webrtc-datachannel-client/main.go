// Command aero-webrtc-datachannel-client opens one data channel session to a
// server, sends each stdin line as a message and prints what comes back.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
)

func main() {
	var (
		server   string
		port     int
		path     string
		stunURLs string
		logLevel string
	)
	fs := flag.NewFlagSet("aero-webrtc-datachannel-client", flag.ContinueOnError)
	fs.StringVar(&server, "server", "127.0.0.1", "Signaling server host")
	fs.IntVar(&port, "port", 8080, "Signaling server port")
	fs.StringVar(&path, "path", client.DefaultPath, "Signaling endpoint path")
	fs.StringVar(&stunURLs, "stun-urls", "", "Comma-separated STUN URLs")
	fs.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	iceServers, err := config.ParseICEServersFromConvenienceEnv(stunURLs, "", "", "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := make(chan string, 1)
	opened := make(chan channel.DataChannel, 1)
	sess := client.Connect(ctx, client.Config{
		Server:     server,
		Port:       port,
		Path:       path,
		ICEServers: iceServers,
		Logger:     logger,
	}, func(dc channel.DataChannel) channel.Handler {
		opened <- dc
		return channel.HandlerFuncs{
			Message: func(msg []byte) { fmt.Printf("%s\n", msg) },
			Close:   func() { logger.Info("data channel closed") },
		}
	}, func(msg string) {
		failed <- msg
	})
	defer sess.Close()

	select {
	case dc := <-opened:
		logger.Info("data channel open", "server", server, "port", port)
		go sendLines(dc, logger)
	case <-sess.Done():
	}

	<-sess.Done()
	select {
	case msg := <-failed:
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	default:
	}
}

func sendLines(dc channel.DataChannel, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := dc.Send(append([]byte(nil), scanner.Bytes()...)); err != nil {
			logger.Warn("send failed", "err", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin read failed", "err", err)
	}
	_ = dc.Close()
}
