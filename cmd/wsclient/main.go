// Command wsclient is an interactive demo client for the websocket
// package: it dials one URL, relays each line read from stdin as a text
// message, and prints every inbound message to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tzrikka/xdg"

	"github.com/driftloop/wsc/pkg/websocket"
)

const (
	configDirName  = "wsclient"
	configFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "wsclient",
		Usage:   "dial a WebSocket endpoint and relay stdin/stdout as text messages",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "allow self-signed TLS certificates (wss://), unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "WebSocket URL to dial (ws:// or wss://)",
			Required: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_URL"),
				toml.TOML("wsclient.url", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "subprotocol",
			Usage: "subprotocol to offer during the handshake (repeatable)",
			Sources: cli.NewValueSourceChain(
				toml.TOML("wsclient.subprotocols", path),
			),
		},
		&cli.DurationFlag{
			Name:  "connect-timeout",
			Usage: "opening handshake timeout",
			Value: 10 * time.Second,
			Sources: cli.NewValueSourceChain(
				toml.TOML("wsclient.connect_timeout", path),
			),
		},
	}
}

// configFile returns the path to the app's configuration file, creating
// an empty one if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create config file")
	}
	return altsrc.StringSourcer(path)
}

func initLog(devMode bool) zerolog.Logger {
	var w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if devMode {
		return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

func run(ctx context.Context, cmd *cli.Command) error {
	l := initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
	log.Logger = l

	cfg := websocket.Config{
		ConnectTimeout: cmd.Duration("connect-timeout"),
		Subprotocols:   cmd.StringSlice("subprotocol"),
		EventSink:      &websocket.ZerologSink{Logger: l},
	}
	if cmd.Bool("dev") {
		cfg.TLSMode = websocket.TLSModeInsecureDev
		cfg.AllowInsecureDev = true
	}

	conn, err := websocket.Dial(ctx, cmd.String("url"), cfg)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cmd.String("url"), err)
	}
	l.Info().Str("subprotocol", conn.Subprotocol()).Msg("connected")

	go relayStdinToConn(ctx, l, conn)
	return printInboundMessages(ctx, l, conn)
}

// relayStdinToConn sends every line read from stdin as a text message,
// until stdin is exhausted or the connection closes.
func relayStdinToConn(ctx context.Context, l zerolog.Logger, conn *websocket.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg := websocket.Message{Kind: websocket.KindText, Text: scanner.Text()}
		if err := conn.Send(ctx, msg); err != nil {
			l.Warn().Err(err).Msg("failed to send message")
			return
		}
	}
	_ = conn.Close(ctx, websocket.StatusNormalClosure, "stdin closed")
}

// printInboundMessages prints every message received from conn to
// stdout, returning once the connection is closed.
func printInboundMessages(ctx context.Context, l zerolog.Logger, conn *websocket.Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			rec := conn.CloseRecord()
			l.Info().Uint16("remote_code", rec.RemoteCode).Str("remote_reason", rec.RemoteReason).Msg("connection closed")
			return nil
		}
		switch msg.Kind {
		case websocket.KindText:
			fmt.Println(msg.Text)
		case websocket.KindBinary:
			fmt.Printf("<binary: %d bytes>\n", len(msg.Binary))
		case websocket.KindPing, websocket.KindPong:
			l.Debug().Str("kind", msg.Kind.String()).Msg("control message")
		}
	}
}
