package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	log "log/slog"

	"nova/internal/lastturn"
	"nova/internal/status"
)

func main() {
	url := cli.StringP("url", "u", "", "Turn stream url (default ws://localhost:8000/ws, or STATUS_WS)")
	retry := cli.DurationP("retry", "r", 2*time.Second, "Reconnect delay")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, nil)))

	wsURL := *url
	if wsURL == "" {
		wsURL = os.Getenv("STATUS_WS")
	}
	if wsURL == "" {
		wsURL = "ws://localhost:8000/ws"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("Watching turns", "url", wsURL)
	status.Follow(ctx, wsURL, *retry, func(t lastturn.Turn) {
		fmt.Printf("[%s] you:  %s\n", t.At.Format(time.TimeOnly), t.Transcript)
		fmt.Printf("[%s] nova: %s\n", t.At.Format(time.TimeOnly), t.Response)
	})
}
