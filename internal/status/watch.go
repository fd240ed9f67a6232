package status

import (
	"context"
	log "log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"nova/internal/lastturn"
)

// Watcher reads the turn stream served on /ws.
type Watcher struct {
	conn *websocket.Conn
}

func Dial(ctx context.Context, wsURL string) (*Watcher, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	log.Debug("Connected to turn stream", "url", wsURL)
	return &Watcher{conn: conn}, nil
}

func (w *Watcher) Next() (lastturn.Turn, error) {
	var t lastturn.Turn
	if err := w.conn.ReadJSON(&t); err != nil {
		return lastturn.Turn{}, err
	}
	return t, nil
}

func (w *Watcher) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

// Follow calls fn for every turn and reconnects after retry whenever the
// stream drops. It returns when ctx is done.
func Follow(ctx context.Context, wsURL string, retry time.Duration, fn func(lastturn.Turn)) {
	for {
		w, err := Dial(ctx, wsURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("Turn stream unavailable", "url", wsURL, "err", err)
		} else {
			err = follow(ctx, w, fn)
			_ = w.Close()
			if ctx.Err() != nil {
				return
			}
			log.Warn("Turn stream dropped, reconnecting", "url", wsURL, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func follow(ctx context.Context, w *Watcher, fn func(lastturn.Turn)) error {
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stop()

	for {
		t, err := w.Next()
		if err != nil {
			return err
		}
		fn(t)
	}
}
