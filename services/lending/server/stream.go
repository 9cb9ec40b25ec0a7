package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

// streamEvents upgrades to a websocket and forwards committed events. The
// optional type query parameter filters by prefix and market by market
// address.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	typePrefix := strings.TrimSpace(r.URL.Query().Get("type"))
	market := strings.TrimSpace(r.URL.Query().Get("market"))
	if market != "" {
		addr, err := crypto.ParseAddress(market)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		market = addr.String()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.engine.Subscribe(wsBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if !matchEvent(ev, typePrefix, market) {
				continue
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if websocket.CloseStatus(err) == -1 {
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func matchEvent(ev *types.Event, typePrefix, market string) bool {
	if ev == nil {
		return false
	}
	if typePrefix != "" && !strings.HasPrefix(ev.Type, typePrefix) {
		return false
	}
	if market != "" && ev.Attr("market") != market {
		return false
	}
	return true
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev *types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
