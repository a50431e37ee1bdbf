package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"escrowledger/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// eventFilter narrows the stream to the requested event types and escrow.
type eventFilter struct {
	types map[string]struct{}
	id    string
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	var filter eventFilter
	if raw := strings.TrimSpace(query.Get("types")); raw != "" {
		filter.types = make(map[string]struct{})
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.types[t] = struct{}{}
			}
		}
	}
	if raw := strings.TrimSpace(query.Get("id")); raw != "" {
		if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
			return eventFilter{}, err
		}
		filter.id = raw
	}
	return filter, nil
}

func (f eventFilter) match(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	if f.types != nil {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	return f.id == "" || evt.Attr("id") == f.id
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		http.Error(w, "invalid id filter", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.CORS.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.node.Bus().Subscribe(s.cfg.EventBuffer)
	defer sub.Close()
	s.metrics.SubscriberJoined()
	defer s.metrics.SubscriberLeft()

	// Clients never send; CloseRead surfaces their disconnect as ctx cancel.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub.C(), filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
