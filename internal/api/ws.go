// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/alexeybutyrev/cv2pipeline/internal/bus"
	"github.com/alexeybutyrev/cv2pipeline/internal/log"
	"github.com/alexeybutyrev/cv2pipeline/internal/metrics"
)

// handleFeed streams bus messages over a websocket. Hazards are always
// included; the pipeline query parameter adds that pipeline's detection and
// heartbeat events.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeServiceUnavailable(w, errors.New("event bus not configured"))
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "feed")

	subs := make([]bus.Subscriber, 0, 2)
	hazardSub, err := s.deps.Bus.Subscribe(r.Context(), bus.TopicHazards)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	subs = append(subs, hazardSub)

	if id := r.URL.Query().Get("pipeline"); id != "" {
		eventSub, err := s.deps.Bus.Subscribe(r.Context(), bus.TopicEvents(id))
		if err != nil {
			_ = hazardSub.Close()
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		subs = append(subs, eventSub)
	}

	closeSubs := func() {
		for _, sub := range subs {
			_ = sub.Close()
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		closeSubs()
		logger.Warn().Err(err).
			Str("event", "feed.upgrade_failed").
			Msg("websocket upgrade failed")
		return
	}

	metrics.WSClients.Inc()
	logger.Info().
		Str("event", "feed.connected").
		Str("remote_addr", r.RemoteAddr).
		Msg("feed client connected")

	done := make(chan struct{})

	// Reader loop: clients send nothing we care about, but reading is how
	// we notice the peer going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			closeSubs()
			_ = conn.Close()
			metrics.WSClients.Dec()
			logger.Info().
				Str("event", "feed.disconnected").
				Msg("feed client disconnected")
		}()
		streamFeed(conn, subs, done)
	}()
}

// streamFeed fans subscriber channels into the connection until the client
// disconnects or a subscriber closes.
func streamFeed(conn net.Conn, subs []bus.Subscriber, done <-chan struct{}) {
	merged := make(chan bus.Message, 32)
	for _, sub := range subs {
		go func(c <-chan bus.Message) {
			for msg := range c {
				select {
				case merged <- msg:
				case <-done:
					return
				}
			}
		}(sub.C())
	}

	for {
		select {
		case <-done:
			return
		case msg := <-merged:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					logger := log.WithComponent("feed")
					logger.Debug().Err(err).
						Str("event", "feed.write_error").
						Msg("dropping feed client")
				}
				return
			}
		}
	}
}
