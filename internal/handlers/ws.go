// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/simon/internal/game"
	"github.com/jason-s-yu/simon/internal/middleware"
	"github.com/jason-s-yu/simon/internal/session"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients may request.
const Subprotocol = "simon"

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 4096
)

// WSHandler upgrades the request and runs the connection until either side
// closes it.
func WSHandler(logger *logrus.Logger, gw *session.Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.CloseNow()

		// Plain clients that ask for no subprotocol are fine; ones that ask
		// for something else are not ours.
		if r.Header.Get("Sec-WebSocket-Protocol") != "" && c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the simon subprotocol")
			return
		}
		c.SetReadLimit(readLimit)

		remote := middleware.RealIP(r)
		middleware.LogWebSocketConnect(logger, remote, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := gw.Connect(remote)
		go writePump(ctx, cancel, c, s, logger)

		err = readPump(ctx, c, gw, s, logger)

		gw.Disconnect(s)
		cancel()
		middleware.LogWebSocketDisconnect(logger, remote, r.URL.Path, err)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump feeds every text frame to the gateway. It returns the error that
// ended the connection, nil for a normal close.
func readPump(ctx context.Context, c *websocket.Conn, gw *session.Gateway, s *session.Session, logger *logrus.Logger) error {
	entry := logger.WithField("conn", s.ID)
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			entry.Warnf("Received non-text message type %d. Ignoring.", typ)
			continue
		}
		if err := gw.HandleRaw(s, msg); err != nil {
			entry.WithError(err).Debug("Message rejected")
		}
	}
}

// writePump drains the session's queue onto the socket and keeps the
// connection alive with pings. Any write failure cancels the connection.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, s *session.Session, logger *logrus.Logger) {
	defer cancel()
	entry := logger.WithField("conn", s.ID)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Out:
			if !ok {
				return
			}
			if err := writeEvent(ctx, c, ev); err != nil {
				entry.WithError(err).Warn("Failed to write to websocket")
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				entry.WithError(err).Warn("Failed to send ping. Assuming disconnect.")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
