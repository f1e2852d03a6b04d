// internal/handlers/router.go
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jason-s-yu/simon/internal/game"
	"github.com/jason-s-yu/simon/internal/middleware"
	"github.com/jason-s-yu/simon/internal/session"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// RouterOptions is everything the HTTP surface needs.
type RouterOptions struct {
	Prefix    string
	StaticDir string
	PublicURL string
	Version   string

	Logger  *logrus.Logger
	Gateway *session.Gateway
	Rooms   *game.RoomStore
	Hub     *session.Hub
}

// NewRouter wires every route and wraps the result in request logging.
func NewRouter(opts RouterOptions) http.Handler {
	prefix := strings.TrimSuffix(opts.Prefix, "/")

	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		opts.Logger.WithField("path", r.URL.Path).Errorf("panic serving request: %v", v)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	mux.GET(prefix+"/ws", WSHandler(opts.Logger, opts.Gateway))
	mux.GET(prefix+"/healthz", serveHealthCheck(opts.Rooms, opts.Hub))
	mux.GET(prefix+"/version", serveVersion(opts.Version))
	mux.GET(prefix+"/lobby", serveLobby(opts.Rooms))
	mux.GET(prefix+"/qr", serveQR(prefix, opts.PublicURL))

	if opts.StaticDir != "" {
		files := http.FileServer(http.Dir(opts.StaticDir))
		if prefix != "" {
			files = http.StripPrefix(prefix, files)
		}
		mux.NotFound = files
	} else {
		mux.GET(prefix+"/", serveHomePage(prefix))
	}

	return middleware.LogMiddleware(opts.Logger)(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveHealthCheck(rooms *game.RoomStore, hub *session.Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"rooms":       rooms.Len(),
			"connections": hub.Connections(),
		})
	}
}

func serveVersion(version string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "simon v"+version+"\n")
	}
}

// serveLobby answers the same question as checkActiveLobby over plain HTTP.
func serveLobby(rooms *game.RoomStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		status := game.LobbyStatus{HasActiveLobby: false}
		if lobby := rooms.FindActiveLobby(); lobby != nil {
			status = lobby.LobbyStatus()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// serveQR renders a PNG QR code pointing players at the game page.
func serveQR(prefix, publicURL string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		url := publicURL
		if url == "" {
			url = requestScheme(r) + "://" + r.Host + prefix + "/"
		}

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func serveHomePage(prefix string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "simon game server\n\nwebsocket: "+prefix+"/ws\nlobby:     "+prefix+"/lobby\nshare:     "+prefix+"/qr\n")
	}
}
