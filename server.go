package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// viewerURL is the page a phone should open to watch arenaID
func viewerURL(r *http.Request, arenaID string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: "/"}
	q := u.Query()
	q.Set("arena", arenaID)
	u.RawQuery = q.Encode()
	return u.String()
}

// SetupRoutes configures HTTP routes. An empty clientDir serves no static files.
func SetupRoutes(hub *Hub, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			fs.ServeHTTP(w, r)
		}))
	}

	// WebSocket endpoint: ?arena=<id>&token=<controller jwt>
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		arenaID := r.URL.Query().Get("arena")
		if arenaID == "" {
			arenaID = DefaultArenaID
		}
		controller := hub.auth.CanControl(r.URL.Query().Get("token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip, arenaID, controller)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorMsg{Msg: "malformed request"})
			return
		}
		token, err := hub.auth.Login(body.Password, extractIP(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorMsg{Msg: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})

	mux.HandleFunc("/api/arenas", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.arenas.List())
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil {
			limit = 20
		}
		limit = Clamp(limit, 1, 200)
		runs, err := hub.analytics.RecentRuns(limit)
		if err != nil {
			log.Printf("api: runs query error: %v", err)
			writeJSON(w, http.StatusInternalServerError, ErrorMsg{Msg: "query failed"})
			return
		}
		if runs == nil {
			runs = []RunRow{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		viewers, arenas := hub.analytics.GetLiveMetrics()
		counts, err := hub.analytics.EventCounts(7)
		if err != nil {
			log.Printf("api: event counts error: %v", err)
		}
		ticks := make(map[string]TickStats)
		for _, info := range hub.arenas.List() {
			ticks[info.ID] = info.Stats
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"viewers": viewers,
			"arenas":  arenas,
			"conns":   hub.TotalConns(),
			"events":  counts,
			"ticks":   ticks,
		})
	})

	mux.HandleFunc("/qr.png", func(w http.ResponseWriter, r *http.Request) {
		arenaID := r.URL.Query().Get("arena")
		if arenaID == "" {
			arenaID = DefaultArenaID
		}
		if hub.arenas.Get(arenaID) == nil {
			http.Error(w, "arena not found", http.StatusNotFound)
			return
		}
		png, err := qrcode.Encode(viewerURL(r, arenaID), qrcode.Medium, qrSize)
		if err != nil {
			log.Printf("qr encode error: %v", err)
			http.Error(w, "qr encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})

	return mux
}
