package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	clientDir := flag.String("client", "", "Path to viewer static files (empty: API and WebSocket only)")
	dbPath := flag.String("db", "arena.db", "SQLite run log path (empty disables persistence)")
	width := flag.Int("width", 800, "Initial arena width")
	height := flag.Int("height", 600, "Initial arena height")
	capacity := flag.Int("capacity", DefaultNodeCapacity, "Bodies per quadtree leaf before it subdivides")
	tick := flag.Duration("tick", DefaultTickInterval, "Tick interval")
	bodies := flag.Int("bodies", 0, "Bodies to generate in the main arena at startup (0: wait for a generate request)")
	seed := flag.Int64("seed", 0, "Random seed (0: time-based)")
	password := flag.String("password", "", "Operator password for controller tokens (default $ARENA_PASSWORD; empty: everyone controls)")
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("ARENA_PASSWORD")
	}
	if *capacity < 1 {
		log.Fatalf("capacity must be at least 1, got %d", *capacity)
	}
	if err := validateArena(*width, *height); err != nil {
		log.Fatalf("invalid arena: %v", err)
	}

	var db *DB
	if *dbPath != "" {
		var err error
		db, err = OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
	}

	analytics := NewAnalytics(db)
	arenas := NewArenaManager(SimConfig{
		Width:    *width,
		Height:   *height,
		Capacity: *capacity,
		Interval: *tick,
		Seed:     *seed,
	}, analytics)

	if *bodies > 0 {
		req := DefaultGenerateRequest(*width, *height)
		req.Count = *bodies
		if _, err := arenas.Default().Sim.Generate(req); err != nil {
			log.Fatalf("initial generate: %v", err)
		}
	}

	auth := NewAuth(db, *password)
	if auth.Open() {
		log.Printf("no operator password set, every client may control arenas")
	}

	hub := NewHub(arenas, auth, analytics)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if *clientDir != "" {
			log.Printf("Serving viewer files from %s", *clientDir)
		}
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
	hub.Stop()
	arenas.StopAll()
	analytics.Stop()
}
