// Command broker runs the camera-fleet signaling and session broker: the
// single process that owns the peer registry, session table, preview
// pipeline bookkeeping, recorder supervision, and camera catalog.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fleetcam/broker/internal/broker"
	"github.com/fleetcam/broker/internal/catalog"
	"github.com/fleetcam/broker/internal/pipeline"
	"github.com/fleetcam/broker/internal/recorder"
	"github.com/fleetcam/broker/internal/registry"
	"github.com/fleetcam/broker/internal/session"
	"github.com/fleetcam/broker/internal/transport"
	"github.com/fleetcam/broker/internal/videoindex"
)

func main() {
	os.Exit(run())
}

func run() int {
	host := flag.String("host", "0.0.0.0", "address to bind")
	port := flag.Int("port", 8080, "port to bind")
	dbPath := flag.String("db", "dev.db", "catalog database path or postgres:// DSN")
	recorderPath := flag.String("recorder-path", "./recorder", "path to the recorder binary")
	pipelineEngine := flag.String("pipeline-engine", "gst-launch-1.0", "media pipeline engine binary")
	flag.Parse()

	logger := log.New(os.Stderr, "broker: ", log.LstdFlags)

	db, err := openCatalogDB(*dbPath)
	if err != nil {
		logger.Printf("open catalog db: %v", err)
		return 2
	}

	searchIndex, err := catalog.NewBleveIndex()
	if err != nil {
		logger.Printf("build search index: %v", err)
		return 2
	}
	cat, err := catalog.New(db, searchIndex)
	if err != nil {
		logger.Printf("init catalog: %v", err)
		return 2
	}

	reg := registry.New()
	sessions := session.New()
	signalAddr := fmt.Sprintf("ws://%s:%d/ws", loopbackOf(*host), *port)
	pipelines := pipeline.NewManager(pipeline.NewProcessStarter(*pipelineEngine), signalAddr)
	recSup := recorder.NewSupervisor(*recorderPath, *port)

	b := broker.New(reg, sessions, pipelines, cat, recSup, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", transport.ServeWS(b.Inbox(), logger))
	mux.HandleFunc("/v1/videos", videoindex.Handler(videoindex.NewTCPController("")))
	mux.HandleFunc("/v1/cameras/search", searchCamerasHandler(cat, logger))

	addr := fmt.Sprintf("%s:%d", *host, *port)
	server := &http.Server{Addr: addr, Handler: mux}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		serverErr <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Printf("listen: %v", err)
			return 1
		}
	case <-sigCh:
		logger.Printf("shutting down")
		_ = server.Shutdown(context.Background())
	}
	return 0
}

func openCatalogDB(dbPath string) (*gorm.DB, error) {
	if catalog.IsPostgresDSN(dbPath) {
		return gorm.Open(postgres.Open(dbPath), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
}

// loopbackOf renders a signaling address any external pipeline process on
// the same host can reach back to; a wildcard bind still signals on the
// loopback interface.
func loopbackOf(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "127.0.0.1"
	}
	return host
}

func searchCamerasHandler(cat *catalog.Adapter, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		cameras, err := cat.Search(query)
		if err != nil {
			logger.Printf("search cameras: %v", err)
			http.Error(w, "search failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cameras); err != nil {
			logger.Printf("encode search response: %v", err)
		}
	}
}
