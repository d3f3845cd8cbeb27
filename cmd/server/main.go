package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-pulse/backend/internal/config"
	"github.com/agent-pulse/backend/internal/listener"
	"github.com/agent-pulse/backend/internal/mock"
	"github.com/agent-pulse/backend/internal/proc"
	"github.com/agent-pulse/backend/internal/session"
	"github.com/agent-pulse/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults apply without one)")
	socketPath := flag.String("socket", "", "Override hook socket path")
	port := flag.Int("port", 0, "Override server port")
	mockMode := flag.Bool("mock", false, "Feed scripted mock sessions instead of waiting for real hooks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *socketPath != "" {
		cfg.Socket.Path = *socketPath
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := session.NewStore()
	broadcaster := ws.NewBroadcaster(store, cfg.WS.BroadcastThrottle, cfg.WS.SnapshotInterval, cfg.WS.ReadyWindow)
	store.SetNotify(
		func(st *session.State) {
			broadcaster.QueueUpdate(st)
			if st.IsEnded() {
				broadcaster.NotifyEnded(st.StableID, st.ProjectName)
			}
		},
		func(stableID string) {
			broadcaster.QueueRemoval(stableID)
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis := listener.New(cfg.Socket.Path, store)
	if err := lis.Start(ctx); err != nil {
		log.Fatalf("Failed to start hook listener: %v", err)
	}

	sweeper := session.NewSweeper(store, proc.Checker{}, cfg.Sweep.Interval, cfg.Sweep.Grace)
	go sweeper.Start(ctx)

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(store)
		gen.Start(ctx)
	}

	server := ws.NewServer(store, broadcaster, cfg.Server.Origins, cfg.Server.AuthToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		lis.Wait()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
