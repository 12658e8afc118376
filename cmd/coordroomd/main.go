// Command coordroomd runs the coordination room server: it owns one Room
// Actor per room id, the Task Store, and the HTTP/WS ingress layer.
// Grounded on the teacher's cmd/cliaimonitor/main.go startup/shutdown
// sequence, trimmed to this domain's components.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coordroom/coordroom/internal/config"
	"github.com/coordroom/coordroom/internal/docs"
	"github.com/coordroom/coordroom/internal/ingress"
	"github.com/coordroom/coordroom/internal/instance"
	"github.com/coordroom/coordroom/internal/natsbridge"
	"github.com/coordroom/coordroom/internal/notify"
	"github.com/coordroom/coordroom/internal/room"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/tasksvc"
)

func main() {
	fs := flag.NewFlagSet("coordroomd", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Printf("[COORDROOMD] starting, listen=%s db=%s", cfg.ListenAddr, cfg.DBPath)

	guard := instance.NewGuard(cfg.DBPath+".pid", cfg.ListenAddr)
	if err := guard.Acquire(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer guard.Release()

	st, err := store.Open(cfg.DBPath, cfg.StoreRetryPolicy())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open task store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	toast := notify.NewDesktopToast("coordroomd")
	terminal := notify.NewTermFlasher("coordroomd")
	notifier := notify.NewManager(toast, terminal)

	docsSource := docs.NewSource(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	injector := ingress.NewHTTPInjector(fmt.Sprintf("http://127.0.0.1%s", cfg.ListenAddr), []byte(cfg.BroadcastSharedSecret))
	svc := tasksvc.New(st, injector)

	registry := room.NewRegistry(ctx, cfg.RoomConfig(), st, svc, docsSource, notifier)
	if cfg.SnapshotDir != "" {
		registry.SetSnapshotStore(room.NewFileSnapshotStore(cfg.SnapshotDir))
		log.Printf("[COORDROOMD] room-state snapshots enabled at %s", cfg.SnapshotDir)
	}

	var bridge *natsbridge.Bridge
	if cfg.NATSEmbeddedPort > 0 {
		embedded := natsbridge.NewEmbedded(natsbridge.EmbeddedConfig{Port: cfg.NATSEmbeddedPort})
		if err := embedded.Start(); err != nil {
			log.Printf("[COORDROOMD] embedded NATS relay disabled: %v", err)
		} else {
			client, err := natsbridge.NewClient(embedded.URL())
			if err != nil {
				log.Printf("[COORDROOMD] NATS client connect failed: %v", err)
			} else {
				bridge = natsbridge.NewBridge(client, registry)
				registry.SetRelayBinder(bridge.SubscribeRoom)
				log.Printf("[COORDROOMD] embedded NATS relay listening on %s", embedded.URL())
			}
		}
	}

	srv := ingress.NewServer(registry, []byte(cfg.BroadcastSharedSecret))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[COORDROOMD] server error: %v", err)
		}
	case <-shutdown:
		log.Println("[COORDROOMD] shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[COORDROOMD] graceful shutdown error: %v", err)
	}

	registry.ShutdownAll()
	if bridge != nil {
		bridge.Close()
	}
	cancel()
}
