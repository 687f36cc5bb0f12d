// Command fanoutd runs one node of the message fan-out core: HTTP API,
// websocket Hub, Bus consumer and the hourly story-cleanup cron.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/bus"
	"github.com/tinode/fanout/internal/config"
	"github.com/tinode/fanout/internal/consumer"
	"github.com/tinode/fanout/internal/dispatcher"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/httpapi"
	"github.com/tinode/fanout/internal/media"
	"github.com/tinode/fanout/internal/pubsub"
	"github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "fanoutd.conf", "path to the node JSON configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fanoutd: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fanoutd: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	st := postgres.New()
	if err := st.Open(ctx, cfg.Store.DSN()); err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	b, err := bus.Dial(cfg.Bus.URL)
	if err != nil {
		return err
	}
	defer b.Close()

	ps := pubsub.Dial(cfg.PubSub.URL, cfg.PubSub.Password, cfg.InstanceID)
	defer ps.Close()

	tokens, err := auth.New(auth.Config{Secret: []byte(cfg.Auth.Secret), Expiry: cfg.Auth.Expiry()})
	if err != nil {
		return err
	}

	mediaSigner, err := media.New(media.Config{Bucket: cfg.Media.Bucket, Region: cfg.Media.Region, BaseURL: cfg.Media.BaseURL})
	if err != nil {
		return err
	}

	d := dispatcher.New(st, b, nil) // hub wired in below once constructed
	h := hub.New(tokens, ps, d)
	h.PingInterval = time.Duration(cfg.Hub.PingIntervalSec) * time.Second
	h.WriteTimeout = time.Duration(cfg.Hub.WriteTimeoutSec) * time.Second
	d.SetHub(h)

	c := consumer.New(st, h)
	sub, err := c.Start(ctx, b, cfg.Bus.QueueName)
	if err != nil {
		return err
	}
	defer sub.Close()

	cleanupCron := cron.New()
	if _, err := cleanupCron.AddFunc("@hourly", func() { purgeExpiredStories(ctx, st) }); err != nil {
		return err
	}
	cleanupCron.Start()
	defer cleanupCron.Stop()

	api := httpapi.New(st, d, h, tokens, mediaSigner)
	httpServer := &http.Server{
		Addr:    fmtAddr(cfg.Hub.ListenPort),
		Handler: api.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("fanoutd: listening on %s", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-stop:
		log.Printf("fanoutd: signal received: %s, shutting down", sig)
	}

	return shutdown(httpServer, h)
}

// shutdown tears components down in order: stop accepting HTTP, then
// the Hub (session layer), bounded by a deadline; Bus/PubSub/Store are
// closed by the deferred calls in run() once this returns.
func shutdown(httpServer *http.Server, h *hub.Hub) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("fanoutd: http shutdown error: %v", err)
	}

	if err := h.Shutdown(ctx); err != nil {
		log.Printf("fanoutd: hub shutdown error: %v", err)
		return err
	}
	return nil
}

func purgeExpiredStories(ctx context.Context, st store.Store) {
	n, err := st.PurgeExpiredStories(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("fanoutd: story cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("fanoutd: purged %d expired stories", n)
	}
}

func fmtAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
