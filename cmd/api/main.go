package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signum.org/internal/auth"
	"signum.org/internal/httpapi"
	"signum.org/internal/migrate"
	"signum.org/internal/notify"
	"signum.org/internal/obs"
	"signum.org/internal/roster"
	fsstore "signum.org/internal/store/fs"
	pgstore "signum.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Tenant document store: Postgres when a DSN is configured, otherwise
	// file-per-tenant JSON under the data directory.
	var (
		store roster.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("SIGNUM_PG_DSN"); dsn != "" {
		pg, err := pgstore.Open(dsn)
		if err != nil {
			log.Fatalf("open pg store: %v", err)
		}
		defer pg.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrate.NewManager(pg.DB()).Up(ctx); err != nil {
			cancel()
			log.Fatalf("apply migrations: %v", err)
		}
		cancel()
		store = pg
		probe = httpapi.ReadyProbe{DB: pg.DB()}
	} else {
		dir := os.Getenv("SIGNUM_DATA_DIR")
		if dir == "" {
			dir = "data"
		}
		fss, err := fsstore.Open(dir)
		if err != nil {
			log.Fatalf("open fs store: %v", err)
		}
		store = fss
	}

	// Decision requests always reach the in-process event stream; a global
	// webhook is added when configured, and tenants can name their own in
	// their config.
	stream := notify.NewStream()
	notifier := notify.Multi{stream}
	if url := os.Getenv("SIGNUM_WEBHOOK_URL"); url != "" {
		notifier = notify.Multi{notify.NewWebhook(url), stream}
	}

	svc := roster.NewService(store, notifier, roster.WithTenantWebhooks(func(url string) roster.Notifier {
		return notify.NewWebhook(url)
	}))
	oracle := auth.NewRoleOracle(svc, os.Getenv("SIGNUM_ADMIN_SUBJECT"))

	api := httpapi.New(probe, version, svc, oracle, stream)

	addr := os.Getenv("SIGNUM_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting signum-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
