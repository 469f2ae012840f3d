package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"workhive.org/internal/httpapi"
	"workhive.org/internal/obs"
	"workhive.org/internal/token"
	"workhive.org/internal/workspace"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("WORKHIVE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("WORKHIVE_AUTH_SECRET is required")
	}
	tokens, err := token.NewManager([]byte(secret), token.WithIssuer("workhive"))
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	// Without a DSN the service runs on the in-memory store: useful for
	// demos and local frontend work, data does not survive a restart.
	var (
		db  *sql.DB
		svc workspace.Service
	)
	if dsn := os.Getenv("WORKHIVE_PG_DSN"); dsn != "" {
		db, err = workspace.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		svc = workspace.NewOrchestrator(db)
	} else {
		log.Println("WORKHIVE_PG_DSN not set, using in-memory store")
		svc = workspace.NewInMemory()
	}

	api := httpapi.New(svc, tokens, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("WORKHIVE_HTTP_ADDR")
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

	log.Printf("Starting workhive-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
