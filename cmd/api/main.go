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
	"github.com/joho/godotenv"

	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/billing"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/httpapi"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/notify"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/obs"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/quote"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/store/pg"
	"github.com/Stride-dotcom/stride-wms-app-sub010/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("STRIDE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	baseURL := os.Getenv("STRIDE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	linkTTL := 7 * 24 * time.Hour
	if raw := os.Getenv("STRIDE_LINK_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse STRIDE_LINK_TTL: %v", err)
		}
		linkTTL = d
	}

	var (
		db    *sql.DB
		store quote.Store
		techs quote.TechnicianDirectory
	)
	if dsn := os.Getenv("STRIDE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		store = pgStore
		techs = pgStore
	} else {
		// In-memory mode for local development and demos.
		mem := quote.NewInMemory()
		seedTechnicians(mem)
		store = mem
		techs = mem
		log.Println("STRIDE_PG_DSN not set, using in-memory store")
	}

	workflow := quote.NewWorkflow(store, techs, token.NewIssuer(linkTTL), baseURL)
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, workflow, notify.LogSender{}, billing.NewInMemory(), notify.NewHub())

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting repair-quote-api %s on %s", version, srv.Addr)

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

func seedTechnicians(mem *quote.InMemory) {
	mem.PutTechnician(quote.Technician{ID: "tech-upholstery", Name: "Hill Country Upholstery", Email: "quotes@hillcountryupholstery.example", MarkupPercent: 20, Active: true})
	mem.PutTechnician(quote.Technician{ID: "tech-wood", Name: "Heritage Wood Restoration", Email: "intake@heritagewood.example", MarkupPercent: 25, Active: true})
}
