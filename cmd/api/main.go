package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"acesso.org/internal/authz"
	"acesso.org/internal/cache/memory"
	"acesso.org/internal/httpapi"
	"acesso.org/internal/identity"
	"acesso.org/internal/obs"
	"acesso.org/internal/store/pg"
	"acesso.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ACESSO_BUILD_COMMIT"))

	dsn := os.Getenv("ACESSO_PG_DSN")
	if dsn == "" {
		log.Fatal("missing ACESSO_PG_DSN")
	}
	secret := os.Getenv("ACESSO_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing ACESSO_AUTH_SECRET")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open identity store: %v", err)
	}

	kv := memory.NewAdapter()

	admin, err := identity.NewService(store)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	tokens, err := token.NewService(store, kv, secret, token.WithAuthenticator(admin))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	var authzOpts []authz.Option
	if super := os.Getenv("ACESSO_SUPER_ROLE"); super != "" {
		authzOpts = append(authzOpts, authz.WithSuperRoleCode(super))
	}
	az, err := authz.NewService(store, kv, authzOpts...)
	if err != nil {
		log.Fatalf("authz service: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(probe, version, tokens, az, admin)

	addr := os.Getenv("ACESSO_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.RateLimit(api.Handler(), 50, 25),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting acesso-iam %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("ACESSO_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewHealthServer(probe))
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	_ = store.Close()
	log.Println("Stopped")
}
