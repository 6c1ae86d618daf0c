// Command rs runs the ACE Resource Server HTTP surface: out-of-band token
// submission, the EDHOC responder, and OSCORE-gated application resources.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aceoauth/edhoc-gateway/internal/config"
	"github.com/aceoauth/edhoc-gateway/internal/httpserver"
	"github.com/aceoauth/edhoc-gateway/internal/httputil"
	"github.com/aceoauth/edhoc-gateway/internal/metrics"
	"github.com/aceoauth/edhoc-gateway/internal/rs"
)

var (
	Version  = "local build"
	Revision = "unknown"
)

func shutdown(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Infof("shutting down after receiving: %v", sig)
	cancel()
}

func main() {
	const configFile = "config.json"

	var configDir string
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	log.SetFormatter(&log.JSONFormatter{})
	log.Printf("ACE resource server (version=%s, revision=%s)", Version, Revision)

	var conf config.Config
	if err := conf.Load(configDir, configFile); err != nil {
		log.Fatalf("ERROR: unable to load configuration: %s", err)
	}

	peers := rs.NewMemPeerStore()
	srv := rs.NewServer(conf.RSSigningKey(), []byte(conf.RSKid), &conf.ASSigningKey().PublicKey, peers, conf.Audience)

	router := chi.NewMux()
	router.Use(middleware.Timeout(httpserver.WriteTimeout))
	srv.Routes(router)
	srv.RoutesApp(router)
	metrics.InitPromMetrics(router)
	router.Get("/readiness", httputil.Health(fmt.Sprintf("rs/%s", Version)))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	go shutdown(cancel)

	httpSrv := &httpserver.Server{Router: router, Addr: conf.RSAddr}
	g.Go(func() error {
		return httpSrv.Serve(ctx)
	})

	log.Info("ready")
	if err := g.Wait(); err != nil {
		log.Error(err)
	}
}
