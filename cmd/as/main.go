// Command as runs the ACE Authorization Server HTTP surface: client
// credential checking, PoP-key binding, and token minting/introspection.
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

	"github.com/aceoauth/edhoc-gateway/internal/as"
	"github.com/aceoauth/edhoc-gateway/internal/as/pgstore"
	"github.com/aceoauth/edhoc-gateway/internal/config"
	"github.com/aceoauth/edhoc-gateway/internal/cose"
	"github.com/aceoauth/edhoc-gateway/internal/httpserver"
	"github.com/aceoauth/edhoc-gateway/internal/httputil"
	"github.com/aceoauth/edhoc-gateway/internal/metrics"
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
	log.Printf("ACE authorization server (version=%s, revision=%s)", Version, Revision)

	var conf config.Config
	if err := conf.Load(configDir, configFile); err != nil {
		log.Fatalf("ERROR: unable to load configuration: %s", err)
	}

	clients, keys, tokens, err := buildStores(&conf)
	if err != nil {
		log.Fatalf("ERROR: unable to initialize AS registries: %s", err)
	}

	for clientID, secret := range conf.Clients {
		if err := clients.RegisterClient(clientID, secret); err != nil && err != as.ErrExists {
			log.Fatalf("ERROR: registering client %q: %s", clientID, err)
		}
	}

	rsKey, err := cose.FromECDSAPublicKey(&conf.RSSigningKey().PublicKey, []byte(conf.RSKid))
	if err != nil {
		log.Fatalf("ERROR: deriving RS confirmation key: %s", err)
	}

	srv := as.NewServer(conf.ASSigningKey(), []byte(conf.ASKid), rsKey, clients, keys, tokens, conf.Issuer)
	srv.SetTokenLifetime(conf.TokenLifetime())

	router := chi.NewMux()
	router.Use(middleware.Timeout(httpserver.WriteTimeout))
	srv.Routes(router)
	metrics.InitPromMetrics(router)
	router.Get("/readiness", httputil.Health(fmt.Sprintf("as/%s", Version)))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	go shutdown(cancel)

	httpSrv := &httpserver.Server{Router: router, Addr: conf.ASAddr}
	g.Go(func() error {
		return httpSrv.Serve(ctx)
	})

	log.Info("ready")
	if err := g.Wait(); err != nil {
		log.Error(err)
	}
}

func buildStores(conf *config.Config) (as.ClientStore, as.KeyStore, as.TokenStore, error) {
	if conf.PostgresDSN == "" {
		return as.NewMemClientStore(), as.NewMemKeyStore(), as.NewMemTokenStore(), nil
	}

	params := conf.DBParams()
	store, err := pgstore.Open(conf.PostgresDSN, params.MaxOpenConns, params.MaxIdleConns, params.ConnMaxLifetime, params.ConnMaxIdleTime)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, store, store, nil
}
