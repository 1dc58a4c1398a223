package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/fedrecords/internal/adapter/peer"
	"github.com/heartmarshall/fedrecords/internal/auth"
	"github.com/heartmarshall/fedrecords/internal/config"
	"github.com/heartmarshall/fedrecords/internal/records"
	"github.com/heartmarshall/fedrecords/internal/schema"
	"github.com/heartmarshall/fedrecords/internal/service/federation"
	"github.com/heartmarshall/fedrecords/internal/sharing"
	"github.com/heartmarshall/fedrecords/internal/transport/middleware"
	"github.com/heartmarshall/fedrecords/internal/transport/rest"
)

// App is a fully wired server node.
type App struct {
	Handler    http.Handler
	Records    *records.Engine
	Federation *federation.Service

	cleanup []func()
}

// Close releases everything New acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// New wires a node from cfg: store, schemas, record engine, share tracking,
// federation and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	self, err := federation.NewIdentity(cfg.Identity.URL, cfg.Identity.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	schemas, err := loadSchemas(cfg.Schema)
	if err != nil {
		return nil, err
	}

	be, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, be.close)

	recs := records.NewEngine(logger, be.store, schemas, self.Host,
		records.WithSequencer(newSequencer(cfg.Records.IDScheme)),
		records.WithDefaultPerPage(cfg.Records.DefaultPerPage),
		records.WithExpandDepth(cfg.Records.ExpandDepth),
	)
	if err := recs.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ensure collections: %w", err)
	}

	graph := sharing.NewGraph(logger, recs)
	a.cleanup = append(a.cleanup, sharing.NewTracker(logger, recs, graph).Attach())

	tokens := auth.NewTokenManager(cfg.Sharing.TokenSecret, self.Host, cfg.Sharing.TokenTTL)
	svc := federation.NewService(logger, recs, graph,
		peer.NewClient(logger, cfg.Peer.Timeout),
		tokens,
		auth.NewSecrets(cfg.Sharing.InviteSecretCost),
		self,
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.CleanupInterval)
	a.cleanup = append(a.cleanup, limiter.Stop)

	var checks []rest.Check
	if be.ping != nil {
		checks = append(checks, rest.Check{Name: "store", Ping: be.ping.Ping})
	}

	router := rest.NewRouter(rest.Handlers{
		Health:     rest.NewHealthHandler(BuildVersion(), checks...),
		Records:    rest.NewRecordHandler(recs, schemas, logger),
		Federation: rest.NewFederationHandler(svc, logger),
	}, rest.RouterOptions{
		ShareToken: middleware.ShareToken(tokens),
		SyncLimit:  limiter.Limit(cfg.RateLimit.Sync, cfg.RateLimit.Window),
	})

	a.Handler = middleware.Chain(
		middleware.RequestID(),
		middleware.Actor,
		middleware.Recovery(logger),
		middleware.Logger(logger),
		middleware.CORS(cfg.CORS),
	)(router)
	a.Records = recs
	a.Federation = svc

	logger.Info("node ready",
		slog.String("identity", self.URL),
		slog.String("store", cfg.Store.Driver),
		slog.Int("collections", len(schemas.All())),
	)
	ok = true
	return a, nil
}

// loadSchemas reads the application schema file, if any, and adds the
// sharing bookkeeping collections.
func loadSchemas(cfg config.SchemaConfig) (*schema.Engine, error) {
	app, err := schema.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	engine, err := schema.New(append(app, sharing.SystemSchemas()...))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return engine, nil
}

func newSequencer(scheme string) records.Sequencer {
	if scheme == config.IDSchemeULID {
		return records.NewULIDSequencer()
	}
	return records.NewCounterSequencer()
}

// Run is the application entry point. It loads configuration, wires the
// node and serves HTTP until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log, os.Stderr)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
