// Package server assembles the gateway: schema, resolvers, cache, event
// source, HTTP gateway, and subscription multiplexer, and runs them until
// the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/broker"
	"github.com/getmockd/gqlgateway/pkg/cache"
	"github.com/getmockd/gqlgateway/pkg/config"
	"github.com/getmockd/gqlgateway/pkg/eventstream"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/logging"
	"github.com/getmockd/gqlgateway/pkg/metrics"
	"github.com/getmockd/gqlgateway/pkg/resolvers"
	"github.com/getmockd/gqlgateway/pkg/subscription"
	"golang.org/x/sync/errgroup"
)

// ShutdownReason is sent to subscription clients when the server stops.
const ShutdownReason = "server shutting down"

// Options configures New.
type Options struct {
	Logger  *slog.Logger
	Version string
	// Authenticator overrides the one derived from the auth config.
	Authenticator auth.Authenticator
}

// Server is a runnable gateway.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	schema   *graphql.Schema
	executor *graphql.Executor
	gateway  *graphql.Handler
	mux      *subscription.Multiplexer

	broker  *broker.Broker
	mqtt    *eventstream.MQTTSource
	closers []func() error

	httpServer *http.Server
}

// New builds a Server from cfg. In mqtt broker mode it connects to the
// broker before returning.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{cfg: cfg, log: logging.OrNop(opts.Logger)}

	var err error
	if cfg.Schema.File != "" {
		s.schema, err = graphql.ParseSchemaFile(cfg.Schema.File)
	} else {
		s.schema, err = resolvers.Schema()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	types := graphql.NewTypeResolver()
	if err := types.ValidateSchema(s.schema); err != nil {
		return nil, err
	}

	authn := opts.Authenticator
	if authn == nil {
		authn, err = newAuthenticator(cfg.Auth)
		if err != nil {
			return nil, err
		}
	}

	source, err := s.newSource(ctx)
	if err != nil {
		return nil, err
	}
	stream := eventstream.NewStream(source, s.log)

	set := resolvers.New(stream, resolvers.Config{Version: opts.Version, Logger: s.log})
	s.executor = graphql.NewExecutor(s.schema, set.Resolvers(),
		graphql.WithIntrospection(cfg.Introspection),
		graphql.WithTypeResolver(types),
	)

	handlerOpts := []graphql.HandlerOption{graphql.WithLogger(s.log)}
	if cfg.Cache.Enabled {
		store, err := s.newStore(ctx)
		if err != nil {
			s.closeAll()
			return nil, err
		}
		handlerOpts = append(handlerOpts, graphql.WithCache(cache.NewMiddleware(store, cfg.Cache.ContextFields, s.log)))
	}
	s.gateway = graphql.NewHandler(s.executor, authn, handlerOpts...)

	s.mux = subscription.NewMultiplexer(s.executor, authn, subscription.Config{
		ConnectionInitTimeout: cfg.Subscriptions.ConnectionInitTimeout,
		KeepAlive:             cfg.Subscriptions.KeepAlive,
	}, s.log)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func newAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	if cfg.Mode != config.AuthJWT {
		return auth.AllowAll{}, nil
	}
	return auth.NewJWTAuthenticator(cfg.Secret, cfg.Issuer)
}

func (s *Server) newSource(ctx context.Context) (eventstream.Source, error) {
	bc := s.cfg.Broker
	if bc.Mode == config.BrokerMQTT {
		src, err := eventstream.NewMQTTSource(ctx, eventstream.MQTTConfig{
			URL:      bc.URL,
			ClientID: bc.ClientID,
			Username: bc.Username,
			Password: bc.Password,
			Logger:   s.log,
		})
		if err != nil {
			return nil, err
		}
		s.mqtt = src
		s.closers = append(s.closers, src.Close)
		return src, nil
	}

	b, err := broker.New(broker.Config{Addr: bc.EmbeddedAddr, Logger: s.log})
	if err != nil {
		return nil, err
	}
	s.broker = b
	return eventstream.NewEmbeddedSource(b), nil
}

func (s *Server) newStore(ctx context.Context) (cache.Store, error) {
	cc := s.cfg.Cache
	if cc.Store != config.StoreRedis {
		return cache.NewMemoryStore(cc.TTL), nil
	}
	store, err := cache.NewRedisStore(ctx, cc.RedisURL, cc.TTL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.SubscriptionPath, s.mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/", s.gateway)
	if !s.cfg.Server.CORS.Enabled {
		return mux
	}
	return newCORSMiddleware(mux, s.cfg.Server.CORS)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.broker != nil && !s.broker.IsRunning() {
		http.Error(w, "broker not running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// Broker returns the embedded broker, or nil in mqtt mode.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Multiplexer returns the subscription multiplexer.
func (s *Server) Multiplexer() *subscription.Multiplexer {
	return s.mux
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully:
// subscription connections are closed as going away, then the HTTP server
// and the broker stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.broker != nil {
		if err := s.broker.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("gateway listening", "addr", ln.Addr().String(), "subscriptions", s.cfg.Server.SubscriptionPath)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.log.Info("shutting down", "connections", s.mux.ConnectionCount())
	s.mux.CloseAll(ShutdownReason)

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.broker != nil {
		if err := s.broker.Stop(ctx, s.cfg.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("broker shutdown: %w", err))
		}
	}
	if err := s.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeAll() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
