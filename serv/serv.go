// Package serv exposes the aggregation engine over HTTP
package serv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dosco/aggjin/core"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version string

const serverName = "AggJin"

// Service serves aggregation requests
type Service struct {
	conf Config
	aj   *core.AggJin
	log  *zap.Logger
}

// NewService returns a service running aggregations through aj
func NewService(conf Config, aj *core.AggJin, log *zap.Logger) (*Service, error) {
	if aj == nil {
		return nil, errors.New("serv: aggregation engine is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{conf: conf, aj: aj, log: log}, nil
}

// Handler returns the routes of the service
func (s *Service) Handler() http.Handler {
	return routesHandler(s, chi.NewRouter())
}

// Start listens on the configured host and port until ctx is done, then
// shuts the server down
func (s *Service) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.conf.hostPort())
	if err != nil {
		return err
	}
	return s.serve(ctx, l)
}

func (s *Service) serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("shutdown failed", zap.Error(err))
		}
		close(idleConnsClosed)
	}()

	srv.RegisterOnShutdown(func() {
		s.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	fields := []zapcore.Field{
		zap.String("version", ver),
		zap.String("host-port", l.Addr().String()),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Production),
	}
	s.log.Info("AggJin started", fields...)

	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-idleConnsClosed
	return nil
}

// Set the server header
func setServerHeader(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
