// Package server implements the TCP accept loop for Stratum connections:
// listener setup (plain or TLS), max-connections enforcement, the job
// broadcast fan-out, the Prometheus /metrics + /health endpoint, and
// graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/config"
	"github.com/wernerpool/stratum/internal/session"
	"github.com/wernerpool/stratum/internal/share"
	"github.com/wernerpool/stratum/internal/stats"
	"github.com/wernerpool/stratum/internal/template"
)

var (
	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_active_connections",
		Help: "Number of active TCP connections",
	})
	totalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_total_connections",
		Help: "Total number of TCP connections accepted",
	})
	connectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_connection_errors",
		Help: "Total number of connection accept errors",
	})
)

func init() {
	prometheus.MustRegister(activeConnections, totalConnections, connectionErrors)
}

// Server is the Stratum TCP server.
type Server struct {
	cfg       config.ServerConfig
	pool      config.MiningConfig
	logger    *zap.Logger
	templates *template.Manager
	validator *share.Validator
	store     *stats.Store

	listener      net.Listener
	metricsServer *http.Server
	sessions      sync.Map // map[string]*session.Session
	connCount     int64
	shutdown      int32
	wg            sync.WaitGroup
}

// New constructs a Server. Nothing is listened on until Start is called.
func New(cfg config.ServerConfig, pool config.MiningConfig, templates *template.Manager, validator *share.Validator, store *stats.Store, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		pool:      pool,
		logger:    logger.Named("server"),
		templates: templates,
		validator: validator,
		store:     store,
	}
}

// Start binds the listener and runs the accept loop until ctx is cancelled
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var listener net.Listener
	var err error
	if s.cfg.TLS.Enabled {
		listener, err = s.createTLSListener(addr)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	s.listener = listener

	s.logger.Info("server started",
		zap.String("address", addr),
		zap.Bool("tls", s.cfg.TLS.Enabled),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)

	go s.broadcastJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shutdown) == 1 {
				return nil
			}
			s.logger.Error("accept failed", zap.Error(err))
			connectionErrors.Inc()
			continue
		}

		if atomic.LoadInt64(&s.connCount) >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("max connections reached, rejecting", zap.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) createTLSListener(addr string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificates: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.Listen("tcp", addr, tlsConfig)
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	atomic.AddInt64(&s.connCount, 1)
	activeConnections.Inc()
	totalConnections.Inc()
	defer func() {
		atomic.AddInt64(&s.connCount, -1)
		activeConnections.Dec()
	}()

	sess := session.New(conn, s.cfg, s.pool, s.templates, s.validator, s.store, s.logger)
	s.sessions.Store(sess.ID(), sess)
	defer s.sessions.Delete(sess.ID())

	s.logger.Debug("new connection", zap.String("id", sess.ID()), zap.String("remote_addr", conn.RemoteAddr().String()))

	if err := sess.Handle(ctx); err != nil {
		s.logger.Debug("connection closed", zap.String("id", sess.ID()), zap.Error(err))
	}
}

// broadcastJobs pushes every newly published Job to every authorized
// session (§4.4 "Broadcast"): on a clean_jobs=true refresh every
// subscribed+authorized session gets exactly one mining.notify.
func (s *Server) broadcastJobs(ctx context.Context) {
	jobChan := s.templates.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobChan:
			s.sessions.Range(func(key, value interface{}) bool {
				sess := value.(*session.Session)
				if err := sess.SendJob(job); err != nil {
					s.logger.Debug("failed to send job", zap.String("id", key.(string)), zap.Error(err))
				}
				return true
			})
		}
	}
}

// StartMetricsServer serves Prometheus metrics and a liveness endpoint.
func (s *Server) StartMetricsServer() error {
	addr := fmt.Sprintf(":%d", s.cfg.Metrics.Port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.metricsServer = &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("metrics server started", zap.String("address", addr))
	return s.metricsServer.ListenAndServe()
}

// Shutdown stops accepting connections, closes every session, and waits
// (bounded by ctx) for in-flight handlers to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shutdown, 1)

	if s.listener != nil {
		s.listener.Close()
	}

	s.sessions.Range(func(key, value interface{}) bool {
		value.(*session.Session).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections closed")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, some connections may be forcefully closed")
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}
	return nil
}

// ConnectionCount returns the current number of active connections.
func (s *Server) ConnectionCount() int64 {
	return atomic.LoadInt64(&s.connCount)
}
