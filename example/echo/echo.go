package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zereker/msgframe"
)

// Server echoes every frame back to the connection it came from.
type Server struct {
	metrics *msgframe.Metrics
	maxSize int

	sync.RWMutex
	connections map[string]*msgframe.Conn
}

func newHandler(metrics *msgframe.Metrics, maxSize int) *Server {
	return &Server{
		metrics:     metrics,
		maxSize:     maxSize,
		connections: make(map[string]*msgframe.Conn),
	}
}

func (s *Server) Handle(conn *net.TCPConn) {
	connID := uuid.NewString()
	logger := slog.Default().With("conn_id", connID)

	errorOption := msgframe.OnErrorOption(func(err error) msgframe.ErrorAction {
		logger.Error("connection error", "error", err)
		return msgframe.Disconnect
	})

	// Echo
	onMessageOption := msgframe.OnMessageOption(func(m *msgframe.NetworkMessage) error {
		c := s.getConn(connID)
		if c == nil {
			return msgframe.ErrConnectionClosed
		}
		return c.WriteTimeout(m, 5*time.Second)
	})

	newConn, err := msgframe.NewConn(conn,
		errorOption,
		onMessageOption,
		msgframe.LoggerOption(logger),
		msgframe.MetricsOption(s.metrics),
		msgframe.MessageMaxSize(s.maxSize),
		msgframe.BufferSizeOption(64),
	)
	if err != nil {
		logger.Error("failed to wrap connection", "error", err)
		_ = conn.Close()
		return
	}

	s.addConn(connID, newConn)
	defer s.deleteConn(connID)

	_ = newConn.Run(context.Background())
}

func (s *Server) addConn(connID string, conn *msgframe.Conn) {
	s.Lock()
	defer s.Unlock()

	slog.Info("add new conn", "connID", connID, "addr", conn.Addr())
	s.connections[connID] = conn
}

func (s *Server) deleteConn(connID string) {
	s.Lock()
	defer s.Unlock()

	delete(s.connections, connID)
}

func (s *Server) getConn(connID string) *msgframe.Conn {
	s.RLock()
	defer s.RUnlock()

	return s.connections[connID]
}

func (s *Server) closeAll() {
	s.RLock()
	defer s.RUnlock()

	for _, c := range s.connections {
		_ = c.Close()
	}
}

func main() {
	listen := flag.String("listen", "127.0.0.1:12345", "address to accept framed connections on")
	metricsAddr := flag.String("metrics", "127.0.0.1:9100", "address to serve /metrics on, empty to disable")
	maxSize := flag.Int("max-frame-size", 1<<20, "largest accepted payload in bytes")
	flag.Parse()

	addr, err := net.ResolveTCPAddr("tcp", *listen)
	if err != nil {
		slog.Error("invalid listen address", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := msgframe.NewMetrics(registry, "echo")

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	server, err := msgframe.New(addr)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := newHandler(metrics, *maxSize)
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		handler.closeAll()
	}()

	slog.Info("server start", "addr", addr.String())
	if err := server.Serve(ctx, handler); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
	}
}
