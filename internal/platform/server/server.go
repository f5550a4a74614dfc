package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName はヘルスチェックで公開するサービス名です。
const ServiceName = "directorysync.v1.Sync"

// Server は gRPC (ヘルスチェック・リフレクション) と メトリクス HTTP エンドポイントのライフサイクルを管理します。
type Server struct {
	listenAddr  string
	metricsAddr string
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
}

// New はサーバーを構築します。metrics が nil の場合 HTTP エンドポイントは起動しません。
func New(listenAddr, metricsAddr string, metrics http.Handler, opts ...grpc.ServerOption) *Server {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	// 初回の同期が完了するまでは NOT_SERVING
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	s := &Server{
		listenAddr:  listenAddr,
		metricsAddr: metricsAddr,
		grpcServer:  srv,
		health:      hs,
	}
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return s
}

// RegisterService はサービス実装を登録します。Run より前に呼び出す必要があります。
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.grpcServer.RegisterService(desc, impl)
}

// SetServing は直近の同期結果に応じてヘルスチェックの状態を切り替えます。
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Run は待ち受けを開始し、コンテキストがキャンセルされると GracefulStop します。
func (s *Server) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listenAddr, err)
	}

	var httpLis net.Listener
	if s.httpServer != nil {
		httpLis, err = net.Listen("tcp", s.metricsAddr)
		if err != nil {
			grpcLis.Close()
			return fmt.Errorf("listen on %s: %w", s.metricsAddr, err)
		}
	}

	return s.Serve(ctx, grpcLis, httpLis)
}

// Serve は与えられたリスナーで待ち受けます。httpLis が nil の場合 HTTP エンドポイントは起動しません。
func (s *Server) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		if s.httpServer != nil && httpLis != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})

	if s.httpServer != nil && httpLis != nil {
		g.Go(func() error {
			if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// GracefulStop はサーバーを安全に停止します。
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}
