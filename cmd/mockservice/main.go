package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/mockservice"
	"github.com/bkchaithanya285/ai-tracking/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	port := flag.Int("port", 8000, "HTTP/WebSocket port")
	grpcPort := flag.Int("grpc-port", 50051, "gRPC health port (0 disables)")
	errorEvery := flag.Int("error-every", 0, "Answer every Nth frame with an error (0 disables)")
	detections := flag.Int("detections", 1, "detected_count reported per frame")
	delay := flag.Duration("delay", 0, "Simulated inference time per frame")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc := mockservice.New(mockservice.Config{
		ErrorEvery: *errorEvery,
		Detections: *detections,
		Delay:      *delay,
	}, log)

	var grpcServer *grpc.Server
	if *grpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
		if err != nil {
			log.Fatal("failed to listen on gRPC port", zap.Error(err))
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, svc.Health())
		go func() {
			log.Info("gRPC health listening", zap.Int("port", *grpcPort))
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     svc.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.Info("mock service listening",
			zap.Int("port", *port),
			zap.String("websocket", fmt.Sprintf("ws://localhost:%d/webcam/{client_id}", *port)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to serve HTTP", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	log.Info("shutting down")

	svc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}

	log.Info("goodbye")
}
