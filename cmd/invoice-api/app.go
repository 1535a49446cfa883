package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/InvoiceBox/internal/broker/kafka"
	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownGrace = 5 * time.Second

type invoiceAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	// shutdownGrace bounds how long open upload streams may run after shutdown starts.
	// It must cover one slice: the record timeout plus the pause between slices.
	shutdownGrace time.Duration

	onListen func(httpAddr string)
	// onShutdown runs when the HTTP server starts shutting down.
	onShutdown func()
}

type kafkaConsumer interface {
	ConsumeInvoiceIngested(ctx context.Context, handle kafka.InvoiceIngestedHandler) error
}

type cacheInvalidator interface {
	ApplyInvoiceIngested(ctx context.Context, msg messages.InvoiceIngested) error
}

// runInvoiceAPI serves HTTP and, when consumer is set, applies invoice.ingested
// messages until ctx is done or either side fails.
func runInvoiceAPI(ctx context.Context, opts invoiceAPIOpts, handler http.Handler, inv cacheInvalidator, consumer kafkaConsumer) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gctx, lis, handler, opts.shutdownGrace, opts.onShutdown)
	})

	if consumer != nil {
		g.Go(func() error {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			return consumer.ConsumeInvoiceIngested(gctx, invalidateCache(inv))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runHTTPServer(ctx context.Context, lis net.Listener, handler http.Handler, grace time.Duration, onShutdown func()) error {
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if onShutdown != nil {
		srv.RegisterOnShutdown(onShutdown)
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		// открытые стримы дописывают текущий срез и отдают resume
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Serve возвращается сразу после закрытия листенера, ждём сами стримы
	if err := <-shutdownErr; err != nil {
		slog.Warn("HTTP server shutdown", "error", err.Error())
		return errors.Wrap(err, "shutdown http server")
	}
	slog.Info("HTTP server stopped")
	return nil
}

// invalidateCache never fails the consumer: a cache that could not be cleared
// expires on its own TTL.
func invalidateCache(inv cacheInvalidator) kafka.InvoiceIngestedHandler {
	return func(ctx context.Context, m messages.InvoiceIngested) error {
		if err := inv.ApplyInvoiceIngested(ctx, m); err != nil {
			slog.Warn("apply invoice.ingested", "shipment_id", m.ShipmentID, "error", err.Error())
		}
		return nil
	}
}
