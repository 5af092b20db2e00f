package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maisonarome/orders-service/internal/config"
	"github.com/maisonarome/orders-service/internal/gateway"
	"github.com/maisonarome/orders-service/internal/gateway/fawry"
	"github.com/maisonarome/orders-service/internal/gateway/paymob"
	"github.com/maisonarome/orders-service/internal/gateway/paypal"
	"github.com/maisonarome/orders-service/internal/gateway/rates"
	"github.com/maisonarome/orders-service/internal/httpx"
	"github.com/maisonarome/orders-service/internal/orders"
	ordersqlite "github.com/maisonarome/orders-service/internal/orders/sqlite"
	"github.com/maisonarome/orders-service/internal/pkg/cache"
	"github.com/maisonarome/orders-service/internal/pkg/telemetry"
	"github.com/maisonarome/orders-service/internal/webhook"
	webhooksqlite "github.com/maisonarome/orders-service/internal/webhook/sqlite"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "orders-service"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, err := ordersqlite.Open(cfg.OrdersDBPath)
	if err != nil {
		slog.Error("failed to open orders database", "path", cfg.OrdersDBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ledger, err := webhooksqlite.Open(cfg.WebhookDBPath)
	if err != nil {
		slog.Error("failed to open webhook ledger", "path", cfg.WebhookDBPath, "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	redisCache := cache.NewRedisCache(cfg.RedisAddr, "orders")

	gateways := buildGateways(cfg, redisCache)
	if len(gateways) == 0 {
		slog.Warn("no payment gateways configured, card and wallet payments disabled")
	}

	svc := orders.NewService(store, gateways, redisCache, cfg.StatsTTL, cfg.StoreCurrency)
	receiver := webhook.NewReceiver(gateways, ledger, svc)
	router := httpx.NewRouter(httpx.NewHandler(svc), receiver)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           otelhttp.NewHandler(router, "orders-service"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orders service listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// buildGateways registers every gateway whose credentials are present.
// A gateway with incomplete configuration is skipped with a warning rather
// than failing startup, so a deployment can run with a subset of providers.
func buildGateways(cfg config.Config, c cache.Cache) map[string]gateway.Gateway {
	gateways := make(map[string]gateway.Gateway)

	if cfg.PayPal.ClientID != "" {
		baseURL := cfg.PayPal.BaseURL
		if baseURL == "" && cfg.PayPal.Live {
			baseURL = paypal.LiveBaseURL
		}
		pp, err := paypal.New(paypal.Config{
			ClientID: cfg.PayPal.ClientID,
			Secret:   cfg.PayPal.Secret,
			BaseURL:  baseURL,
		}, c, rates.NewStatic(), cfg.GatewayTimeout)
		if err != nil {
			slog.Warn("paypal gateway not registered", "error", err)
		} else {
			gateways[pp.Name()] = pp
		}
	}

	if cfg.Paymob.APIKey != "" {
		pm, err := paymob.New(paymob.Config{
			APIKey:        cfg.Paymob.APIKey,
			IntegrationID: cfg.Paymob.IntegrationID,
			IframeID:      cfg.Paymob.IframeID,
			HMACSecret:    cfg.Paymob.HMACSecret,
			BaseURL:       cfg.Paymob.BaseURL,
		}, c, cfg.GatewayTimeout)
		if err != nil {
			slog.Warn("paymob gateway not registered", "error", err)
		} else {
			gateways[pm.Name()] = pm
		}
	}

	if cfg.Fawry.MerchantCode != "" {
		fw, err := fawry.New(fawry.Config{
			MerchantCode: cfg.Fawry.MerchantCode,
			SecureKey:    cfg.Fawry.SecureKey,
			BaseURL:      cfg.Fawry.BaseURL,
		}, cfg.GatewayTimeout)
		if err != nil {
			slog.Warn("fawry gateway not registered", "error", err)
		} else {
			gateways[fw.Name()] = fw
		}
	}

	return gateways
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
