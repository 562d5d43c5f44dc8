package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/courseport-backend/internal/app"
	"github.com/yungbote/courseport-backend/internal/observability"
	"github.com/yungbote/courseport-backend/internal/platform/envutil"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	shutdownOTel := observability.InitOTel(context.Background(), a.Log, observability.OtelConfig{
		ServiceName: a.Cfg.ServiceName,
		Environment: a.Cfg.Environment,
		Version:     a.Cfg.Version,
	})
	defer func() {
		if shutdownOTel == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}()

	if m := observability.Init(a.Log); m != nil {
		m.StartServer(context.Background(), a.Log, envutil.Str("METRICS_ADDR", ":9109"))
	}

	port := envutil.Str("PORT", "8080")
	a.Log.Info("Starting HTTP server", "port", port)
	if err := a.Run(":" + port); err != nil {
		a.Log.Fatal("HTTP server exited", "error", err)
	}
}
