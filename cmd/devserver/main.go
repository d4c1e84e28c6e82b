package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ai-notetaking-client/internal/config"
	"ai-notetaking-client/internal/devserver"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	sysLogger := logger.NewZapLogger("logs/devserver.log", cfg.App.Environment == "production")
	defer sysLogger.Sync()

	// 2. Tracing
	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = "notefiber-devserver"
	shutdownTracer := tracer.InitTracer(tracingCfg, sysLogger)
	defer shutdownTracer(context.Background())

	// 3. Initialize Server
	srv := devserver.NewFromConfig(cfg.DevServer, sysLogger)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	// 4. Run Server
	log.Printf("✅ Dev server is running on http://localhost:%s", cfg.DevServer.Port)
	if err := srv.Listen(":" + cfg.DevServer.Port); err != nil {
		log.Fatal(err)
	}
}
