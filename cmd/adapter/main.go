// Command adapter runs the USDT-M perpetual trading adapter until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbelos/usdm/config"
	"github.com/arbelos/usdm/internal/adapters/binance"
	"github.com/arbelos/usdm/internal/events"
	"github.com/arbelos/usdm/internal/observability"
)

const startTimeout = 30 * time.Second

type stdLogger struct {
	out *log.Logger
}

func (l stdLogger) Debug(msg string, fields ...observability.Field) { l.print("DEBUG", msg, fields) }
func (l stdLogger) Info(msg string, fields ...observability.Field)  { l.print("INFO", msg, fields) }
func (l stdLogger) Error(msg string, fields ...observability.Field) { l.print("ERROR", msg, fields) }

func (l stdLogger) print(level, msg string, fields []observability.Field) {
	args := make([]any, 0, len(fields)+2)
	args = append(args, level, msg)
	for _, f := range fields {
		args = append(args, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.out.Println(args...)
}

func main() {
	logger := log.New(os.Stderr, "adapter ", log.LstdFlags)
	observability.SetLogger(stdLogger{out: logger})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.FromEnv()
	if cfg.Credentials.APIKey == "" || cfg.Credentials.APISecret == "" {
		logger.Fatal("USDM_API_KEY and USDM_API_SECRET are required")
	}

	adapter := binance.New(binance.Options{Config: binance.Config{
		APIKey:       cfg.Credentials.APIKey,
		APISecret:    cfg.Credentials.APISecret,
		RESTBaseURL:  cfg.RESTBaseURL,
		WSPrivateURL: cfg.WSPrivateURL,
		HTTPTimeout:  cfg.HTTPTimeout,
		RecvWindow:   cfg.RecvWindow,
		TickInterval: cfg.TickInterval,
	}})
	defer adapter.Close()

	startCtx, startCancel := context.WithTimeout(ctx, startTimeout)
	err := adapter.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Fatalf("start adapter: %v", err)
	}

	fills, unsubFills := adapter.Events().Subscribe(events.TopicFill, 64)
	defer unsubFills()
	errors, unsubErrors := adapter.Events().Subscribe(events.TopicError, 64)
	defer unsubErrors()

	for {
		select {
		case <-ctx.Done():
			logger.Print("shutting down")
			return
		case event, ok := <-fills:
			if !ok {
				return
			}
			logger.Printf("fill: %+v", event.Payload)
		case event, ok := <-errors:
			if !ok {
				return
			}
			logger.Printf("error: %v", event.Payload)
		}
	}
}
