package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/handler"
)

func main() {
	logger := newLogger()
	h := &handler.Handler{
		Clients: handler.AWSClients{},
		Logger:  logger,
	}

	// The scheduler has no error path; Handle always shapes a response.
	lambda.Start(func(ctx context.Context, inv handler.Invocation) (handler.Response, error) {
		return h.Handle(ctx, inv), nil
	})
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_EXPORTER_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("component", "lambda")
}
