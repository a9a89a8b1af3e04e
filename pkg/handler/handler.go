// Package handler is the invocation boundary: it validates the trigger
// payload, builds the collaborators for that payload's region and
// destination, runs the export decision, and shapes the outcome into a
// structured response. Nothing escapes past Handle — the scheduler that
// invokes it has no exception path of its own.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/export"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/metrics"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/watermark"
)

// defaultTimeout bounds one invocation end to end. Past it the
// invocation is abandoned with a failed result; an export request
// already accepted is not rolled back.
const defaultTimeout = 5 * time.Minute

// Invocation is the fixed trigger payload.
type Invocation struct {
	LogGroupName      string `json:"LOG_GROUP_NAME"`
	DestinationBucket string `json:"DESTINATION_BUCKET"`
	Region            string `json:"REGION"`
}

// ValidationError reports the required payload fields that are missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Missing, ", "))
}

// Validate fails fast when any required field is absent.
func (inv Invocation) Validate() error {
	var missing []string
	if inv.LogGroupName == "" {
		missing = append(missing, "LOG_GROUP_NAME")
	}
	if inv.DestinationBucket == "" {
		missing = append(missing, "DESTINATION_BUCKET")
	}
	if inv.Region == "" {
		missing = append(missing, "REGION")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Response mirrors an HTTP-style result for the scheduler:
// 200 exported, 204 skipped, 500 failed.
type Response struct {
	StatusCode int  `json:"statusCode"`
	Body       Body `json:"body"`
}

type Body struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
	From    int64  `json:"from,omitempty"`
	To      int64  `json:"to,omitempty"`
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Clients builds the per-invocation collaborators. Injected so tests
// and local runs swap in fakes; there is no ambient client state.
type Clients interface {
	Watermarks(ctx context.Context, inv Invocation) (watermark.Store, error)
	Source(ctx context.Context, inv Invocation) (export.SourceAPI, error)
}

// Handler orchestrates one invocation.
type Handler struct {
	Clients Clients
	Logger  *slog.Logger
	Timeout time.Duration
	Now     func() time.Time
}

// Handle runs one invocation. All failures are converted to a Response;
// it never panics past this boundary and never returns an error.
func (h *Handler) Handle(ctx context.Context, inv Invocation) (resp Response) {
	logger := h.logger().With("invocation", uuid.NewString(), "log_group", inv.LogGroupName)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("invocation panicked", "panic", r)
			metrics.ErrorsTotal.WithLabelValues("panic").Inc()
			resp = failedResponse(inv, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := inv.Validate(); err != nil {
		logger.Error("invalid invocation payload", "error", err)
		metrics.ErrorsTotal.WithLabelValues("validation").Inc()
		metrics.InvocationsTotal.WithLabelValues(inv.LogGroupName, string(export.OutcomeFailed)).Inc()
		return failedResponse(inv, err)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := h.Clients.Watermarks(ctx, inv)
	if err != nil {
		logger.Error("watermark store init failed", "error", err)
		metrics.ErrorsTotal.WithLabelValues("init").Inc()
		metrics.InvocationsTotal.WithLabelValues(inv.LogGroupName, string(export.OutcomeFailed)).Inc()
		return failedResponse(inv, err)
	}
	source, err := h.Clients.Source(ctx, inv)
	if err != nil {
		logger.Error("source client init failed", "error", err)
		metrics.ErrorsTotal.WithLabelValues("init").Inc()
		metrics.InvocationsTotal.WithLabelValues(inv.LogGroupName, string(export.OutcomeFailed)).Inc()
		return failedResponse(inv, err)
	}

	engine := &export.Engine{
		SourceID:   inv.LogGroupName,
		Watermarks: store,
		Source:     source,
		Now:        h.Now,
		Logger:     logger,
	}
	result := engine.Run(ctx)
	h.record(inv, result)
	return shapeResponse(inv, result)
}

func (h *Handler) record(inv Invocation, result export.Result) {
	metrics.InvocationsTotal.WithLabelValues(inv.LogGroupName, string(result.Outcome)).Inc()
	switch result.Outcome {
	case export.OutcomeExported:
		metrics.ExportWindowSeconds.WithLabelValues(inv.LogGroupName).Observe(float64(result.To-result.From) / 1000)
		metrics.WatermarkTimestamp.WithLabelValues(inv.LogGroupName).Set(float64(result.To))
	case export.OutcomeFailed:
		stage := "export"
		if result.Partial {
			stage = "watermark_write"
		}
		metrics.ErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func shapeResponse(inv Invocation, result export.Result) Response {
	switch result.Outcome {
	case export.OutcomeExported:
		return Response{
			StatusCode: 200,
			Body: Body{
				Message: fmt.Sprintf("Log export task created successfully for %s", inv.LogGroupName),
				TaskID:  result.TaskID,
				From:    result.From,
				To:      result.To,
			},
		}
	case export.OutcomeSkipped:
		return Response{
			StatusCode: 204,
			Body: Body{
				Message: fmt.Sprintf("No new logs detected for %s. Skipping task creation.", inv.LogGroupName),
			},
		}
	default:
		resp := failedResponse(inv, result.Err)
		resp.Body.TaskID = result.TaskID
		resp.Body.From = result.From
		resp.Body.To = result.To
		resp.Body.Partial = result.Partial
		if result.Partial {
			resp.Body.Message = fmt.Sprintf("Export task created for %s but watermark update failed; next run re-exports an overlapping window", inv.LogGroupName)
		}
		return resp
	}
}

func failedResponse(inv Invocation, err error) Response {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Response{
		StatusCode: 500,
		Body: Body{
			Message: fmt.Sprintf("Log export failed for %s", inv.LogGroupName),
			Error:   detail,
		},
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
