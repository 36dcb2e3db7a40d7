// Package handler wraps API Gateway Lambda handlers with correlation ids,
// input/result logging and error-to-response mapping.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jacentio/itemstore/logging"
	"github.com/jacentio/itemstore/store"
)

// CorrelationHeader is the request header carrying the caller's correlation id.
const CorrelationHeader = "Correlation_Id"

// Func is the body of an API Gateway proxy handler.
type Func func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// DeliberateError is raised on purpose by a handler, e.g. to exercise alarms.
type DeliberateError struct {
	Message string
}

func (e *DeliberateError) Error() string {
	return e.Message
}

// Wrap returns a handler that attaches a correlation id to ctx, logs the
// input event and the function result, and converts errors into responses.
// The returned handler never returns an error itself.
func Wrap(logger *zap.Logger, name string, fn Func) Func {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		id := RequestCorrelationID(req)
		ctx = logging.WithCorrelationID(ctx, id)

		logger.Info("Input event",
			zap.String("function", name),
			zap.String("http_method", req.HTTPMethod),
			zap.String("path", req.Path),
			zap.Any("path_parameters", req.PathParameters),
			zap.Any("query_parameters", req.QueryStringParameters),
			zap.String("correlation_id", id),
		)

		resp, err := fn(ctx, req)
		if err != nil {
			status := StatusCode(err)
			if status == http.StatusMethodNotAllowed {
				logger.Warn("deliberate error", zap.Error(err), zap.String("correlation_id", id))
			} else {
				logger.Error("function failed",
					zap.String("function", name),
					zap.Int("status_code", status),
					zap.Error(err),
					zap.String("correlation_id", id),
				)
			}
			resp = ErrorResponse(err, id)
		}

		logger.Info("Function result",
			zap.String("function", name),
			zap.Int("status_code", resp.StatusCode),
			zap.String("correlation_id", id),
		)
		return resp, nil
	}
}

// RequestCorrelationID returns the request's correlation id header, or a new id.
func RequestCorrelationID(req events.APIGatewayProxyRequest) string {
	if id := req.Headers[CorrelationHeader]; id != "" {
		return id
	}
	for name, value := range req.Headers {
		if strings.EqualFold(name, CorrelationHeader) && value != "" {
			return value
		}
	}
	return logging.NewCorrelationID()
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var deliberate *DeliberateError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &deliberate):
		return http.StatusMethodNotAllowed
	case store.IsConflict(err):
		return http.StatusConflict
	case store.IsNotFound(err):
		return http.StatusNotFound
	case store.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse renders err as a JSON response. Store errors expose their
// message and details; other errors expose their message only.
func ErrorResponse(err error, correlationID string) events.APIGatewayProxyResponse {
	status := StatusCode(err)

	var body []byte
	if e := store.AsError(err); e != nil && status != http.StatusMethodNotAllowed {
		withID := *e
		withID.Details = make(map[string]any, len(e.Details)+1)
		for k, v := range e.Details {
			withID.Details[k] = v
		}
		body = withID.WithCorrelationID(correlationID).ResponseBody()
	} else {
		body, _ = json.Marshal(map[string]string{
			"error":          err.Error(),
			"correlation_id": correlationID,
		})
	}
	return response(status, body)
}

// JSON renders v as a JSON response with the given status.
func JSON(status int, v any) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return response(status, body), nil
}

func response(status int, body []byte) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
