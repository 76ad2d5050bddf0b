package rpcserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

// httpError matches the error body of the HTTP API.
type httpError struct {
	Error string `json:"error"`
}

// NewCustomHTTPErrorHandler creates an error handler for the gateway that writes
// {"error": message} with the HTTP status mapped from the gRPC code.
func NewCustomHTTPErrorHandler(logger *slog.Logger) runtime.ErrorHandlerFunc {
	return func(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, err error) {
		st := status.Convert(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))

		buf, marshalErr := json.Marshal(httpError{Error: st.Message()})
		if marshalErr != nil {
			logger.Error("failed to marshal http error response body", "error", marshalErr)
			return
		}

		if _, writeErr := w.Write(buf); writeErr != nil {
			logger.Error("failed to write http error response", "error", writeErr)
		}
	}
}
