// Package client holds the HTTP adapters for third-party APIs: the messaging
// provider (phone numbers) and the cloud drive (spreadsheet import).
package client

import (
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("client")

const maxErrorBody = 4 << 10

// statusError turns a non-2xx answer into an error. 4xx answers are
// permanent and must not be retried.
func statusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &domain.ErrPermanent{Status: resp.StatusCode, Body: string(body)}
	}
	return fmt.Errorf("%s API returned status %d", service, resp.StatusCode)
}
