package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers for GET, POST, PATCH, DELETE
// ============================================================

const (
	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"
	preferUpsert         = "resolution=merge-duplicates,return=representation"
)

// send executes an authenticated request to PostgREST. 4xx answers become
// *domain.ErrPermanent so they are not retried.
func (c *Client) send(ctx context.Context, method, path string, payload any, prefer string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", method, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		if resp.StatusCode < 500 {
			return nil, &domain.ErrPermanent{Status: resp.StatusCode, Body: string(respBody)}
		}
		return nil, fmt.Errorf("supabase %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	return c.send(ctx, method, path, nil, "")
}

func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	return c.send(ctx, http.MethodPost, table, data, preferRepresentation)
}

func (c *Client) doUpsert(ctx context.Context, table, conflictColumn string, data any) ([]byte, error) {
	path := fmt.Sprintf("%s?on_conflict=%s", table, conflictColumn)
	return c.send(ctx, http.MethodPost, path, data, preferUpsert)
}

// doPatch updates rows matching path. With returning set, the updated rows
// are returned so conditional updates can tell whether they matched.
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any, returning bool) ([]byte, error) {
	prefer := preferMinimal
	if returning {
		prefer = preferRepresentation
	}
	return c.send(ctx, http.MethodPatch, path, data, prefer)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.send(ctx, http.MethodDelete, path, nil, "")
	return err
}

func (c *Client) doRPC(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	return c.send(ctx, http.MethodPost, "rpc/"+fn, args, "")
}

// eq builds a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return fmt.Sprintf("%s=eq.%s", column, url.QueryEscape(value))
}

// decodeRows decodes a PostgREST array response; an empty body yields no rows.
func decodeRows[T any](body []byte) ([]T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []T{}, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isStatus reports whether err carries an upstream rejection with status.
func isStatus(err error, status int) bool {
	var permanent *domain.ErrPermanent
	return errors.As(err, &permanent) && permanent.Status == status
}
