package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	sheetsService         = "sheets"
	googleSpreadsheetMIME = "application/vnd.google-apps.spreadsheet"
)

// NewDriveHTTPClient returns an http.Client authorized with the service
// account key in credentialsJSON.
func NewDriveHTTPClient(ctx context.Context, credentialsJSON []byte) (*http.Client, error) {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return conf.Client(ctx), nil
}

// SheetsClient implements port.SpreadsheetImporter by uploading files to
// Drive with conversion to a native spreadsheet.
type SheetsClient struct {
	files  *drive.FilesService
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

// NewSheetsClient creates a SheetsClient. httpClient must already carry
// Drive credentials; baseURL overrides the API host when set.
func NewSheetsClient(ctx context.Context, httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) (*SheetsClient, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(baseURL, "/")+"/drive/v3/"))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &SheetsClient{
		files:  svc.Files,
		cb:     cb,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Import uploads content as fileName and returns the converted spreadsheet.
func (c *SheetsClient) Import(ctx context.Context, fileName string, content []byte) (*domain.ImportedSpreadsheet, error) {
	ctx, span := tracer.Start(ctx, "SheetsClient.Import")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", fileName), attribute.Int("file.size", len(content)))

	mediaType, ok := domain.SpreadsheetMIMEType(fileName)
	if !ok {
		return nil, &domain.ErrValidation{Field: "fileName", Message: "unsupported spreadsheet format"}
	}

	meta := &drive.File{
		Name:     strings.TrimSuffix(fileName, path.Ext(fileName)),
		MimeType: googleSpreadsheetMIME,
	}

	// Uploads are not idempotent.
	cfg := c.cfg
	cfg.MaxRetries = 0
	var file *drive.File
	err := resilience.Call(ctx, c.cb, cfg, sheetsService, func() error {
		var err error
		file, err = c.files.Create(meta).
			Media(bytes.NewReader(content), googleapi.ContentType(mediaType)).
			Fields("id", "webViewLink").
			Context(ctx).
			Do()
		return driveError(err)
	})
	if err != nil {
		c.logger.Error("sheets: upload failed", zap.String("file", fileName), zap.Error(err))
		return nil, err
	}

	url := file.WebViewLink
	if url == "" {
		url = "https://docs.google.com/spreadsheets/d/" + file.Id
	}
	c.logger.Info("sheets: spreadsheet imported", zap.String("file_id", file.Id))
	return &domain.ImportedSpreadsheet{ID: file.Id, URL: url}, nil
}

// driveError marks 4xx API answers as permanent.
func driveError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return &domain.ErrPermanent{Status: apiErr.Code, Body: apiErr.Message}
	}
	return err
}
