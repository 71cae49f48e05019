package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"go.uber.org/zap"
)

// SheetsService imports uploaded spreadsheets and links them as databases.
type SheetsService struct {
	importer port.SpreadsheetImporter
	profiles *ProfileService
	maxBytes int64
	logger   *zap.Logger
}

// NewSheetsService creates the sheets service.
func NewSheetsService(importer port.SpreadsheetImporter, profiles *ProfileService, maxBytes int64, logger *zap.Logger) *SheetsService {
	return &SheetsService{importer: importer, profiles: profiles, maxBytes: maxBytes, logger: logger}
}

// Upload decodes the base64 file, imports it and links the new spreadsheet
// to the caller's profile.
func (s *SheetsService) Upload(ctx context.Context, subject string, req *domain.SheetsUploadRequest) (*domain.SheetsUploadResponse, error) {
	ctx, span := tracer.Start(ctx, "SheetsService.Upload")
	defer span.End()

	userID := req.UserID
	if userID == "" {
		userID = subject
	}
	if userID != subject {
		return nil, &domain.ErrForbidden{Action: "upload to another user's profile"}
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, &domain.ErrValidation{Field: "fileName", Message: "fileName is required"}
	}
	if _, ok := domain.SpreadsheetMIMEType(req.FileName); !ok {
		return nil, &domain.ErrValidation{Field: "fileName", Message: "only csv, xlsx, xls and ods files can be imported"}
	}

	content, err := decodeUpload(req.FileBase64, s.maxBytes)
	if err != nil {
		return nil, err
	}

	sheet, err := s.importer.Import(ctx, req.FileName, content)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet import: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSuffix(req.FileName, path.Ext(req.FileName))
	}
	db, err := s.profiles.AddDatabase(ctx, userID, domain.DatabaseConfig{
		Name: name,
		Kind: domain.DatabaseSpreadsheet,
		URL:  sheet.URL,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spreadsheet linked",
		zap.String("user_id", userID),
		zap.String("database_id", db.ID),
		zap.Int("bytes", len(content)),
	)
	return &domain.SheetsUploadResponse{URL: sheet.URL, Database: db}, nil
}

// decodeUpload accepts plain base64 or a data URL and enforces maxBytes.
func decodeUpload(encoded string, maxBytes int64) ([]byte, error) {
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &domain.ErrValidation{Field: "fileBase64", Message: "file content is required"}
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes+2 {
		return nil, &domain.ErrValidation{Field: "fileBase64", Message: fmt.Sprintf("file exceeds %d bytes", maxBytes)}
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "fileBase64", Message: "file content is not valid base64"}
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, &domain.ErrValidation{Field: "fileBase64", Message: fmt.Sprintf("file exceeds %d bytes", maxBytes)}
	}
	return content, nil
}
