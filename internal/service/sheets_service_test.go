package service_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImporter struct {
	fileName string
	content  []byte
	err      error
}

func (f *fakeImporter) Import(_ context.Context, fileName string, content []byte) (*domain.ImportedSpreadsheet, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.fileName = fileName
	f.content = content
	return &domain.ImportedSpreadsheet{ID: "sheet-1", URL: "https://docs.google.com/spreadsheets/d/sheet-1"}, nil
}

func TestSheetsUpload(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")
	imp := &fakeImporter{}
	svc := service.NewSheetsService(imp, h.profiles, 1024, nopLogger())
	csv := "sku,qty\nA1,3\n"

	resp, err := svc.Upload(context.Background(), "user-1", &domain.SheetsUploadRequest{
		FileName:   "estoque.csv",
		FileBase64: "data:text/csv;base64," + base64.StdEncoding.EncodeToString([]byte(csv)),
	})
	require.NoError(t, err)
	assert.Equal(t, csv, string(imp.content))
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1", resp.URL)
	require.NotNil(t, resp.Database)
	assert.Equal(t, "estoque", resp.Database.Name)
	assert.Equal(t, domain.DatabaseSpreadsheet, resp.Database.Kind)

	p, err := h.profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	_, ok := p.Database(resp.Database.ID)
	assert.True(t, ok)
}

func TestSheetsUpload_Rejects(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")
	svc := service.NewSheetsService(&fakeImporter{}, h.profiles, 16, nopLogger())
	ok64 := base64.StdEncoding.EncodeToString([]byte("a,b\n"))

	cases := []struct {
		name string
		req  domain.SheetsUploadRequest
	}{
		{"bad extension", domain.SheetsUploadRequest{FileName: "notes.txt", FileBase64: ok64}},
		{"bad base64", domain.SheetsUploadRequest{FileName: "a.csv", FileBase64: "%%%"}},
		{"empty", domain.SheetsUploadRequest{FileName: "a.csv"}},
		{"too large", domain.SheetsUploadRequest{FileName: "a.csv", FileBase64: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64)))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := svc.Upload(context.Background(), "user-1", &req)
			var verr *domain.ErrValidation
			require.True(t, errors.As(err, &verr), "expected ErrValidation, got %v", err)
		})
	}

	_, err := svc.Upload(context.Background(), "user-1", &domain.SheetsUploadRequest{UserID: "user-2", FileName: "a.csv", FileBase64: ok64})
	var forbidden *domain.ErrForbidden
	assert.True(t, errors.As(err, &forbidden))
}

func TestSheetsUpload_ImporterFailure(t *testing.T) {
	h := newHarness(t)
	h.seedProfile(t, "user-1")
	svc := service.NewSheetsService(&fakeImporter{err: &domain.ErrCircuitOpen{Service: "sheets"}}, h.profiles, 1024, nopLogger())

	_, err := svc.Upload(context.Background(), "user-1", &domain.SheetsUploadRequest{
		FileName:   "a.csv",
		FileBase64: base64.StdEncoding.EncodeToString([]byte("a,b\n")),
	})
	var open *domain.ErrCircuitOpen
	assert.True(t, errors.As(err, &open))

	p, err := h.profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, p.Databases)
}
