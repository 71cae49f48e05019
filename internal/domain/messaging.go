package domain

import (
	"path"
	"strings"
)

// AvailableNumber is a number offered by the messaging provider.
type AvailableNumber struct {
	Number   string `json:"number"`
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country"`
}

// PurchaseNumberRequest is the body of POST /api/phone-numbers/purchase.
type PurchaseNumberRequest struct {
	AssistantID string `json:"assistantId"`
	Number      string `json:"number,omitempty"`
	Country     string `json:"country,omitempty"`
	AreaCode    string `json:"areaCode,omitempty"`
}

// ============================================================
// Spreadsheet import
// ============================================================

// SheetsUploadRequest is the body of POST /api/sheets-upload.
type SheetsUploadRequest struct {
	UserID     string `json:"userId"`
	FileName   string `json:"fileName"`
	FileBase64 string `json:"fileBase64"`
	Name       string `json:"name,omitempty"`
}

// ImportedSpreadsheet identifies a spreadsheet created in the cloud.
type ImportedSpreadsheet struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SheetsUploadResponse is returned by POST /api/sheets-upload.
type SheetsUploadResponse struct {
	URL      string          `json:"url"`
	Database *DatabaseConfig `json:"database"`
}

var spreadsheetTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
}

// SpreadsheetMIMEType returns the upload content type for fileName's
// extension, or false when the format cannot be converted.
func SpreadsheetMIMEType(fileName string) (string, bool) {
	ext := strings.ToLower(path.Ext(fileName))
	t, ok := spreadsheetTypes[ext]
	return t, ok
}
