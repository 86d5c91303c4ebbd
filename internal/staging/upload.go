package staging

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	apperrors "ibkr-dashboard/internal/errors"
)

// Upload validation messages shown to the user.
const (
	MsgNoFile     = "No file uploaded"
	MsgNoFilename = "No file selected"
	MsgNotCSV     = "Please upload a CSV file"
	MsgEmptyFile  = "The uploaded file is empty"
	MsgNotText    = "The uploaded file is not valid UTF-8 text"
	MsgTooLarge   = "The uploaded file is too large"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ValidateUpload checks an uploaded file and returns its decoded text.
func ValidateUpload(filename string, content []byte) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", apperrors.NewValidationError("file", filename, MsgNoFilename)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return "", apperrors.NewValidationError("file", filename, MsgNotCSV)
	}

	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return "", apperrors.NewValidationError("file", filename, MsgNotText)
	}

	text := string(content)
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("file", filename, MsgEmptyFile)
	}
	return text, nil
}
