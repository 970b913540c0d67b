package service

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest document accepted for analysis
const MaxFileSize = 10 << 20

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ValidateFile checks name and size before anything is sent to the analysis service
func ValidateFile(name string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "file", Message: "No file provided"}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := contentTypes[ext]; !ok {
		return &ValidationError{Field: "file type", Message: "Only PDF, DOC and DOCX files are allowed"}
	}
	if size <= 0 {
		return &ValidationError{Field: "file size", Message: "File is empty"}
	}
	if size > MaxFileSize {
		return &ValidationError{
			Field:   "file size",
			Message: fmt.Sprintf("File is larger than %s", FormatFileSize(MaxFileSize)),
		}
	}
	return nil
}

// ContentTypeFor returns the MIME type for an accepted document name
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// FormatFileSize renders a byte count the way the upload form shows it
func FormatFileSize(size int64) string {
	if size <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
	return s + " " + units[i]
}
