package entity

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid https URL", url: "https://example.com/article/1", wantErr: false},
		{name: "valid http URL", url: "http://example.com/article", wantErr: false},
		{name: "valid URL with port", url: "https://example.com:8080/a", wantErr: false},
		{name: "valid URL with query", url: "https://example.com/a?id=3", wantErr: false},
		{name: "valid URL with fragment", url: "https://example.com/a#section", wantErr: false},
		{name: "empty URL", url: "", wantErr: true},
		{name: "invalid scheme - ftp", url: "ftp://example.com/a", wantErr: true},
		{name: "invalid scheme - javascript", url: "javascript:alert(1)", wantErr: true},
		{name: "no host", url: "https://", wantErr: true},
		{name: "malformed URL", url: "ht!tp://example.com", wantErr: true},
		{name: "no scheme", url: "example.com", wantErr: true},
		{name: "URL exceeding maximum length", url: "https://example.com/" + strings.Repeat("a", 2050), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL_ErrorTypes(t *testing.T) {
	inputs := []string{
		"",
		"https://example.com/" + strings.Repeat("a", 2050),
		"ftp://example.com",
		"https://",
		"ht!tp://example.com",
	}

	for _, in := range inputs {
		err := ValidateURL(in)
		var validationErr *ValidationError
		assert.True(t, errors.As(err, &validationErr), "input %q: expected ValidationError, got %T", in, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}
