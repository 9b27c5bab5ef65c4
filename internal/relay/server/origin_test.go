package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"https://trusted.example", "http://localhost:3000"}

	tests := []struct {
		name        string
		origin      string
		expectError bool
	}{
		{name: "allowed origin", origin: "https://trusted.example", expectError: false},
		{name: "allowed localhost", origin: "http://localhost:3000", expectError: false},
		{name: "subdomain does not match strictly", origin: "https://evil.trusted.example", expectError: true},
		{name: "prefix match rejected", origin: "https://trusted.example.evil.com", expectError: true},
		{name: "evil origin rejected", origin: "http://evil.com", expectError: true},
		{name: "no origin header allowed (native client)", origin: "", expectError: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}

			err := validateOrigin(req, allowed)

			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
