package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8080", false},
		{":8080", false},
		{"localhost:65535", false},
		{"localhost:0", true},
		{"localhost:70000", true},
		{"no-port", true},
		{"", true},
	}
	for _, tt := range tests {
		err := validateAddr(tt.addr)
		if tt.wantErr {
			assert.Error(t, err, "addr %q", tt.addr)
		} else {
			assert.NoError(t, err, "addr %q", tt.addr)
		}
	}
}
