package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePemKeypair(t *testing.T) {
	pair, err := GeneratePemKeypair(2048)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(pair.Private))
	require.NotNil(t, block)
	assert.Equal(t, "RSA PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err)

	block, _ = pem.Decode([]byte(pair.Public))
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)
	_, err = x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Bob", "Bob"},
		{"tags", `<p>Hello <a href="https://x.example">world</a></p>`, "Hello world"},
		{"script", `Bob<script>alert(1)</script>`, "Bob"},
		{"whitespace", "  multi\n\nline  ", "multi line"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripMarkup(tt.input))
		})
	}
}

func TestNormalizeInput(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; c", NormalizeInput("a <b>\nc"))
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())
	assert.True(t, strings.HasPrefix(UserAgent(), "stegofed/"))
	assert.Contains(t, GetNameAndVersion(), Name)
}
