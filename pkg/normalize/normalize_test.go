package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf and padding", "Hello\r\n  World  ", "Hello World"},
		{"lone cr", "a\rb", "a b"},
		{"tabs and newlines", "Café\t\t\nCafé", "Café Café"},
		{"decomposed accent", "Cafe\u0301", "Caf\u00e9"},
		{"unicode spaces", "a\u00a0\u2003b", "a b"},
		{"empty", "", ""},
		{"only whitespace", " \t\r\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Text(got), "must be idempotent")
		})
	}
}

func TestAuthor(t *testing.T) {
	assert.Equal(t, "@johndoe", Author("  @JohnDoe  "))
	assert.Equal(t, "", Author("   "))
	assert.Equal(t, Author("MiXeD"), Author(Author("MiXeD")))
}
