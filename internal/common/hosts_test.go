package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://www.netflix.com/browse", "netflix.com"},
		{"netflix.com", "netflix.com"},
		{"WWW.Netflix.COM", "netflix.com"},
		{"http://app.figma.com:8080/pricing", "app.figma.com"},
		{"  figma.com/pricing ", "figma.com"},
		{"", ""},
		{"https://", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHost(tt.input))
		})
	}
}

func TestHostMatches(t *testing.T) {
	assert.True(t, HostMatches("figma.com", "figma.com"))
	assert.True(t, HostMatches("app.figma.com", "figma.com"))
	assert.True(t, HostMatches("figma.com", "app.figma.com"))
	assert.False(t, HostMatches("notfigma.com", "figma.com"))
	assert.False(t, HostMatches("", "figma.com"))
}

func TestIsLocalHost(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "192.168.1.10", "10.0.0.5", "::1", "api.localhost"} {
		assert.True(t, IsLocalHost(host), host)
	}
	for _, host := range []string{"netflix.com", "8.8.8.8"} {
		assert.False(t, IsLocalHost(host), host)
	}
}
