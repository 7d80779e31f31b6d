package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  Key
		valid bool
	}{
		{"well formed", "https://s3.example.com{photos}", Key{"https://s3.example.com", "photos"}, true},
		{"endpoint with brace", "http://h/{x}{logs}", Key{"http://h/{x}", "logs"}, true},
		{"legacy bucket only", "photos", Key{}, false},
		{"empty", "", Key{}, false},
		{"no endpoint", "{photos}", Key{}, false},
		{"empty bucket", "https://h{}", Key{}, false},
		{"missing close", "https://h{photos", Key{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseKey(tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeKey_ParsesBack(t *testing.T) {
	for _, k := range []Key{
		{"https://s3.eu-west-1.amazonaws.com", "photos"},
		{"http://localhost:9000", "my.bucket-1"},
		{"https://weird{host}", "b"},
	} {
		got, ok := ParseKey(EncodeKey(k))
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
}

func TestSession_Helpers(t *testing.T) {
	now := time.Now()
	s := Session{Bucket: "photos", Token: "t", Exp: now.Add(time.Hour).UnixMilli()}

	assert.Equal(t, "photos", s.DisplayName())
	assert.True(t, s.Ready())
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(2*time.Hour)))

	s.Nickname = "Holiday pictures"
	assert.Equal(t, "Holiday pictures", s.DisplayName())
	assert.False(t, Session{Bucket: "b"}.Ready())
}
