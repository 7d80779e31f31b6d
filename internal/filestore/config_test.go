package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/openbucket/internal/errs"
)

func TestConfigFromEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		ssl      bool
		wantErr  bool
	}{
		{"https://s3.eu-west-1.amazonaws.com", "s3.eu-west-1.amazonaws.com", true, false},
		{"http://localhost:9000", "localhost:9000", false, false},
		{"http://localhost:9000/", "localhost:9000", false, false},
		{"  https://minio.internal  ", "minio.internal", true, false},
		{"localhost:9000", "", false, true},
		{"ftp://host", "", false, true},
		{"https://", "", false, true},
		{"https://host/bucket", "", false, true},
		{"https://host?x=1", "", false, true},
		{"://bad", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg, err := ConfigFromEndpoint(tt.endpoint, "us-east-1", "ak", "sk")
			if tt.wantErr {
				assert.True(t, errs.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Endpoint)
			assert.Equal(t, tt.ssl, cfg.UseSSL)
			assert.Equal(t, ProviderS3, cfg.Provider)
			assert.Equal(t, "us-east-1", cfg.Region)
			assert.Equal(t, "ak", cfg.AccessKey)
		})
	}
}

func TestEndpointURL(t *testing.T) {
	cfg := DefaultConfig("localhost:9000", "a", "b")
	assert.Equal(t, "http://localhost:9000", cfg.EndpointURL())
	cfg.UseSSL = true
	assert.Equal(t, "https://localhost:9000", cfg.EndpointURL())
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, ProviderS3, p)

	p, err = ParseProvider(" MinIO ")
	require.NoError(t, err)
	assert.Equal(t, ProviderMinIO, p)

	_, err = ParseProvider("azure")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestCannedACLGrants(t *testing.T) {
	owner := Owner{ID: "o1", DisplayName: "me"}

	private := CannedACLGrants(owner, "private")
	require.Len(t, private, 1)
	assert.Equal(t, "FULL_CONTROL", private[0].Permission)
	assert.Equal(t, "o1", private[0].Grantee.ID)

	public := CannedACLGrants(owner, "public-read")
	require.Len(t, public, 2)
	assert.Equal(t, AllUsersURI, public[1].Grantee.URI)
	assert.Equal(t, "READ", public[1].Permission)

	assert.Len(t, CannedACLGrants(owner, "public-read-write"), 3)
	assert.Len(t, CannedACLGrants(owner, ""), 1)
}
