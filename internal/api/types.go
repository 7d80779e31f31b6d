package api

import (
	"net/url"
	"strings"
	"time"

	"github.com/koustreak/openbucket/internal/errs"
)

// --- objects ---

// Owner identifies the owner of an object.
type Owner struct {
	DisplayName string `json:"DisplayName"`
	ID          string `json:"ID"`
}

// Object is one entry of an object listing. Field names follow the S3
// ListObjectsV2 response.
type Object struct {
	Key          string    `json:"Key"`
	Size         int64     `json:"Size"`
	LastModified time.Time `json:"LastModified"`
	ETag         string    `json:"ETag"`
	Owner        *Owner    `json:"Owner,omitempty"`
	StorageClass string    `json:"StorageClass,omitempty"`
}

// ObjectHead is the full metadata of a single object, as returned by the
// detail endpoint.
type ObjectHead struct {
	Key           string            `json:"Key"`
	ContentLength int64             `json:"ContentLength"`
	ContentType   string            `json:"ContentType"`
	ETag          string            `json:"ETag"`
	LastModified  time.Time         `json:"LastModified"`
	StorageClass  string            `json:"StorageClass,omitempty"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
}

// PresignResult is a time-limited download URL.
type PresignResult struct {
	URL string `json:"url"`

	// ExpiresIn is the validity of URL in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// --- ACLs ---

// AccessLevel is the public-access shortcut accepted by the ACL endpoint.
type AccessLevel string

const (
	AccessNone AccessLevel = "none"
	AccessRead AccessLevel = "read"
)

// ParseAccessLevel validates s, ignoring case and surrounding space.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch lvl := AccessLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case AccessNone, AccessRead:
		return lvl, nil
	default:
		return "", errs.Invalid("unknown access level %q (want none or read)", s)
	}
}

// CannedACL returns the S3 canned ACL that implements the level.
func (l AccessLevel) CannedACL() string {
	if l == AccessRead {
		return "public-read"
	}
	return "private"
}

// Canned ACLs accepted by PUT /{bucket}/object/acl.
var CannedACLs = []string{
	"private",
	"public-read",
	"public-read-write",
	"authenticated-read",
	"bucket-owner-read",
	"bucket-owner-full-control",
}

// NormalizeCannedACL lowercases and trims acl and checks it is a known
// canned ACL.
func NormalizeCannedACL(acl string) (string, error) {
	acl = strings.ToLower(strings.TrimSpace(acl))
	for _, c := range CannedACLs {
		if c == acl {
			return acl, nil
		}
	}
	return "", errs.Invalid("unknown canned ACL %q", acl)
}

// Grantee is the subject of a grant.
type Grantee struct {
	Type        string `json:"Type"`
	ID          string `json:"ID,omitempty"`
	DisplayName string `json:"DisplayName,omitempty"`
	URI         string `json:"URI,omitempty"`
}

// Grant is one ACL entry.
type Grant struct {
	Grantee    Grantee `json:"Grantee"`
	Permission string  `json:"Permission"`
}

// AllUsersURI is the grantee URI for anonymous access.
const AllUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// ACL is the access control list of an object.
type ACL struct {
	Owner  Owner   `json:"Owner"`
	Grants []Grant `json:"Grants"`

	// Access summarizes the grants as a public-access level.
	Access AccessLevel `json:"access"`
}

// PublicAccess derives the access level from the grants: anonymous READ or
// FULL_CONTROL makes an object readable by everyone.
func PublicAccess(grants []Grant) AccessLevel {
	for _, g := range grants {
		if g.Grantee.URI != AllUsersURI {
			continue
		}
		if g.Permission == "READ" || g.Permission == "FULL_CONTROL" {
			return AccessRead
		}
	}
	return AccessNone
}

// --- sessions ---

// CreateSessionRequest is the body of POST /session.
type CreateSessionRequest struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Nickname        string `json:"nickname,omitempty"`
}

// Validate checks the required fields and that Endpoint is an absolute
// http(s) URL. It performs no I/O.
func (r CreateSessionRequest) Validate() error {
	required := []struct{ name, value string }{
		{"bucket", r.Bucket},
		{"region", r.Region},
		{"endpoint", r.Endpoint},
		{"access_key_id", r.AccessKeyID},
		{"secret_access_key", r.SecretAccessKey},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errs.Invalid("%s is required", f.name)
		}
	}
	if !ValidEndpoint(r.Endpoint) {
		return errs.Invalid("endpoint %q is not a valid URL", r.Endpoint)
	}
	return nil
}

// ValidEndpoint reports whether s is an absolute http or https URL with a host.
func ValidEndpoint(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SessionToken is the data of a successful POST /session.
type SessionToken struct {
	Token string `json:"token"`
}

// ResolveRequest is the body of PUT /sessions.
type ResolveRequest struct {
	Sessions []string `json:"sessions"`
}

// FolderRequest is the body of POST /{bucket}/folder.
type FolderRequest struct {
	Folder string `json:"folder"`
}

// ACLRequest is the body of PUT /{bucket}/object/acl. Exactly one field is set.
type ACLRequest struct {
	ACL    string      `json:"acl,omitempty"`
	Access AccessLevel `json:"access,omitempty"`
}
