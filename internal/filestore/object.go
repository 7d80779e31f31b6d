package filestore

import "time"

// Owner identifies the owner of an object.
type Owner struct {
	ID          string
	DisplayName string
}

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "images/photo.jpg").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "image/jpeg").
	ContentType string

	// ETag is the object's entity tag, as returned by the backend.
	ETag string

	LastModified time.Time

	// Owner is nil when the backend did not report one.
	Owner *Owner

	StorageClass string

	// Metadata holds user metadata. Only populated by StatObject.
	Metadata map[string]string
}

// ListOptions controls how ListObjects filters results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	// Use "" to list everything in the bucket.
	Prefix string

	// Recursive, when true, lists every key under the prefix, folder markers
	// included. When false (default), only the direct children are returned.
	Recursive bool

	// Limit caps the number of results returned. 0 means no limit.
	Limit int
}

// PutOptions carries optional attributes of a write.
type PutOptions struct {
	ContentType string
}

// Grantee is the subject of a grant.
type Grantee struct {
	// Type is "CanonicalUser", "Group" or "AmazonCustomerByEmail".
	Type        string
	ID          string
	DisplayName string
	URI         string
}

// Grant gives Grantee one permission (e.g. "READ", "FULL_CONTROL").
type Grant struct {
	Grantee    Grantee
	Permission string
}

// ACL is an object's access control list.
type ACL struct {
	Owner  Owner
	Grants []Grant
}

// AllUsersURI is the grantee URI of anonymous access.
const AllUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// CannedACLGrants expands a canned ACL into the grants it stands for. Only
// the canned ACLs that matter for object visibility are expanded; the rest
// yield the owner grant alone.
func CannedACLGrants(owner Owner, canned string) []Grant {
	grants := []Grant{{
		Grantee:    Grantee{Type: "CanonicalUser", ID: owner.ID, DisplayName: owner.DisplayName},
		Permission: "FULL_CONTROL",
	}}
	allUsers := Grantee{Type: "Group", URI: AllUsersURI}
	switch canned {
	case "public-read":
		grants = append(grants, Grant{Grantee: allUsers, Permission: "READ"})
	case "public-read-write":
		grants = append(grants,
			Grant{Grantee: allUsers, Permission: "READ"},
			Grant{Grantee: allUsers, Permission: "WRITE"},
		)
	}
	return grants
}
