package server

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/openbucket/internal/api"
	"github.com/koustreak/openbucket/internal/errs"
	"github.com/koustreak/openbucket/internal/filestore"
	"github.com/koustreak/openbucket/internal/logger"
	"github.com/koustreak/openbucket/internal/session"
)

// folderDeleteConcurrency caps removals in flight for one folder delete.
const folderDeleteConcurrency = 16

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.ok(w, r, "ok", map[string]string{"status": "up"})
}

// --- sessions ---

// handleResolveSessions opens every token it is given. Invalid and expired
// tokens are dropped without an error so the client can prune them.
func (s *Server) handleResolveSessions(w http.ResponseWriter, r *http.Request) {
	var req api.ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.now()
	sessions := make([]session.Session, 0, len(req.Sessions))
	for _, token := range req.Sessions {
		claims, err := s.sealer.Open(token, now)
		if err != nil {
			logger.FromContext(r.Context()).DebugWith("dropping token", map[string]interface{}{"reason": errs.MessageOf(err)})
			continue
		}
		sessions = append(sessions, claims.Session(token))
	}
	s.ok(w, r, "sessions resolved", sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.now()
	claims := Claims{
		Endpoint:        strings.TrimSpace(req.Endpoint),
		Bucket:          strings.TrimSpace(req.Bucket),
		Region:          strings.TrimSpace(req.Region),
		Nickname:        strings.TrimSpace(req.Nickname),
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		Exp:             now.Add(s.cfg.SessionTTL).UnixMilli(),
	}
	if claims.Nickname == "" {
		claims.Nickname = claims.Bucket
	}

	token, err := s.sealer.Seal(claims)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.cfg.VerifyOnCreate {
		if _, err := s.stores.get(r.Context(), token, claims, now); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	s.ok(w, r, "session created", api.SessionToken{Token: token})
}

// --- folders ---

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	folders, err := sc.store.ListFolders(r.Context(), sc.claims.Bucket, normalizePrefix(r.URL.Query().Get("prefix")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "folders listed", folders)
}

// handleCreateFolder writes an empty "name/" marker object.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())

	var req api.FolderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	folder := folderKey(req.Folder)
	if folder == "" {
		s.fail(w, r, errs.Invalid("folder name cannot be empty"))
		return
	}

	_, err := sc.store.PutObject(r.Context(), sc.claims.Bucket, folder, bytes.NewReader(nil), 0,
		filestore.PutOptions{ContentType: "application/x-directory"})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "folder created", api.FolderRequest{Folder: folder})
}

// handleDeleteFolder removes every key under the folder, marker included.
func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())

	folder := folderKey(r.URL.Query().Get("folder"))
	if folder == "" {
		s.fail(w, r, errs.Invalid("folder is required"))
		return
	}

	objects, err := sc.store.ListObjects(r.Context(), sc.claims.Bucket, filestore.ListOptions{Prefix: folder, Recursive: true})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(folderDeleteConcurrency)
	for _, obj := range objects {
		g.Go(func() error {
			return sc.store.RemoveObject(ctx, sc.claims.Bucket, obj.Key)
		})
	}
	if err := g.Wait(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "folder deleted", map[string]int{"deleted": len(objects)})
}

// --- objects ---

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	infos, err := sc.store.ListObjects(r.Context(), sc.claims.Bucket, filestore.ListOptions{
		Prefix: normalizePrefix(r.URL.Query().Get("prefix")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	objects := make([]api.Object, len(infos))
	for i, info := range infos {
		objects[i] = toAPIObject(info)
	}
	s.ok(w, r, "objects listed", objects)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	info, err := sc.store.StatObject(r.Context(), sc.claims.Bucket, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "object found", api.ObjectHead{
		Key:           key,
		ContentLength: info.Size,
		ContentType:   info.ContentType,
		ETag:          info.ETag,
		LastModified:  info.LastModified,
		StorageClass:  info.StorageClass,
		Metadata:      info.Metadata,
	})
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sc.store.RemoveObject(r.Context(), sc.claims.Bucket, key); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "object deleted", nil)
}

// handleRename copies the object to its new key, then deletes the old one.
// A failed delete leaves both copies in place.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	newKey, err := requireQuery(r, "newKey")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if key == newKey {
		s.fail(w, r, errs.Invalid("new key is the same as the current key"))
		return
	}

	ctx, bucket := r.Context(), sc.claims.Bucket
	if _, err := sc.store.StatObject(ctx, bucket, key); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sc.store.CopyObject(ctx, bucket, key, newKey); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sc.store.RemoveObject(ctx, bucket, key); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "object renamed", map[string]string{"key": newKey})
}

// handleUpload streams the multipart body straight into the store. The
// optional prefix field must come before the file part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.fail(w, r, errs.Wrap(errs.ErrKindInvalidInput, "expected a multipart form", err))
		return
	}

	var prefix string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.fail(w, r, errs.Invalid("file is required"))
			return
		}
		if err != nil {
			s.fail(w, r, uploadError(err))
			return
		}

		switch part.FormName() {
		case "prefix":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				s.fail(w, r, uploadError(err))
				return
			}
			prefix = normalizePrefix(string(raw))

		case "file":
			name := part.FileName()
			if name == "" {
				s.fail(w, r, errs.Invalid("file name is required"))
				return
			}
			info, err := sc.store.PutObject(r.Context(), sc.claims.Bucket, prefix+name, part, -1,
				filestore.PutOptions{ContentType: contentType(name, part.Header.Get("Content-Type"))})
			if err != nil {
				s.fail(w, r, uploadError(err))
				return
			}
			s.ok(w, r, "object uploaded", toAPIObject(*info))
			return
		}
	}
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	url, err := sc.store.PresignGetURL(r.Context(), sc.claims.Bucket, key, s.cfg.PresignTTL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "url generated", api.PresignResult{URL: url, ExpiresIn: int64(s.cfg.PresignTTL.Seconds())})
}

// --- ACLs ---

func (s *Server) handleGetACL(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	acl, err := sc.store.GetObjectACL(r.Context(), sc.claims.Bucket, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "acl retrieved", toAPIACL(acl))
}

// handlePutACL accepts either a canned ACL or the access shortcut.
func (s *Server) handlePutACL(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r.Context())
	key, err := requireQuery(r, "key")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req api.ACLRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	var canned string
	switch {
	case req.Access != "" && req.ACL != "":
		err = errs.Invalid("set either acl or access, not both")
	case req.Access != "":
		var level api.AccessLevel
		if level, err = api.ParseAccessLevel(string(req.Access)); err == nil {
			canned = level.CannedACL()
		}
	case req.ACL != "":
		canned, err = api.NormalizeCannedACL(req.ACL)
	default:
		err = errs.Invalid("acl or access is required")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := sc.store.PutObjectACL(r.Context(), sc.claims.Bucket, key, canned); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "acl updated", map[string]string{"acl": canned})
}

// --- helpers ---

// normalizePrefix maps the legacy "/" root to "".
func normalizePrefix(prefix string) string {
	if prefix == "/" {
		return ""
	}
	return prefix
}

// folderKey trims name and ensures exactly one trailing slash. Blank names
// yield "".
func folderKey(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return ""
	}
	return name + "/"
}

// contentType prefers the type implied by the file extension over the
// generic one multipart writers send.
func contentType(name, declared string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Invalid("upload exceeds %d bytes", tooLarge.Limit)
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}
	return errs.Wrap(errs.ErrKindInvalidInput, "malformed upload", err)
}

func toAPIObject(info filestore.ObjectInfo) api.Object {
	obj := api.Object{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         info.ETag,
		StorageClass: info.StorageClass,
	}
	if info.Owner != nil {
		obj.Owner = &api.Owner{ID: info.Owner.ID, DisplayName: info.Owner.DisplayName}
	}
	return obj
}

func toAPIACL(acl *filestore.ACL) api.ACL {
	out := api.ACL{
		Owner:  api.Owner{ID: acl.Owner.ID, DisplayName: acl.Owner.DisplayName},
		Grants: make([]api.Grant, len(acl.Grants)),
	}
	for i, g := range acl.Grants {
		out.Grants[i] = api.Grant{
			Grantee: api.Grantee{
				Type:        g.Grantee.Type,
				ID:          g.Grantee.ID,
				DisplayName: g.Grantee.DisplayName,
				URI:         g.Grantee.URI,
			},
			Permission: g.Permission,
		}
	}
	out.Access = api.PublicAccess(out.Grants)
	return out
}
