package server

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/koustreak/openbucket/internal/filestore"
)

// mockStore implements filestore.Store for handler tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

func (m *mockStore) ListFolders(ctx context.Context, bucket, prefix string) ([]string, error) {
	args := m.Called(ctx, bucket, prefix)
	folders, _ := args.Get(0).([]string)
	return folders, args.Error(1)
}

func (m *mockStore) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	args := m.Called(ctx, bucket, opts)
	objects, _ := args.Get(0).([]filestore.ObjectInfo)
	return objects, args.Error(1)
}

func (m *mockStore) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	args := m.Called(ctx, bucket, key)
	info, _ := args.Get(0).(*filestore.ObjectInfo)
	return info, args.Error(1)
}

func (m *mockStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	args := m.Called(ctx, bucket, key, body, size, opts)
	info, _ := args.Get(0).(*filestore.ObjectInfo)
	return info, args.Error(1)
}

func (m *mockStore) CopyObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	return m.Called(ctx, bucket, srcKey, dstKey).Error(0)
}

func (m *mockStore) RemoveObject(ctx context.Context, bucket, key string) error {
	return m.Called(ctx, bucket, key).Error(0)
}

func (m *mockStore) GetObjectACL(ctx context.Context, bucket, key string) (*filestore.ACL, error) {
	args := m.Called(ctx, bucket, key)
	acl, _ := args.Get(0).(*filestore.ACL)
	return acl, args.Error(1)
}

func (m *mockStore) PutObjectACL(ctx context.Context, bucket, key, cannedACL string) error {
	return m.Called(ctx, bucket, key, cannedACL).Error(0)
}

func (m *mockStore) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, ttl)
	return args.String(0), args.Error(1)
}

var _ filestore.Store = (*mockStore)(nil)
