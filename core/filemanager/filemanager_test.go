package filemanager_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type memStorage struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deleted []string
}

func newMemStorage() *memStorage { return &memStorage{blobs: map[string][]byte{}} }

func (st *memStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.blobs[key] = b
	return nil
}

func (st *memStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.blobs[key]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (st *memStorage) Delete(_ context.Context, key string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.blobs, key)
	st.deleted = append(st.deleted, key)
	return nil
}

func (*memStorage) URL(context.Context, string) (string, error) { return "", nil }

func (st *memStorage) keys() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, len(st.blobs))
	for k := range st.blobs {
		keys = append(keys, k)
	}
	return keys
}

func setup(t *testing.T) (*filemanager.Service, context.Context, user.User) {
	return setupWith(t, di.Overrides{})
}

func setupWith(t *testing.T, ovr di.Overrides) (*filemanager.Service, context.Context, user.User) {
	c := testutil.NewContainer(t, ovr)
	usr := testutil.CreateUser(t, gormrepos.NewUserRepository(c.DB), "Admin", "admin", "admin@test.cd", "pwd", []string{user.RoleAdmin}, true)
	return c.FileSvc, testutil.ActorContext(usr), usr
}

func upload(name string, content []byte) filemanager.Upload {
	return filemanager.Upload{Name: name, Size: int64(len(content)), Body: bytes.NewReader(content)}
}

func uploadErrors(t *testing.T, err error) []core.FieldError {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
	return verr.Fields
}

func TestService_Upload(t *testing.T) {
	svc, ctx, usr := setup(t)

	_, err := svc.Upload(ctx, upload("empty.txt", nil))
	assert.Equal(t, []core.FieldError{{Field: "file", Error: filemanager.ErrEmptyFile.Error()}}, uploadErrors(t, err))

	_, err = svc.Upload(ctx, upload("big.bin", make([]byte, 1<<20+1)))
	assert.Equal(t, []core.FieldError{{Field: "file", Error: filemanager.ErrFileTooLarge.Error()}}, uploadErrors(t, err))

	up := upload("notes.txt", []byte("hello"))
	up.FolderID = 99
	_, err = svc.Upload(ctx, up)
	assert.Equal(t, []core.FieldError{{Field: "folder_id", Error: core.MsgRelatedNotFound}}, uploadErrors(t, err))

	folder := &filemanager.Folder{Name: "Logos"}
	require.NoError(t, svc.Folders().AddOrUpdate(ctx, folder))

	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 500)...)
	up = upload("logo", content)
	up.FolderID = folder.ID
	obj, err := svc.Upload(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.MimeType)
	assert.Equal(t, "png", obj.Extension)
	assert.Equal(t, int64(len(content)), obj.Size)
	assert.Equal(t, usr.ID, obj.UploadedBy.Int)
	assert.Regexp(t, `^\d{4}/\d{2}/[0-9a-f-]{36}\.png$`, obj.Key)

	got, rc, url, err := svc.Download(ctx, obj.ID)
	require.NoError(t, err)
	assert.Empty(t, url, "local files are streamed")
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, content, body, "sniffed bytes are kept")
	assert.Equal(t, obj.Key, got.Key)

	txt, err := svc.Upload(ctx, upload("readme.md", []byte("# readme")))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", txt.MimeType)
	assert.Equal(t, "md", txt.Extension)
}

func TestService_Files(t *testing.T) {
	svc, ctx, _ := setup(t)
	obj, err := svc.Upload(ctx, upload("notes.txt", []byte("hello")))
	require.NoError(t, err)

	t.Run("created by upload only", func(t *testing.T) {
		fake := &filemanager.File{Name: "fake.txt", Key: "2024/01/elsewhere.txt", Size: 10}
		err := svc.Files().AddOrUpdate(ctx, fake)
		assert.Equal(t, []core.FieldError{{Field: "file", Error: filemanager.ErrUploadRequired.Error()}}, uploadErrors(t, err))
		assert.Zero(t, fake.ID)
	})

	t.Run("blob fields are read-only", func(t *testing.T) {
		upd := obj
		upd.Name = "renamed.txt"
		upd.Key = "elsewhere"
		upd.Size = 1
		require.NoError(t, svc.Files().AddOrUpdate(ctx, &upd))
		assert.Equal(t, "renamed.txt", upd.Name)
		assert.Equal(t, obj.Key, upd.Key)
		assert.Equal(t, obj.Size, upd.Size)
	})

	require.NoError(t, svc.Files().Delete(ctx, obj.ID, crud.SoftDelete))
	_, _, _, err = svc.Download(ctx, obj.ID)
	assert.Equal(t, core.ErrNotFound, err, "soft deleted")

	require.NoError(t, svc.Files().Undelete(ctx, obj.ID))
	_, rc, _, err := svc.Download(ctx, obj.ID)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	require.NoError(t, svc.Files().Delete(ctx, obj.ID, crud.HardDelete))
	_, _, _, err = svc.Download(ctx, obj.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestService_deleteFolderTree(t *testing.T) {
	st := newMemStorage()
	svc, ctx, _ := setupWith(t, di.Overrides{Storage: st})

	var parent null.Int
	var tree []filemanager.File
	for _, name := range []string{"Docs", "2024", "January"} {
		folder := &filemanager.Folder{Name: name, ParentID: parent}
		require.NoError(t, svc.Folders().AddOrUpdate(ctx, folder))
		up := upload(name+".txt", []byte("content of "+name))
		up.FolderID = folder.ID
		obj, err := svc.Upload(ctx, up)
		require.NoError(t, err)
		tree = append(tree, obj)
		parent = null.IntFrom(folder.ID)
	}
	outside, err := svc.Upload(ctx, upload("outside.txt", []byte("kept")))
	require.NoError(t, err)

	root := int(tree[0].FolderID.Int)
	require.NoError(t, svc.Folders().Delete(ctx, root, crud.SoftDeleteCascade))
	assert.Empty(t, st.deleted, "soft deletes keep the content")

	require.NoError(t, svc.Folders().Delete(ctx, root, crud.HardDeleteCascade))
	want := make([]string, 0, len(tree))
	for _, obj := range tree {
		want = append(want, obj.Key)
		_, _, _, err := svc.Download(ctx, obj.ID)
		assert.True(t, core.IsNotFound(err), obj.Name)
	}
	assert.ElementsMatch(t, want, st.deleted)
	assert.Equal(t, []string{outside.Key}, st.keys())
}
