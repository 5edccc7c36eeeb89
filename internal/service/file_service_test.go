package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
)

var storagePathRE = regexp.MustCompile(`^\d+/[0-9a-f-]{36}_[A-Za-z0-9._-]+$`)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report-v1.2_final.pdf", sanitizeFilename("report-v1.2_final.pdf"))
	assert.Equal(t, "my_report__1_.pdf", sanitizeFilename("my report (1).pdf"))
	assert.Equal(t, ".._.txt", sanitizeFilename("../.txt"))
	assert.Equal(t, "__.txt", sanitizeFilename("報告.txt"))
}

func TestFileService_Upload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	file := f.upload(t, u, "my report.txt", "hello")
	assert.NotZero(t, file.ID)
	assert.Equal(t, "my report.txt", file.Filename)
	assert.Equal(t, int64(5), file.Size)
	assert.Equal(t, "text/plain", file.ContentType)
	assert.Regexp(t, storagePathRE, file.StoragePath)
	assert.True(t, strings.HasPrefix(file.StoragePath, fmt.Sprintf("%d/", u.ID)))
	assert.True(t, strings.HasSuffix(file.StoragePath, "_my_report.txt"))
	assert.True(t, f.store.has(file.StoragePath))

	row, err := f.files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, row.OwnerID)
	assert.Contains(t, f.events.types(), queue.EventFileUploaded)
}

func TestFileService_UploadValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	for _, name := range []string{"", "   ", strings.Repeat("a", 256)} {
		_, err := f.fs.Upload(ctx, u, Upload{Filename: name, Body: bytes.NewBufferString("x"), Size: 1})
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, f.store.count())
}

type failingFiles struct {
	FileStore
}

func (failingFiles) Create(context.Context, *model.File) error { return errors.New("db down") }

func TestFileService_UploadRollsBackObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)

	fs := NewFileService(failingFiles{f.files}, f.users, f.store,
		FileConfig{PresignDefaultTTL: time.Hour, PresignMaxTTL: 24 * time.Hour}, f.auth.log, nil, nil)

	_, err := fs.Upload(ctx, u, Upload{Filename: "a.txt", Body: bytes.NewBufferString("data"), Size: 4})
	require.Error(t, err)
	assert.Zero(t, f.store.count(), "object removed after failed metadata insert")
}

func TestFileService_UploadStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mkUser(t, "alice", "secret1", model.RoleUser)
	f.store.putErr = errors.New("bucket gone")

	_, err := f.fs.Upload(ctx, u, Upload{Filename: "a.txt", Body: bytes.NewBufferString("data"), Size: 4})
	require.Error(t, err)

	files, err := f.fs.List(ctx, u, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileService_ListAndListAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)

	f.upload(t, alice, "a1.txt", "1")
	f.clock.Advance(time.Second)
	f.upload(t, alice, "a2.txt", "2")
	f.upload(t, bob, "b1.txt", "3")

	mine, err := f.fs.List(ctx, alice, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a2.txt", mine[0].Filename, "newest first")

	all, err := f.fs.ListAll(ctx, OwnerFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byName, err := f.fs.ListAll(ctx, OwnerFilter{Username: "bob"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "b1.txt", byName[0].Filename)

	byEmail, err := f.fs.ListAll(ctx, OwnerFilter{Email: "ALICE@example.com"}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, byEmail, 2)

	none, err := f.fs.ListAll(ctx, OwnerFilter{Username: "nobody"}, 0, 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFileService_Share(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)
	mgr := f.mkUser(t, "manager", "secret1", model.RoleManager)
	file := f.upload(t, alice, "report.pdf", "pdf")

	link, err := f.fs.Share(ctx, alice, file.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "GET", link.Method)
	assert.Equal(t, "report.pdf", link.Filename)
	assert.Contains(t, link.URL, file.StoragePath)
	assert.Contains(t, link.URL, "ttl=1h0m0s")
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(link.ExpiresAt))

	link, err = f.fs.Share(ctx, mgr, file.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(24*time.Hour).Equal(link.ExpiresAt))

	_, err = f.fs.Share(ctx, alice, file.ID, 24*time.Hour+time.Second)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.fs.Share(ctx, alice, file.ID, -time.Second)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.fs.Share(ctx, bob, file.ID, 0)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.fs.Share(ctx, alice, 9999, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileService_Rename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)
	admin := f.mkUser(t, "admin", "secret1", model.RoleAdmin)
	file := f.upload(t, alice, "old.txt", "x")

	renamed, err := f.fs.Rename(ctx, alice, file.ID, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", renamed.Filename)
	assert.Equal(t, file.StoragePath, renamed.StoragePath, "storage path is immutable")

	_, err = f.fs.Rename(ctx, bob, file.ID, "stolen.txt")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.fs.Rename(ctx, admin, file.ID, "by-admin.txt")
	require.NoError(t, err)

	_, err = f.fs.Rename(ctx, alice, file.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	row, err := f.files.GetByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "by-admin.txt", row.Filename)
}

func TestFileService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mkUser(t, "alice", "secret1", model.RoleUser)
	bob := f.mkUser(t, "bob", "secret1", model.RoleUser)
	file := f.upload(t, alice, "a.txt", "x")

	assert.ErrorIs(t, f.fs.Delete(ctx, bob, file.ID), ErrForbidden)

	f.store.delErr = errors.New("storage unavailable")
	require.Error(t, f.fs.Delete(ctx, alice, file.ID))
	_, err := f.files.GetByID(ctx, file.ID)
	require.NoError(t, err, "metadata kept when the object could not be removed")

	f.store.delErr = nil
	require.NoError(t, f.fs.Delete(ctx, alice, file.ID))
	assert.False(t, f.store.has(file.StoragePath))
	assert.ErrorIs(t, f.fs.Delete(ctx, alice, file.ID), ErrNotFound)
}
