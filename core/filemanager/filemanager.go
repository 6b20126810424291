// Package filemanager keeps the uploaded files and the folders organizing them.
package filemanager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const (
	TableFolders = "folders"
	TableFiles   = "files"

	// bytes read to detect the content type
	sniffLen = 261
)

var (
	ErrEmptyFile      = errors.New("empty file")
	ErrFileTooLarge   = errors.New("file too large")
	ErrUploadRequired = errors.New("files are created by uploading them")

	// Messages are the translations of the upload errors.
	Messages = map[string]core.Texts{
		ErrEmptyFile.Error():      {"fa": "فایل خالی است"},
		ErrFileTooLarge.Error():   {"fa": "حجم فایل بیش از حد مجاز است"},
		ErrUploadRequired.Error(): {"fa": "فایل‌ها فقط با بارگذاری ساخته می‌شوند"},
	}
)

type Folder struct {
	core.Model
	Name     string   `json:"name" gorm:"size:150;not null" validate:"required,notblank,max=150"`
	ParentID null.Int `json:"parent_id" gorm:"index" ref:"file_manager/Folder"`

	// keys of the blobs to remove once the folder is gone
	blobKeys []string
}

func (Folder) TableName() string { return TableFolders }

func (f *Folder) Clean() { f.Name = core.CleanString(f.Name) }

func (f *Folder) References() []crud.Reference {
	return []crud.Reference{{Field: "parent_id", Table: TableFolders, ID: int(f.ParentID.Int)}}
}

func (*Folder) Children() []crud.Child {
	return []crud.Child{
		{Table: TableFolders, ForeignKey: "parent_id", Recursive: true},
		{Table: TableFiles, ForeignKey: "folder_id"},
	}
}

type File struct {
	core.Model
	FolderID   null.Int `json:"folder_id" gorm:"index" ref:"file_manager/Folder"`
	Name       string   `json:"name" gorm:"size:255;not null" validate:"required,notblank,max=255"`
	Key        string   `json:"key" gorm:"size:300;not null;uniqueIndex" validate:"required"`
	Size       int64    `json:"size"`
	MimeType   string   `json:"mime_type" gorm:"size:100"`
	Extension  string   `json:"extension" gorm:"size:20"`
	UploadedBy null.Int `json:"uploaded_by" gorm:"index" ref:"security/User"`
}

func (File) TableName() string { return TableFiles }

func (f *File) Clean() { f.Name = core.CleanString(f.Name) }

func (f *File) References() []crud.Reference {
	return []crud.Reference{
		{Field: "folder_id", Table: TableFolders, ID: int(f.FolderID.Int)},
		{Field: "uploaded_by", Table: "users", ID: int(f.UploadedBy.Int)},
	}
}

type FileRepository interface {
	crud.Repository[File]
	// KeysUnder returns the storage keys of the files in the folder and all of its subfolders, deleted ones included.
	KeysUnder(ctx context.Context, folderID int) ([]string, error)
}

// Storage keeps the file contents.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns a temporary download URL, or "" when the backend cannot serve files directly.
	URL(ctx context.Context, key string) (string, error)
}

type Upload struct {
	Name     string
	FolderID int
	Size     int64
	Body     io.Reader
}

type Service struct {
	folders *crud.Service[Folder, *Folder]
	files   *crud.Service[File, *File]
	fileRep FileRepository
	storage Storage
	maxSize int64
	logger  core.Logger
}

func NewService(folders crud.Repository[Folder], files FileRepository, storage Storage, settings crud.Settings, conf *core.Config, logger core.Logger) *Service {
	svc := &Service{
		fileRep: files,
		storage: storage,
		maxSize: conf.Storage.MaxUploadSize,
		logger:  logger,
	}
	svc.folders = crud.NewService[Folder](
		folders,
		settings,
		crud.WithBeforeDelete[Folder](svc.collectBlobs),
		crud.WithAfterDelete[Folder](svc.removeBlobs),
	)
	svc.files = crud.NewService[File](
		files,
		settings,
		crud.WithBeforeSave[File](guardBlobFields),
		crud.WithAfterDelete[File](svc.removeBlob),
	)
	return svc
}

func (svc *Service) Folders() *crud.Service[Folder, *Folder] { return svc.folders }

func (svc *Service) Files() *crud.Service[File, *File] { return svc.files }

// Upload stores the content of up and records it as a File owned by the context actor.
func (svc *Service) Upload(ctx context.Context, up Upload) (File, error) {
	if up.Size == 0 {
		return File{}, core.NewValidationError(nil, core.FieldError{Field: "file", Error: ErrEmptyFile.Error()})
	}
	if svc.maxSize > 0 && up.Size > svc.maxSize {
		return File{}, core.NewValidationError(nil, core.FieldError{Field: "file", Error: ErrFileTooLarge.Error()})
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return File{}, errors.Wrap(err, "reading upload")
	}
	head = head[:n]

	mime, ext := "application/octet-stream", strings.TrimPrefix(path.Ext(up.Name), ".")
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		mime, ext = kind.MIME.Value, kind.Extension
	}

	obj := &File{
		Name:      up.Name,
		Key:       newKey(ext),
		Size:      up.Size,
		MimeType:  mime,
		Extension: ext,
	}
	if up.FolderID > 0 {
		obj.FolderID = null.IntFrom(up.FolderID)
	}
	if actor, ok := core.ActorFromContext(ctx); ok {
		obj.UploadedBy = null.IntFrom(actor.ID)
	}

	body := io.MultiReader(bytes.NewReader(head), up.Body)
	if err := svc.storage.Put(ctx, obj.Key, body, up.Size, mime); err != nil {
		return File{}, errors.Wrap(err, "storing upload")
	}
	if err := svc.files.AddOrUpdate(context.WithValue(ctx, uploadKey{}, obj.Key), obj); err != nil {
		if err := svc.storage.Delete(ctx, obj.Key); err != nil {
			svc.logger.Error(fmt.Sprintf("removing orphan blob %s: %v", obj.Key, err), err)
		}
		return File{}, err
	}
	return *obj, nil
}

// Download returns the file content, or a temporary URL when the storage serves files itself.
func (svc *Service) Download(ctx context.Context, id int) (File, io.ReadCloser, string, error) {
	obj, err := svc.files.Find(ctx, id)
	if err != nil {
		return File{}, nil, "", err
	}
	if obj.IsDeleted {
		return File{}, nil, "", core.ErrNotFound
	}
	url, err := svc.storage.URL(ctx, obj.Key)
	if err != nil {
		return File{}, nil, "", errors.Wrap(err, "signing download url")
	}
	if url != "" {
		return obj, nil, url, nil
	}
	rc, err := svc.storage.Get(ctx, obj.Key)
	if err != nil {
		return File{}, nil, "", errors.Wrap(err, "opening file")
	}
	return obj, rc, "", nil
}

func (svc *Service) removeBlob(ctx context.Context, obj *File, typ crud.DeleteType) error {
	if !typ.Hard() {
		return nil
	}
	if err := svc.storage.Delete(ctx, obj.Key); err != nil {
		svc.logger.Error(fmt.Sprintf("removing blob %s: %v", obj.Key, err), err)
	}
	return nil
}

// collectBlobs remembers the content of the whole subtree, its rows are removed without going through the files service.
func (svc *Service) collectBlobs(ctx context.Context, obj *Folder, typ crud.DeleteType) error {
	if !typ.Hard() || !typ.Cascade() {
		return nil
	}
	keys, err := svc.fileRep.KeysUnder(ctx, obj.ID)
	if err != nil {
		return err
	}
	obj.blobKeys = keys
	return nil
}

func (svc *Service) removeBlobs(ctx context.Context, obj *Folder, _ crud.DeleteType) error {
	for _, key := range obj.blobKeys {
		if err := svc.storage.Delete(ctx, key); err != nil {
			svc.logger.Error(fmt.Sprintf("removing blob %s: %v", key, err), err)
		}
	}
	obj.blobKeys = nil
	return nil
}

type uploadKey struct{}

// guardBlobFields forbids edits of what describes the stored content.
// New files only come from Upload, which has put their content in the storage.
func guardBlobFields(ctx context.Context, obj, existing *File) error {
	if existing == nil {
		if key, _ := ctx.Value(uploadKey{}).(string); key == "" || key != obj.Key {
			return core.NewValidationError(nil, core.FieldError{Field: "file", Error: ErrUploadRequired.Error()})
		}
		return nil
	}
	obj.Key = existing.Key
	obj.Size = existing.Size
	obj.MimeType = existing.MimeType
	obj.Extension = existing.Extension
	obj.UploadedBy = existing.UploadedBy
	return nil
}

func newKey(ext string) string {
	key := time.Now().UTC().Format("2006/01/") + uuid.NewString()
	if ext != "" {
		key += "." + ext
	}
	return key
}
