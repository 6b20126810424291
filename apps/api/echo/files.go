package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/filemanager"
)

func (s *server) registerFileAPI(g module) {
	svc, admin := s.opts.FileSvc, adminMiddleware()
	registerCRUD(g, s.schema, "Folder", svc.Folders(), noMiddleware, admin)
	registerCRUD(g, s.schema, "File", svc.Files(), noMiddleware, admin)

	g.POST("/Upload", s.upload)
	g.GET("/Download/:id", s.download)
}

func (s *server) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: filemanager.ErrEmptyFile.Error()})
	}
	var folderID int
	if v := ctx.FormValue("folder_id"); v != "" {
		if folderID, err = strconv.Atoi(v); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "folder_id", Error: core.MsgInvalidValue})
		}
	}

	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer src.Close()

	obj, err := s.opts.FileSvc.Upload(ctx.Request().Context(), filemanager.Upload{
		Name:     fh.Filename,
		FolderID: folderID,
		Size:     fh.Size,
		Body:     src,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, obj)
}

func (s *server) download(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errHttpNotFound
	}
	obj, rc, url, err := s.opts.FileSvc.Download(ctx.Request().Context(), id)
	if err != nil {
		if core.IsNotFound(err) {
			return errHttpNotFound
		}
		return err
	}
	if url != "" {
		return ctx.Redirect(http.StatusFound, url)
	}
	defer rc.Close()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(obj.Name))
	ctx.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size, 10))
	return ctx.Stream(http.StatusOK, obj.MimeType, rc)
}
