package handler

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"

	"beatstore/internal/storage"

	"github.com/labstack/echo/v4"
)

// FileHandler serves objects from the filesystem store to holders of a
// signed URL.
type FileHandler struct {
	store *storage.FSStore
}

func NewFileHandler(store *storage.FSStore) *FileHandler {
	return &FileHandler{
		store: store,
	}
}

func (h *FileHandler) ServeFile(c echo.Context) error {
	ctx := c.Request().Context()

	bucket := c.Param("bucket")
	objectPath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid object path")
	}

	if err := h.store.VerifyToken(c.QueryParam("token"), bucket, objectPath); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "invalid or expired download link")
	}

	data, err := h.store.Download(ctx, bucket, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(path.Ext(objectPath))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": path.Base(objectPath),
	}))
	return c.Blob(http.StatusOK, contentType, data)
}
