package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/store"
	"github.com/matheus3301/rentchat/internal/upload"
)

const uploadField = "image"

var (
	errUploadNotFound = errors.New("upload not found")
	errNotUploader    = errors.New("only the uploader or an admin may delete this image")
	errUploadInUse    = errors.New("image is attached to a message")
)

func (s *server) uploadImage(c *gin.Context) {
	if s.Uploads == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("uploads disabled"))
		return
	}
	fh, err := c.FormFile(uploadField)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.New("missing image field"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.internal(c, "open upload", err)
		return
	}
	defer f.Close()

	stored, err := s.Uploads.Save(f)
	switch {
	case errors.Is(err, upload.ErrNotImage):
		abort(c, http.StatusUnsupportedMediaType, err)
		return
	case errors.Is(err, upload.ErrTooLarge):
		abort(c, http.StatusRequestEntityTooLarge, err)
		return
	case err != nil:
		s.internal(c, "save upload", err)
		return
	}

	id := identity(c)
	if err := s.DB.RecordUpload(stored.Path, store.UploadOwner{ID: id.ID, Role: id.Role}); err != nil {
		_ = s.Uploads.Delete(stored.Path)
		s.internal(c, "record upload", err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

type deleteRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *server) deleteImage(c *gin.Context) {
	if s.Uploads == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("uploads disabled"))
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	name, err := upload.Name(req.Path)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	owner, err := s.DB.UploadOwnerOf(name)
	switch {
	case errors.Is(err, store.ErrUploadNotFound):
		abort(c, http.StatusNotFound, errUploadNotFound)
		return
	case err != nil:
		s.internal(c, "read upload owner", err)
		return
	}
	id := identity(c)
	if id.Role != chat.RoleAdmin && (owner.ID != id.ID || owner.Role != id.Role) {
		abort(c, http.StatusForbidden, errNotUploader)
		return
	}
	used, err := s.DB.UploadReferenced(name, upload.URLPrefix)
	if err != nil {
		s.internal(c, "check upload references", err)
		return
	}
	if used {
		abort(c, http.StatusConflict, errUploadInUse)
		return
	}

	err = s.Uploads.Delete(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		s.internal(c, "delete upload", err)
		return
	}
	if err := s.DB.ForgetUpload(name); err != nil {
		s.internal(c, "forget upload", err)
		return
	}
	c.Status(http.StatusNoContent)
}
