package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fileflow/internal/app"
	"fileflow/internal/fileflow"
)

const (
	passphraseHeader = "X-FileFlow-Passphrase"
	versionHeader    = "X-FileFlow-Version"
)

type handler struct {
	app *app.FileFlowApp
}

func (h *handler) fail(c *gin.Context, err error) {
	writeError(c, h.app.Logger(), err)
}

func (h *handler) badRequest(c *gin.Context, err error) {
	h.fail(c, fmt.Errorf("%v: %w", err, fileflow.ErrValidation))
}

// Auth

type registerBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
}

func (h *handler) register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	user, err := h.app.Register(c.Request.Context(), body.Email, body.Password, body.FullName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *handler) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	user, credential, err := h.app.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "credential": credential})
}

func (h *handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// Files

func listOptions(c *gin.Context) (fileflow.ListOptions, error) {
	var opts fileflow.ListOptions
	var err error
	if v := c.Query("page"); v != "" {
		if opts.Page, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("page must be a number")
		}
	}
	if v := c.Query("pageSize"); v != "" {
		if opts.PageSize, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("pageSize must be a number")
		}
	}
	opts.SortField = c.Query("sort")
	switch strings.ToLower(c.Query("order")) {
	case "", "desc":
	case "asc":
		opts.Ascending = true
	default:
		return opts, fmt.Errorf("order must be asc or desc")
	}
	return opts, nil
}

func (h *handler) listFiles(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	page, err := h.app.List(c.Request.Context(), currentUser(c), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) searchFiles(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	page, err := h.app.Search(c.Request.Context(), currentUser(c), c.Query("q"), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// formList reads a repeated or comma-separated form field.
func formList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.PostFormArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func openFormFile(c *gin.Context) (multipart.File, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	return f, fh.Filename, nil
}

func (h *handler) uploadFile(c *gin.Context) {
	f, filename, err := openFormFile(c)
	if err != nil {
		h.badRequest(c, fmt.Errorf("file part: %v", err))
		return
	}
	defer f.Close()

	name := c.PostForm("name")
	if name == "" {
		name = filename
	}
	encrypted, _ := strconv.ParseBool(c.PostForm("encrypted"))

	file, err := h.app.Upload(c.Request.Context(), currentUser(c), name, f, app.UploadOptions{
		Type:       c.PostForm("type"),
		Tags:       formList(c, "tags"),
		SharedWith: formList(c, "sharedWith"),
		Encrypted:  encrypted,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *handler) getFile(c *gin.Context) {
	file, err := h.app.File(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *handler) deleteFile(c *gin.Context) {
	n, err := h.app.Delete(c.Request.Context(), currentUser(c), []string{c.Param("id")})
	if err != nil {
		h.fail(c, err)
		return
	}
	if n == 0 {
		h.fail(c, fmt.Errorf("file %s: %w", c.Param("id"), fileflow.ErrNotFound))
		return
	}
	c.Status(http.StatusNoContent)
}

type idsBody struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *handler) bulkDelete(c *gin.Context) {
	var body idsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	n, err := h.app.Delete(c.Request.Context(), currentUser(c), body.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *handler) toggleFavorite(c *gin.Context) {
	file, err := h.app.ToggleFavorite(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

type tagsBody struct {
	Tags []string `json:"tags"`
}

func (h *handler) setTags(c *gin.Context) {
	var body tagsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	file, err := h.app.SetTags(c.Request.Context(), currentUser(c), c.Param("id"), body.Tags)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

type shareBody struct {
	UserIDs []string `json:"userIds" binding:"required,min=1"`
}

func (h *handler) share(c *gin.Context) {
	var body shareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}
	file, err := h.app.Share(c.Request.Context(), currentUser(c), c.Param("id"), body.UserIDs...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *handler) unshare(c *gin.Context) {
	file, err := h.app.Unshare(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// Versions

func (h *handler) listVersions(c *gin.Context) {
	versions, err := h.app.Versions(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *handler) addVersion(c *gin.Context) {
	var content io.Reader
	f, _, err := openFormFile(c)
	switch {
	case err == nil:
		defer f.Close()
		content = f
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// No file part: the version records a change note only.
	default:
		h.badRequest(c, fmt.Errorf("file part: %v", err))
		return
	}

	v, err := h.app.Commit(c.Request.Context(), currentUser(c), c.Param("id"), content, c.PostForm("changes"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// lazyWriter defers the success headers until the first byte of content,
// so a failure before that can still be reported as an error response.
type lazyWriter struct {
	c       *gin.Context
	headers func()
	started bool
}

func (w *lazyWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.started = true
		w.headers()
		w.c.Status(http.StatusOK)
	}
	return w.c.Writer.Write(p)
}

func (h *handler) content(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	number := 0
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.badRequest(c, fmt.Errorf("version must be a positive number"))
			return
		}
		number = n
	}

	file, err := h.app.File(ctx, user, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if number == 0 {
		versions, err := h.app.Versions(ctx, user, file.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if len(versions) == 0 {
			h.fail(c, fmt.Errorf("file %s has no versions: %w", file.ID, fileflow.ErrNotFound))
			return
		}
		number = versions[0].Number
	}

	var passphrase func() (string, error)
	if p := c.GetHeader(passphraseHeader); p != "" {
		passphrase = func() (string, error) { return p, nil }
	}

	w := &lazyWriter{c: c, headers: func() {
		c.Header("Content-Type", file.Type)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
		c.Header(versionHeader, strconv.Itoa(number))
	}}

	if _, err := h.app.Download(ctx, user, file.ID, number, passphrase, w); err != nil {
		if !w.started {
			h.fail(c, err)
			return
		}
		h.app.Logger().Error("content stream interrupted", "file_id", file.ID, "error", err)
		return
	}
	if !w.started {
		// Empty content.
		w.Write(nil)
	}
}
