package rest

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/pixelriver/internal/common"
	"github.com/dmitrijs2005/pixelriver/internal/filex"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

const (
	uploadField  = "csvFile"
	webhookField = "webhookUrl"

	// multipartSlack covers form boundaries and small text fields on top of
	// the file size limit.
	multipartSlack = 64 << 10
)

// UploadLimits constrains what POST /uploads accepts.
type UploadLimits struct {
	FieldName        string
	MaxFiles         int
	MaxSizeBytes     int64
	AllowedExtension string
	// Dir is the absolute spool directory.
	Dir string
}

// NewUploadLimits builds the limits from cfg and creates the spool directory.
func NewUploadLimits(cfg *config.Config) (UploadLimits, error) {
	dir, err := filex.EnsureDir(cfg.UploadDir)
	if err != nil {
		return UploadLimits{}, fmt.Errorf("%w: upload dir: %v", common.ErrConfiguration, err)
	}
	return UploadLimits{
		FieldName:        uploadField,
		MaxFiles:         cfg.MaxUploadFiles,
		MaxSizeBytes:     cfg.MaxUploadSizeBytes,
		AllowedExtension: strings.ToLower(cfg.AllowedExtension),
		Dir:              dir,
	}, nil
}

// spooledUpload is a received file saved under the spool directory.
type spooledUpload struct {
	Path         string
	OriginalName string
	StoredName   string
	WebhookURL   string
}

// spool reads the multipart form, enforces the limits and writes the file to
// disk under a unique name "<field>_<ULID>_<basename>".
func (l UploadLimits) spool(c *gin.Context) (*spooledUpload, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, l.MaxSizeBytes*int64(l.MaxFiles)+multipartSlack)

	form, err := c.MultipartForm()
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, l.tooLarge()
		}
		return nil, fmt.Errorf("%w: invalid multipart form: %v", common.ErrorValidation, err)
	}

	for name := range form.File {
		if name != l.FieldName {
			return nil, fmt.Errorf("%w: unexpected file field %q", common.ErrorValidation, name)
		}
	}

	files := form.File[l.FieldName]
	switch {
	case len(files) == 0:
		return nil, fmt.Errorf("%w: No Upload file found", common.ErrorValidation)
	case len(files) > l.MaxFiles:
		return nil, fmt.Errorf("%w: at most %d file(s) allowed", common.ErrorValidation, l.MaxFiles)
	}
	fh := files[0]

	if err := l.check(fh); err != nil {
		return nil, err
	}

	webhook, err := webhookURL(form.Value[webhookField])
	if err != nil {
		return nil, err
	}

	base := filepath.Base(fh.Filename)
	stored := fmt.Sprintf("%s_%s_%s", l.FieldName, ulid.Make().String(), base)
	dst := filepath.Join(l.Dir, stored)

	if err := c.SaveUploadedFile(fh, dst); err != nil {
		_ = filex.RemoveIfExists(dst)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	return &spooledUpload{
		Path:         dst,
		OriginalName: base,
		StoredName:   stored,
		WebhookURL:   webhook,
	}, nil
}

func (l UploadLimits) check(fh *multipart.FileHeader) error {
	if fh.Size > l.MaxSizeBytes {
		return l.tooLarge()
	}
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(name), l.AllowedExtension) {
		return fmt.Errorf("%w: Please upload a CSV file", common.ErrorValidation)
	}
	return nil
}

func (l UploadLimits) tooLarge() error {
	return fmt.Errorf("%w: file exceeds %d bytes", common.ErrorValidation, l.MaxSizeBytes)
}

func webhookURL(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: webhookUrl must be an absolute http(s) URL", common.ErrorValidation)
	}
	return u.String(), nil
}
