package service

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
)

// Go's builtin table does not know every type uploads arrive with.
var extensionTypes = map[string]string{
	".csv":  "text/csv",
	".json": "application/json",
	".txt":  "text/plain",
}

// TypeByExtension guesses a media type, without parameters, from a file
// name. It returns "" for unknown extensions.
func TypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext))
	if err != nil {
		return ""
	}
	return mediaType
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeName replaces every character outside [a-zA-Z0-9.-] with '_'.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// filenameClock hands out strictly increasing millisecond stamps so that two
// uploads in the same millisecond still get distinct storage names.
type filenameClock struct {
	last atomic.Int64
	now  func() time.Time
}

func (c *filenameClock) next() int64 {
	for {
		ms := c.now().UnixMilli()
		last := c.last.Load()
		if ms <= last {
			ms = last + 1
		}
		if c.last.CompareAndSwap(last, ms) {
			return ms
		}
	}
}

// storageName returns "<millis>-<sanitized original>".
func (c *filenameClock) storageName(original string) string {
	return fmt.Sprintf("%d-%s", c.next(), SanitizeName(original))
}

// uploadForm is the subset of the request checked with struct tags.
type uploadForm struct {
	Category   string `form:"category" validate:"required"`
	DataSource string `form:"dataSource" validate:"required,datasource"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	_ = v.RegisterValidation("datasource", func(fl validator.FieldLevel) bool {
		_, err := repository.ParseDataSource(fl.Field().String())
		return err == nil
	})
	return v
}

// validate applies the gate checks in order: file present, size, MIME type,
// then the form fields.
func (s *Service) validate(req *UploadRequest) error {
	if req.File == nil || req.File.Data == nil {
		return invalid("file", "no file provided")
	}
	if size := req.File.size(); size > s.cfg.MaxFileSize {
		return invalid("file", "file size exceeds %dMB limit", s.cfg.MaxFileSize/1024/1024)
	}
	if err := s.checkMimeType(req.File.MimeType); err != nil {
		return err
	}

	form := uploadForm{
		Category:   strings.TrimSpace(req.Category),
		DataSource: strings.TrimSpace(req.DataSource),
	}
	if err := s.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return invalid("form", "invalid form: %v", err)
		}
		fe := verrs[0]
		switch fe.Tag() {
		case "datasource":
			return invalid(fe.Field(), "unknown data source %q", form.DataSource)
		default:
			return invalid(fe.Field(), "%s is required", fe.Field())
		}
	}
	if req.UserID == uuid.Nil {
		return invalid("uploadedBy", "uploading user is required")
	}
	return nil
}

func (s *Service) checkMimeType(mimeType string) error {
	if !slices.Contains(s.cfg.AllowedTypes, mimeType) {
		return invalid("file", "invalid file type %q: only CSV and JSON files are allowed", mimeType)
	}
	return nil
}
