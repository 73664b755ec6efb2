package enhance

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/phrazzld/openvoice/internal/domain"
)

// SniffLen is the number of leading bytes ValidateContent inspects.
const SniffLen = 512

// Upload validation errors. They are wrapped in *domain.ValidationError.
var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrNotAudio            = errors.New("file content is not audio")
	ErrEmptyFile           = errors.New("file is empty")
)

// UploadValidator checks size, extension and content type of an upload
// before a job is created for it.
type UploadValidator struct {
	maxBytes   int64
	extensions []string
}

// NewUploadValidator creates a validator. Extensions are lowercase without
// the leading dot.
func NewUploadValidator(maxBytes int64, extensions []string) *UploadValidator {
	return &UploadValidator{maxBytes: maxBytes, extensions: extensions}
}

// MaxBytes returns the configured size limit.
func (v *UploadValidator) MaxBytes() int64 {
	return v.maxBytes
}

// Extensions returns the allowed extensions.
func (v *UploadValidator) Extensions() []string {
	return slices.Clone(v.extensions)
}

// ValidateName checks the file extension.
func (v *UploadValidator) ValidateName(filename string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" || !slices.Contains(v.extensions, ext) {
		return domain.NewValidationError("file",
			fmt.Sprintf("extension %q not allowed, allowed: %s", ext, strings.Join(v.extensions, ", ")),
			ErrExtensionNotAllowed)
	}
	return nil
}

// ValidateSize checks the upload size in bytes.
func (v *UploadValidator) ValidateSize(size int64) error {
	if size == 0 {
		return domain.NewValidationError("file", "is empty", ErrEmptyFile)
	}
	if v.maxBytes > 0 && size > v.maxBytes {
		return domain.NewValidationError("file",
			fmt.Sprintf("exceeds maximum size of %d MB", v.maxBytes/(1024*1024)),
			ErrFileTooLarge)
	}
	return nil
}

// ValidateContent sniffs the leading bytes of the upload. Content that is
// recognizably something other than audio is rejected; unrecognized
// binary content passes because several audio containers have no
// registered signature.
func (v *UploadValidator) ValidateContent(head []byte) error {
	if len(head) == 0 {
		return domain.NewValidationError("file", "is empty", ErrEmptyFile)
	}
	contentType := http.DetectContentType(head)
	if !IsAudioContentType(contentType) {
		return domain.NewValidationError("file",
			fmt.Sprintf("expected an audio file, got %s", strings.Split(contentType, ";")[0]),
			ErrNotAudio)
	}
	return nil
}

// IsAudioContentType reports whether a sniffed content type may hold audio.
func IsAudioContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "application/ogg", mediaType == "video/mp4", mediaType == "video/webm":
		return true
	case mediaType == "application/octet-stream":
		return true
	default:
		return false
	}
}
