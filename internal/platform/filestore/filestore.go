package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
)

// Areas an artifact can live in.
const (
	AreaUpload    = "upload"
	AreaProcessed = "processed"
)

// Common errors returned by Store.
var (
	ErrInvalidRef       = errors.New("invalid artifact reference")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrTooLarge         = errors.New("artifact exceeds size limit")
)

// Store is a two-directory artifact store.
type Store struct {
	dirs   map[string]string
	logger *slog.Logger
}

// New creates the upload and processed directories if needed.
func New(uploadDir, processedDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dirs := map[string]string{
		AreaUpload:    uploadDir,
		AreaProcessed: processedDir,
	}
	for area, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", area, err)
		}
	}
	return &Store{dirs: dirs, logger: logger.With("component", "filestore")}, nil
}

// UploadRef returns the ref under which the upload for id is stored. Only
// the extension of filename is kept.
func UploadRef(id uuid.UUID, filename string) string {
	return AreaUpload + "/" + id.String() + safeExt(filename)
}

// OutputRef returns the ref the enhancer writes the result for id to.
func OutputRef(id uuid.UUID, filename string) string {
	return AreaProcessed + "/" + id.String() + safeExt(filename)
}

// JobRefs lists every artifact a job may own: its input, its recorded
// output and the output path a worker may have written before failing.
func JobRefs(job *domain.Job) []string {
	refs := []string{job.InputRef, job.OutputRef}
	if job.Filename != "" {
		if ref := OutputRef(job.ID, job.Filename); ref != job.OutputRef {
			refs = append(refs, ref)
		}
	}
	return refs
}

// DownloadName is the file name offered to clients for a processed
// artifact: enhanced_<stem><ext>.
func DownloadName(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		base = "audio"
	}
	return "enhanced_" + base
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, r := range ext[min(1, len(ext)):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// Path resolves ref to a filesystem path inside its area directory.
func (s *Store) Path(ref string) (string, error) {
	area, name, ok := strings.Cut(ref, "/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	dir, ok := s.dirs[area]
	if !ok {
		return "", fmt.Errorf("%w: unknown area in %q", ErrInvalidRef, ref)
	}
	return filepath.Join(dir, name), nil
}

// Save writes r to ref, reading at most limit bytes when limit > 0. A
// partially written file is removed on error.
func (s *Store) Save(ctx context.Context, ref string, r io.Reader, limit int64) (int64, error) {
	path, err := s.Path(ref)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create artifact: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write artifact: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to close artifact: %w", closeErr)
	case limit > 0 && n > limit:
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}

	s.logger.DebugContext(ctx, "artifact saved", "ref", ref, "size_bytes", n)
	return n, nil
}

// Open opens the artifact for reading. The caller closes the file.
func (s *Store) Open(ref string) (*os.File, fs.FileInfo, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
		}
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return f, info, nil
}

// Exists reports whether the artifact is present.
func (s *Store) Exists(ref string) bool {
	path, err := s.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the artifacts. Empty and missing refs are not errors,
// and neither are malformed ones: a ref that names no file has nothing
// to remove.
func (s *Store) Delete(ctx context.Context, refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		path, err := s.Path(ref)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed artifact ref", "ref", ref, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete artifact %s: %w", ref, err))
			continue
		}
		s.logger.DebugContext(ctx, "artifact deleted", "ref", ref)
	}
	return errors.Join(errs...)
}

// PurgeOlderThan removes regular files in both areas whose modification
// time is before cutoff. It returns the number of files removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	var errs []error

	for area, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s directory: %w", area, err))
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
			s.logger.InfoContext(ctx, "purged orphan artifact",
				"area", area,
				"name", entry.Name(),
				"modified_at", info.ModTime())
		}
	}
	return removed, errors.Join(errs...)
}
