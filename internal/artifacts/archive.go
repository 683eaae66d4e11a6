package artifacts

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const archivePrefix = "portalwatch-shots-"

// Uploader is the bucket surface the archive service needs. Implemented by
// S3Client.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveService bundles the current screenshot evidence into a tar.gz and
// ships it to the bucket, so the local retention sweep can delete files
// without losing history.
type ArchiveService struct {
	store    *Store
	uploader Uploader
	log      zerolog.Logger
}

func NewArchiveService(store *Store, uploader Uploader, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		store:    store,
		uploader: uploader,
		log:      log.With().Str("service", "archive").Logger(),
	}
}

// ArchiveNow archives everything currently in the screenshot directory.
// Returns the uploaded key, or "" when there was nothing to archive.
func (s *ArchiveService) ArchiveNow(ctx context.Context) (string, error) {
	paths, err := s.store.List()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		s.log.Debug().Msg("No screenshots to archive")
		return "", nil
	}

	start := time.Now()
	archiveName := archivePrefix + start.Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(os.TempDir(), archiveName)
	defer os.Remove(archivePath)

	if err := createArchive(archivePath, paths); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if err := s.uploader.Upload(ctx, archiveName, f); err != nil {
		return "", err
	}

	s.log.Info().
		Str("archive", archiveName).
		Int("screenshots", len(paths)).
		Dur("duration_ms", time.Since(start)).
		Msg("Screenshot archive completed")
	return archiveName, nil
}

// RotateOld deletes bucket archives older than retentionDays. The newest
// three archives survive regardless of age.
func (s *ArchiveService) RotateOld(ctx context.Context, retentionDays int) error {
	objects, err := s.uploader.List(ctx, archivePrefix)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	type stamped struct {
		key string
		at  time.Time
	}
	var archives []stamped
	for _, obj := range objects {
		ts := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		at, err := time.Parse("2006-01-02-150405", ts)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Unrecognized archive name, skipping")
			continue
		}
		archives = append(archives, stamped{key: obj.Key, at: at})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].at.After(archives[j].at) })

	const minKeep = 3
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, a := range archives {
		if i < minKeep || retentionDays <= 0 || a.at.After(cutoff) {
			continue
		}
		if err := s.uploader.Delete(ctx, a.key); err != nil {
			s.log.Error().Err(err).Str("key", a.key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Archive rotation completed")
	}
	return nil
}

// createArchive writes a tar.gz containing the given files by basename.
func createArchive(archivePath string, paths []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range paths {
		if err := addFile(tw, path); err != nil {
			return fmt.Errorf("failed to add %s: %w", path, err)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
