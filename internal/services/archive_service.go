package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/storage"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

const (
	AudioExt    = ".mp3"
	AudioMIME   = "audio/mpeg"
	slugSource  = 40
	slugMax     = 40
	slugDefault = "audio"
	maxNameLen  = 128
)

var archiveName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.mp3$`)

type ArchiveService interface {
	// Finalize moves a completed temp file into the archive and enforces the retention cap.
	Finalize(ctx context.Context, tempPath, sourceText string) (*models.ArchiveEntry, error)
	// List returns the newest entries first, at most the retention cap.
	List(ctx context.Context) ([]models.ArchiveEntry, error)
	// Resolve validates name and returns the path of an existing archive file.
	Resolve(name string) (string, error)
	Delete(ctx context.Context, name string) error
}

type ArchiveConfig struct {
	Dir           string
	Max           int
	Mirror        storage.Uploader // optional
	MirrorTimeout time.Duration
}

// archiveService is the only writer of the archive directory. mu serializes the
// insert+prune and delete steps of this process; readers never take it.
type archiveService struct {
	cfg     ArchiveConfig
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu  sync.Mutex
	now func() time.Time

	rename func(oldpath, newpath string) error
	remove func(name string) error
}

func NewArchiveService(cfg ArchiveConfig, log *logrus.Logger, m *metrics.Metrics) (ArchiveService, error) {
	if cfg.Max < 1 {
		return nil, errors.New("archive max must be >= 1")
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = 30 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	s := &archiveService{cfg: cfg, log: log, metrics: m, now: time.Now, rename: os.Rename, remove: os.Remove}
	if entries, err := s.scan(); err == nil {
		m.SetArchiveEntries(len(entries))
	}
	return s, nil
}

func (s *archiveService) Finalize(ctx context.Context, tempPath, sourceText string) (*models.ArchiveEntry, error) {
	const op = "ArchiveService.Finalize"

	s.mu.Lock()
	now := s.now()
	name := fileName(now, sourceText)
	dst := filepath.Join(s.cfg.Dir, name)
	if _, err := os.Lstat(dst); err == nil {
		name = strings.TrimSuffix(name, AudioExt) + "-" + uuid.NewString()[:8] + AudioExt
		dst = filepath.Join(s.cfg.Dir, name)
	}
	if err := s.move(tempPath, dst); err != nil {
		s.mu.Unlock()
		return nil, utils.E(utils.CodeInternal, op, "failed to store recording", err)
	}
	_ = os.Chtimes(dst, now, now)
	info, statErr := os.Stat(dst)
	kept, err := s.prune()
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("archive prune failed")
	} else {
		s.metrics.SetArchiveEntries(kept)
	}
	if statErr != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to stat recording", statErr)
	}

	entry := &models.ArchiveEntry{Name: name, Size: info.Size(), CreatedAt: info.ModTime()}
	s.mirror(ctx, entry.Name, dst)
	return entry, nil
}

func (s *archiveService) List(_ context.Context) ([]models.ArchiveEntry, error) {
	const op = "ArchiveService.List"

	entries, err := s.scan()
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list archive", err)
	}
	if len(entries) > s.cfg.Max {
		entries = entries[:s.cfg.Max]
	}
	return entries, nil
}

func (s *archiveService) Resolve(name string) (string, error) {
	const op = "ArchiveService.Resolve"

	if !ValidArchiveName(name) {
		return "", utils.E(utils.CodeInvalidArgument, op, "invalid file name", nil)
	}
	dir, err := filepath.Abs(s.cfg.Dir)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to resolve archive dir", err)
	}
	path := filepath.Join(dir, name)
	if rel, err := filepath.Rel(dir, path); err != nil || rel != name {
		return "", utils.E(utils.CodeInvalidArgument, op, "invalid file name", err)
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", utils.E(utils.CodeNotFound, op, "file not found", err)
	}
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to stat file", err)
	}
	if !info.Mode().IsRegular() {
		return "", utils.E(utils.CodeNotFound, op, "file not found", nil)
	}
	return path, nil
}

func (s *archiveService) Delete(_ context.Context, name string) error {
	const op = "ArchiveService.Delete"

	path, err := s.Resolve(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return utils.E(utils.CodeNotFound, op, "file not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete file", err)
	}
	if entries, err := s.scan(); err == nil {
		s.metrics.SetArchiveEntries(len(entries))
	}
	return nil
}

// prune removes everything past the cap, judged on this call's own listing.
// Caller holds s.mu.
func (s *archiveService) prune() (int, error) {
	entries, err := s.scan()
	if err != nil {
		return 0, err
	}
	if len(entries) <= s.cfg.Max {
		return len(entries), nil
	}
	var errs []error
	for _, e := range entries[s.cfg.Max:] {
		if err := os.Remove(filepath.Join(s.cfg.Dir, e.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return s.cfg.Max, errors.Join(errs...)
}

// scan lists archive files newest first. Files that do not look like archive entries
// (temp copies, stray files) are ignored.
func (s *archiveService) scan() ([]models.ArchiveEntry, error) {
	dirents, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, err
	}
	out := make([]models.ArchiveEntry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() || !ValidArchiveName(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		out = append(out, models.ArchiveEntry{Name: d.Name(), Size: info.Size(), CreatedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// move renames src to dst, falling back to copy+delete across filesystems. The copy goes
// to a hidden name first so a concurrent listing never sees a half-written entry.
func (s *archiveService) move(src, dst string) error {
	if err := s.rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), ".incoming-"+uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := s.rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// dst is complete; a leftover source is only a stale temp file for the janitor.
	if err := s.remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.WithError(err).WithField("path", src).Warn("archive source not removed after copy")
	}
	return nil
}

func (s *archiveService) mirror(ctx context.Context, name, path string) {
	if s.cfg.Mirror == nil {
		return
	}
	log := s.log.WithField("file", name)

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Warn("archive mirror skipped")
		return
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.MirrorTimeout)
	defer cancel()
	stored, err := s.cfg.Mirror.Upload(ctx, name, AudioMIME, f)
	if err != nil {
		log.WithError(err).Warn("archive mirror upload failed")
		return
	}
	log.WithField("stored", stored).Debug("archive mirrored")
}

// ValidArchiveName accepts only bare file names of the archive's own shape: safe characters,
// no separators or parent segments, the audio extension, bounded length.
func ValidArchiveName(name string) bool {
	if name == "" || len(name) > maxNameLen {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return archiveName.MatchString(name) && filepath.Base(name) == name
}

func fileName(t time.Time, sourceText string) string {
	ts := t.UTC().Format("20060102-150405") + fmt.Sprintf("-%03d", t.Nanosecond()/int(time.Millisecond))
	return ts + "_" + Slugify(sourceText) + AudioExt
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Slugify derives a short file-name-safe label from the first characters of text:
// accents are dropped, everything outside [a-z0-9] collapses into single dashes.
func Slugify(text string) string {
	head := []rune(strings.TrimSpace(text))
	if len(head) > slugSource {
		head = head[:slugSource]
	}

	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	plain, _, err := transform.String(t, string(head))
	if err != nil {
		plain = string(head)
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > slugMax {
		slug = strings.TrimRight(slug[:slugMax], "-")
	}
	if slug == "" {
		return slugDefault
	}
	return slug
}
