/*
PURPOSE:
  Filesystem-backed store mapping a test name to its ordered sample images.
  This is the cache that makes re-runs idempotent: a scenario with files on
  disk is never sent to the remote service again.

REQUIREMENTS:
  User-specified:
  - Files are named "<name>-<index>.<ext>", index starting at 0.
  - Load order is numeric (t-2 before t-10).

  Implementation-discovered:
  - Names may contain spaces and parentheses ("txt2img (HTTPError)"), so the
    directory scan matches with a quoted pattern rather than a glob.
  - A partial previous run (some indices missing) counts as present and is
    loaded as-is.
  - Saving fewer samples than are stored removes the higher indices, so a
    shrinking result never mixes with leftovers.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Invoker, Runner), internal/cli (grid)
  - Uses: internal/output for logging

ERROR HANDLING:
  - All I/O errors are returned wrapped. Callers treat them as fatal.
  - A missing run directory is "nothing stored", not an error.

IMPLEMENTATION RULES:
  - No in-memory caching beyond a single call.
  - Encoder is chosen from the configured extension.

USAGE:
  st := store.New("./results", "png")
  ok, err := st.Exists("txt2img")
  images, err := st.Load("txt2img")
  err = st.Save("txt2img", images)

RELATED FILES:
  - internal/engine/invoker.go

MAINTENANCE:
  - Add encoders here when new image formats are needed.
*/

package store

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/daryltucker/sheet-runner/internal/output"
)

// CompositeName is the base name of the contact sheet file.
const CompositeName = "grid"

// ImageStore persists sample images under a run directory.
type ImageStore struct {
	Dir    string
	Ext    string
	logger *slog.Logger
}

// New returns a store rooted at dir writing files with extension ext.
func New(dir, ext string) *ImageStore {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return &ImageStore{
		Dir:    dir,
		Ext:    ext,
		logger: output.New("store"),
	}
}

type entry struct {
	index int
	path  string
}

func (s *ImageStore) pattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `-(\d+)\.` + regexp.QuoteMeta(s.Ext) + `$`)
}

// entries returns the files stored under name, sorted by numeric index.
func (s *ImageStore) entries(name string) ([]entry, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run directory %s: %w", s.Dir, err)
	}

	re := s.pattern(name)
	var found []entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, entry{index: idx, path: filepath.Join(s.Dir, de.Name())})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })
	return found, nil
}

// Exists reports whether at least one sample is stored under name.
func (s *ImageStore) Exists(name string) (bool, error) {
	found, err := s.entries(name)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// Paths returns the stored file paths for name in sample order.
func (s *ImageStore) Paths(name string) ([]string, error) {
	found, err := s.entries(name)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(found))
	for i, e := range found {
		paths[i] = e.path
	}
	return paths, nil
}

// Load decodes every sample stored under name in numeric index order.
func (s *ImageStore) Load(name string) ([]image.Image, error) {
	paths, err := s.Paths(name)
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := decodeFile(p)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Save writes each image to "<name>-<i>.<ext>", overwriting existing files.
// Samples left over from an earlier, larger save of name are removed.
func (s *ImageStore) Save(name string, images []image.Image) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory %s: %w", s.Dir, err)
	}

	stale, err := s.entries(name)
	if err != nil {
		return err
	}
	for _, e := range stale {
		if e.index < len(images) {
			continue
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale sample %s: %w", e.path, err)
		}
		s.logger.Debug("Removed stale sample", "name", name, "path", e.path)
	}

	for i, img := range images {
		p := filepath.Join(s.Dir, fmt.Sprintf("%s-%d.%s", name, i, s.Ext))
		if err := s.encodeFile(p, img); err != nil {
			return err
		}
		s.logger.Info("Saved result", "name", name, "sample", i+1, "path", p)
	}
	return nil
}

// SaveComposite writes the contact sheet and returns its path.
func (s *ImageStore) SaveComposite(img image.Image) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory %s: %w", s.Dir, err)
	}
	p := filepath.Join(s.Dir, CompositeName+"."+s.Ext)
	if err := s.encodeFile(p, img); err != nil {
		return "", err
	}
	return p, nil
}

var variantPattern = regexp.MustCompile(`^(.*) \(([^()]+)\)$`)

// Variants returns failure-annotated names ("<name> (<Kind>)") stored for name.
func (s *ImageStore) Variants(name string) ([]string, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run directory %s: %w", s.Dir, err)
	}

	suffix := regexp.MustCompile(`-\d+\.` + regexp.QuoteMeta(s.Ext) + `$`)
	seen := make(map[string]bool)
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		loc := suffix.FindStringIndex(de.Name())
		if loc == nil {
			continue
		}
		stored := de.Name()[:loc[0]]
		m := variantPattern.FindStringSubmatch(stored)
		if m == nil || m[1] != name || seen[stored] {
			continue
		}
		seen[stored] = true
		names = append(names, stored)
	}
	sort.Strings(names)
	return names, nil
}

// Find returns the stored name and images for name, or "" when nothing is
// stored. With variants set, failure-annotated results count as well.
func (s *ImageStore) Find(name string, variants bool) (string, []image.Image, error) {
	candidates := []string{name}
	if variants {
		more, err := s.Variants(name)
		if err != nil {
			return "", nil, err
		}
		candidates = append(candidates, more...)
	}

	for _, candidate := range candidates {
		ok, err := s.Exists(candidate)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			continue
		}
		images, err := s.Load(candidate)
		if err != nil {
			return "", nil, err
		}
		return candidate, images, nil
	}
	return "", nil, nil
}

func (s *ImageStore) encodeFile(p string, img image.Image) error {
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", p, err)
	}

	switch s.Ext {
	case "jpg", "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func decodeFile(p string) (image.Image, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return img, nil
}
