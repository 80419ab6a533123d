package llmclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Part is one inline media part of a prompt.
type Part struct {
	MIMEType string
	Data     []byte
	// Name is the base file name, empty for the screenshot.
	Name string
}

// mimeTypes lists the attachment extensions that are inlined.
var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
}

// MIMEType returns the inline type for path, or "" when the file kind is
// not supported.
func MIMEType(path string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(path))]
}

type cacheKey struct {
	path  string
	size  int64
	mtime int64
}

// AttachmentLoader reads attachment files, keeping recently used ones in an
// LRU keyed by path, size and modification time.
type AttachmentLoader struct {
	cache  *lru.Cache[cacheKey, Part]
	logger *zap.Logger
}

// NewAttachmentLoader creates a loader caching up to size files.
func NewAttachmentLoader(size int, logger *zap.Logger) (*AttachmentLoader, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[cacheKey, Part](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment cache: %w", err)
	}
	return &AttachmentLoader{cache: cache, logger: logger.Named("attachments")}, nil
}

// Load returns the inline parts for paths in order. Unsupported or
// unreadable files are skipped.
func (l *AttachmentLoader) Load(paths []string) []Part {
	parts := make([]Part, 0, len(paths))
	for _, p := range paths {
		mime := MIMEType(p)
		if mime == "" {
			l.logger.Debug("Skipping unsupported attachment.", zap.String("path", p))
			continue
		}
		part, err := l.load(p, mime)
		if err != nil {
			l.logger.Warn("Skipping unreadable attachment.", zap.String("path", p), zap.Error(err))
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func (l *AttachmentLoader) load(path, mime string) (Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Part{}, err
	}
	if info.IsDir() {
		return Part{}, fmt.Errorf("%s is a directory", path)
	}
	key := cacheKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if part, ok := l.cache.Get(key); ok {
		return part, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Part{}, err
	}
	part := Part{MIMEType: mime, Data: data, Name: filepath.Base(path)}
	l.cache.Add(key, part)
	return part, nil
}

// Len reports how many files are cached.
func (l *AttachmentLoader) Len() int { return l.cache.Len() }

// mediaParts assembles screenshot and attachments in prompt order.
func mediaParts(req Request, loader *AttachmentLoader) []Part {
	var parts []Part
	if len(req.Screenshot) > 0 {
		parts = append(parts, Part{MIMEType: "image/png", Data: req.Screenshot})
	}
	if loader != nil && len(req.Attachments) > 0 {
		parts = append(parts, loader.Load(req.Attachments)...)
	}
	return parts
}
