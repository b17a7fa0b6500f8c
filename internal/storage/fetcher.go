package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

var (
	ErrUnsupportedContentType = errors.New("storage: unsupported content type")
	ErrTooLarge               = errors.New("storage: remote image too large")
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type FetcherOptions struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	MaxBytes     int64
	PublicPrefix string
	Now          func() time.Time
}

// Fetcher downloads remote images into a FileStore and hands back the public
// reference under which the HTTP layer serves them.
type Fetcher struct {
	store      *FileStore
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
	prefix     string
	now        func() time.Time
}

func NewFetcher(store *FileStore, opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	prefix := "/" + strings.Trim(opts.PublicPrefix, "/")
	if prefix == "/" {
		prefix = "/uploads"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Fetcher{
		store:      store,
		httpClient: client,
		timeout:    timeout,
		maxBytes:   maxBytes,
		prefix:     prefix,
		now:        now,
	}
}

// Materialize downloads remoteURL and stores it under folder with a
// timestamp plus random suffix name. Calling it twice for the same URL stores
// two copies; both references are servable.
func (f *Fetcher) Materialize(ctx context.Context, remoteURL, folder string) (string, error) {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return "", errors.New("storage: remote url required")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("storage: download: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty body")
	}

	ext, err := extensionFor(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return "", err
	}
	name, err := f.fileName(ext)
	if err != nil {
		return "", err
	}
	key, err := f.store.Write(ctx, path.Join(strings.Trim(folder, "/"), name), data)
	if err != nil {
		return "", err
	}
	return f.prefix + "/" + key, nil
}

func (f *Fetcher) fileName(ext string) (string, error) {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("storage: random suffix: %w", err)
	}
	return fmt.Sprintf("%d-%s%s", f.now().UnixMilli(), hex.EncodeToString(suffix), ext), nil
}

// extensionFor trusts a declared image/* type and sniffs the body when the
// server sent a generic or missing type.
func extensionFor(contentType string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if ext, ok := imageExtensions[strings.ToLower(mediaType)]; ok {
		return ext, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
}
