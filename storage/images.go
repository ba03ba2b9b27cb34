package storage

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/man0l/real-estate-analyzer/utils"
)

// ImagePipeline downloads listing photos and stores them in the blob
// store. The storage path is derived from the listing id and a hash of the
// source URL, so re-processing the same source URL is naturally idempotent.
type ImagePipeline struct {
	blob   BlobStore
	client *http.Client
	logger *utils.Logger
}

// NewImagePipeline creates an ImagePipeline on top of the given blob store.
func NewImagePipeline(blob BlobStore, logger *utils.Logger) *ImagePipeline {
	return &ImagePipeline{
		blob:   blob,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// StoragePath computes the content-addressed object path for a source URL.
func StoragePath(propertyID, sourceURL string) string {
	hash := md5.Sum([]byte(sourceURL))
	return fmt.Sprintf("%s/%x%s", propertyID, hash, fileExtension(sourceURL))
}

// EnsureStored returns the public URL for the stored copy of sourceURL,
// uploading it first if it is not already present. Both the existence check
// and the upload key off the computed path, so identical source URLs always
// resolve to the same object.
func (ip *ImagePipeline) EnsureStored(ctx context.Context, propertyID, sourceURL string) (string, error) {
	objectPath := StoragePath(propertyID, sourceURL)

	if _, err := ip.blob.Download(ctx, objectPath); err == nil {
		ip.logger.Debug("[images] %s already stored", objectPath)
		return ip.blob.PublicURL(objectPath), nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("images: check %s: %w", objectPath, err)
	}

	data, err := ip.download(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("images: download %s: %w", sourceURL, err)
	}

	contentType := "image/" + strings.TrimPrefix(fileExtension(sourceURL), ".")
	if err := ip.blob.Upload(ctx, objectPath, data, contentType); err != nil {
		return "", fmt.Errorf("images: upload %s: %w", objectPath, err)
	}

	return ip.blob.PublicURL(objectPath), nil
}

func (ip *ImagePipeline) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ip.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// fileExtension returns the lowercased extension of the URL path, defaulting
// to .jpg when the URL carries none.
func fileExtension(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return ".jpg"
	}
	return ext
}
