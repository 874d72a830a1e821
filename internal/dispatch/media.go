package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/edgard/polaris-bridge/internal/platform"
)

// ErrUnresolvableMedia marks media content that cannot be turned into an attachment.
var ErrUnresolvableMedia = errors.New("unresolvable media")

// maxMediaSize caps how much of a remote file is fetched.
const maxMediaSize = 50 << 20

// Resolver turns the content of a media message into an attachment.
type Resolver struct {
	httpClient *http.Client
}

// NewResolver returns a Resolver fetching remote media with httpClient, or with a
// client using a one minute timeout when httpClient is nil.
func NewResolver(httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Resolver{httpClient: httpClient}
}

// Resolve reads an absolute local path, fetches an http(s) URL and passes anything
// else through as an opaque platform reference.
func (r *Resolver) Resolve(ctx context.Context, content string) (platform.Attachment, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return platform.Attachment{}, fmt.Errorf("%w: empty content", ErrUnresolvableMedia)
	case filepath.IsAbs(content):
		return r.readFile(content)
	case strings.HasPrefix(content, "http://"), strings.HasPrefix(content, "https://"):
		return r.fetch(ctx, content)
	}
	return platform.Attachment{Ref: content}, nil
}

func (r *Resolver) readFile(name string) (platform.Attachment, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return platform.Attachment{}, fmt.Errorf("%w: %w", ErrUnresolvableMedia, err)
	}
	if len(data) == 0 {
		return platform.Attachment{}, fmt.Errorf("%w: %s is empty", ErrUnresolvableMedia, name)
	}
	return platform.Attachment{
		Filename: filepath.Base(name),
		MIME:     mimetype.Detect(data).String(),
		Data:     data,
	}, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (platform.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return platform.Attachment{}, fmt.Errorf("%w: %w", ErrUnresolvableMedia, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return platform.Attachment{}, fmt.Errorf("%w: %w", ErrUnresolvableMedia, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return platform.Attachment{}, fmt.Errorf("%w: fetch %s: status %d", ErrUnresolvableMedia, rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize))
	if err != nil {
		return platform.Attachment{}, fmt.Errorf("%w: read %s: %w", ErrUnresolvableMedia, rawURL, err)
	}
	if len(data) == 0 {
		return platform.Attachment{}, fmt.Errorf("%w: %s returned no data", ErrUnresolvableMedia, rawURL)
	}

	mt := mimetype.Detect(data)
	mimeType := mt.String()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil && parsed != "application/octet-stream" {
			mimeType = parsed
		}
	}

	return platform.Attachment{
		Filename: remoteFilename(rawURL, mt.Extension()),
		MIME:     mimeType,
		Data:     data,
	}, nil
}

// remoteFilename takes the last path segment of the URL, or a random name with
// the detected extension when the URL has none.
func remoteFilename(rawURL, ext string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return uuid.NewString() + ext
}
