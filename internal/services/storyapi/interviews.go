package storyapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lifestory/internal/interview"
	"lifestory/internal/logging"
	"lifestory/internal/tracker"
)

var (
	_ tracker.Uploader  = (*Client)(nil)
	_ tracker.Refresher = (*Client)(nil)
)

// UploadSync uploads file and returns the interview once processing finished.
func (c *Client) UploadSync(ctx context.Context, interviewID string, file tracker.File) (*interview.Interview, error) {
	body, err := c.upload(ctx, "/interviews/"+escape(interviewID)+"/upload", file)
	if err != nil {
		return nil, err
	}
	return NormalizeInterview(body)
}

// UploadAsync uploads file; processing progress arrives as status events.
func (c *Client) UploadAsync(ctx context.Context, interviewID string, file tracker.File) error {
	body, err := c.upload(ctx, "/interviews/"+escape(interviewID)+"/upload-async", file)
	if err != nil {
		return err
	}
	if err := envelopeError(body); err != nil {
		return err
	}
	if o, ok := decodeObject(body); ok {
		if meta := o.obj("fileMetadata", "file_metadata"); meta != nil {
			c.logger.Debug("upload metadata",
				logging.String(logging.FieldInterviewID, interviewID),
				logging.String("file", meta.str("fileName", "file_name", "name")),
				logging.Int("size_bytes", meta.int("fileSize", "file_size", "size")),
			)
		}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, path string, file tracker.File) ([]byte, error) {
	if c.cfg.UploadTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.UploadTimeoutSeconds)*time.Second)
		defer cancel()
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, invalidPayload("upload", "open upload file", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		name := file.Name
		if name == "" {
			name = filepath.Base(file.Path)
		}
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		raw:         pr,
		contentType: mw.FormDataContentType(),
		upload:      true,
	})
	// Unblock the writer if the request ended before reading the whole body.
	pr.CloseWithError(fmt.Errorf("upload request finished"))
	return body, err
}

// GetInterview fetches one interview.
func (c *Client) GetInterview(ctx context.Context, interviewID string) (*interview.Interview, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/interviews/" + escape(interviewID)})
	if err != nil {
		return nil, err
	}
	return NormalizeInterview(body)
}

// GetSession fetches one session with its interviews.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*interview.Session, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/sessions/" + escape(sessionID)})
	if err != nil {
		return nil, err
	}
	s, err := NormalizeSession(body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[s.ID] = *s
	c.mu.Unlock()
	return s, nil
}

// RefreshSession re-fetches sessionID so CachedSession reflects the server.
func (c *Client) RefreshSession(ctx context.Context, sessionID string) error {
	_, err := c.GetSession(ctx, sessionID)
	return err
}

// CachedSession returns the last fetched copy of sessionID.
func (c *Client) CachedSession(sessionID string) (interview.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}
