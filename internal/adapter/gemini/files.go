package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"

	"github.com/tokligence/chatstream/internal/adapter"
	"github.com/tokligence/chatstream/internal/attachment"
	"github.com/tokligence/chatstream/internal/chat"
)

// UploadFile sends a materialized attachment to the Files API using the
// multipart upload protocol and returns the reference to embed in requests.
func (a *GeminiAdapter) UploadFile(ctx context.Context, att chat.Attachment) (FileData, error) {
	data, err := attachment.ReadFile(att)
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: read attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(att.FilePath))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	meta, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: build upload: %w", err)
	}
	if err := json.NewEncoder(meta).Encode(map[string]any{"file": map[string]string{"display_name": att.Name}}); err != nil {
		return FileData{}, fmt.Errorf("gemini: build upload: %w", err)
	}
	filePart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: build upload: %w", err)
	}
	if _, err := filePart.Write(data); err != nil {
		return FileData{}, fmt.Errorf("gemini: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return FileData{}, fmt.Errorf("gemini: build upload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", a.baseURL, url.QueryEscape(a.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	httpReq.Header.Set("X-Goog-Upload-Protocol", "multipart")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: upload: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return FileData{}, fmt.Errorf("gemini: read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return FileData{}, adapter.HTTPError("gemini", resp.StatusCode, respBody)
	}

	var uploaded struct {
		File struct {
			Name     string `json:"name"`
			URI      string `json:"uri"`
			MimeType string `json:"mimeType"`
		} `json:"file"`
	}
	if err := json.Unmarshal(respBody, &uploaded); err != nil {
		return FileData{}, fmt.Errorf("gemini: unmarshal upload response: %w", err)
	}
	if uploaded.File.URI == "" {
		return FileData{}, fmt.Errorf("gemini: upload of %q returned no uri", att.Name)
	}
	fd := FileData{FileURI: uploaded.File.URI, MimeType: uploaded.File.MimeType}
	if fd.MimeType == "" {
		fd.MimeType = mimeType
	}
	return fd, nil
}
