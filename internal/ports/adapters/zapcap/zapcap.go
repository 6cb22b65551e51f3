// Package zapcap is the HTTP client for the ZapCap captioning API.
package zapcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/forPelevin/autoclip/internal/ports"
)

const (
	DefaultBaseURL = "https://api.zapcap.ai"
	requestTimeout = 60 * time.Second
	errBodyLimit   = 400
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zapcap %s: status %d: %s", e.Op, e.Status, e.Body)
}

type Adapter struct {
	key     string
	baseURL string
	client  *http.Client
	// transfer is used for part uploads and result downloads, which have no
	// overall timeout.
	transfer *http.Client
}

func New(apiKey, baseURL string) *Adapter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		key:      apiKey,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: requestTimeout},
		transfer: &http.Client{},
	}
}

var _ ports.CaptionAPI = (*Adapter)(nil)

func (a *Adapter) UploadVideo(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, a.client, "upload", http.MethodPost, a.baseURL+"/videos", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("zapcap upload: response has no video id")
	}
	return out.ID, nil
}

type uploadPart struct {
	ContentLength int64 `json:"contentLength"`
}

func (a *Adapter) CreateUpload(ctx context.Context, filename, contentType string, partSizes []int64) (ports.UploadSession, error) {
	parts := make([]uploadPart, len(partSizes))
	for i, s := range partSizes {
		parts[i] = uploadPart{ContentLength: s}
	}
	req := map[string]any{
		"uploadParts": parts,
		"filename":    filename,
		"contentType": contentType,
	}

	var raw map[string]json.RawMessage
	if err := a.doJSON(ctx, "create upload", http.MethodPost, a.baseURL+"/videos/upload", req, &raw); err != nil {
		return ports.UploadSession{}, err
	}
	return parseUploadSession(raw)
}

// partURLKeys are the field names the service has been seen to use for the
// presigned part URLs.
var partURLKeys = []string{"presignedUrls", "presigned_urls", "urls", "uploadUrls", "upload_urls", "parts"}

func parseUploadSession(raw map[string]json.RawMessage) (ports.UploadSession, error) {
	var s ports.UploadSession
	if err := json.Unmarshal(raw["uploadId"], &s.UploadID); err != nil || s.UploadID == "" {
		return s, fmt.Errorf("zapcap create upload: missing uploadId")
	}
	if err := json.Unmarshal(raw["videoId"], &s.VideoID); err != nil || s.VideoID == "" {
		return s, fmt.Errorf("zapcap create upload: missing videoId")
	}

	for _, k := range partURLKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(v, &entries); err != nil || len(entries) == 0 {
			continue
		}
		for i, e := range entries {
			u, err := partURL(e)
			if err != nil {
				return s, fmt.Errorf("zapcap create upload: part %d: %w", i+1, err)
			}
			s.PartURLs = append(s.PartURLs, u)
		}
		return s, nil
	}
	return s, fmt.Errorf("zapcap create upload: no part urls in response")
}

// partURL accepts either a bare string or an object carrying the URL.
func partURL(e json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(e, &str); err == nil {
		return str, nil
	}
	var obj struct {
		URL          string `json:"url"`
		UploadURL    string `json:"uploadUrl"`
		PresignedURL string `json:"presignedUrl"`
	}
	if err := json.Unmarshal(e, &obj); err != nil {
		return "", fmt.Errorf("unexpected url entry %s", e)
	}
	for _, u := range []string{obj.URL, obj.UploadURL, obj.PresignedURL} {
		if u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("no url in %s", e)
}

func (a *Adapter) UploadPart(ctx context.Context, u, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := a.transfer.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus("upload part", resp); err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("ETag"), nil
}

func (a *Adapter) CompleteUpload(ctx context.Context, c ports.CompleteUpload) error {
	ext := filepath.Ext(c.Filename)
	req := map[string]any{
		"uploadId":         c.UploadID,
		"videoId":          c.VideoID,
		"filename":         c.Filename,
		"originalFilename": c.Filename,
		"fileExtension":    ext,
		"baseName":         strings.TrimSuffix(c.Filename, ext),
		"contentType":      c.ContentType,
		"parts":            c.Parts,
		"metadata": map[string]any{
			"originalSize": c.OriginalSize,
			"uploadMethod": "multipart",
		},
	}
	return a.doJSON(ctx, "complete upload", http.MethodPost, a.baseURL+"/videos/upload/complete", req, nil)
}

func (a *Adapter) VideoExists(ctx context.Context, videoID string) (bool, error) {
	req, err := a.newRequest(ctx, http.MethodGet, a.baseURL+"/videos/"+url.PathEscape(videoID), "", nil)
	if err != nil {
		return false, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Op: "video exists", Status: resp.StatusCode}
	}
}

func (a *Adapter) CreateTask(ctx context.Context, videoID string, task ports.CaptionTask) (string, error) {
	req := map[string]any{
		"autoApprove": task.AutoApprove,
		"language":    task.Language,
		"templateId":  task.TemplateID,
	}
	var out struct {
		TaskID string `json:"taskId"`
	}
	u := a.baseURL + "/videos/" + url.PathEscape(videoID) + "/task"
	if err := a.doJSON(ctx, "create task", http.MethodPost, u, req, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("zapcap create task: response has no taskId")
	}
	return out.TaskID, nil
}

func (a *Adapter) TaskStatus(ctx context.Context, videoID, taskID string) (ports.CaptionStatus, error) {
	var out struct {
		Status      string `json:"status"`
		DownloadURL string `json:"downloadUrl"`
		Error       string `json:"error"`
	}
	u := a.baseURL + "/videos/" + url.PathEscape(videoID) + "/task/" + url.PathEscape(taskID)
	if err := a.doJSON(ctx, "task status", http.MethodGet, u, nil, &out); err != nil {
		return ports.CaptionStatus{}, err
	}
	if out.Status == "" {
		out.Status = "unknown"
	}
	return ports.CaptionStatus{Status: out.Status, DownloadURL: out.DownloadURL, Error: out.Error}, nil
}

// Download streams the result into w.
func (a *Adapter) Download(ctx context.Context, downloadURL string, w io.Writer) error {
	req, err := a.newRequest(ctx, http.MethodGet, downloadURL, "", nil)
	if err != nil {
		return err
	}
	resp, err := a.transfer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus("download", resp); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("zapcap download: %w", err)
	}
	return nil
}

func (a *Adapter) doJSON(ctx context.Context, op, method, u string, in, out any) error {
	var (
		body io.Reader
		ct   string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("zapcap %s: marshal: %w", op, err)
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	return a.do(ctx, a.client, op, method, u, ct, body, out)
}

func (a *Adapter) do(ctx context.Context, c *http.Client, op, method, u, ct string, body io.Reader, out any) error {
	req, err := a.newRequest(ctx, method, u, ct, body)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("zapcap %s: %w", op, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zapcap %s: decode: %w", op, err)
	}
	return nil
}

func (a *Adapter) newRequest(ctx context.Context, method, u, ct string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", a.key)
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	return req, nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
