// Package noteapi implements the two-step create/update article protocol
// and the auxiliary REST calls of the platform.
package noteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/transport"
	"notepub/pkg/utils"
)

// API client errors.
var (
	ErrMissingIdentity     = fmt.Errorf("%w: create response carries no article id or key", transport.ErrAPI)
	ErrMissingImageURL     = fmt.Errorf("%w: upload response carries no image url", transport.ErrAPI)
	ErrUnsupportedImage    = errors.New("unsupported image format (jpeg, png, gif only)")
	ErrImageTooLarge       = errors.New("image exceeds 10MB")
	ErrMissingArticleTitle = errors.New("article title is required")
)

// MaxImageBytes is the upload size ceiling.
const MaxImageBytes = 10 * 1024 * 1024

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// Status is an article's visibility.
type Status string

// Article statuses.
const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// ArticleRef is the identity assigned by the create call.
type ArticleRef struct {
	Key string
	ID  int64
}

// ImageRef identifies an uploaded eyecatch image.
type ImageRef struct {
	Key string
	URL string
}

// UpdateParams is the full article state sent by an update.
type UpdateParams struct {
	HTML     string
	Title    string
	Status   Status
	ImageURL string
}

// PostParams describes one create-then-update publish.
type PostParams struct {
	HTML            string
	Title           string
	Status          Status
	Username        string
	HeaderImagePath string
}

// PostResult is the outcome of a successful PostArticle.
type PostResult struct {
	URL    string
	Status Status
	Ref    ArticleRef
}

// IncompleteArticleError reports that an article was created but a later
// step failed. The article exists remotely and is not rolled back.
type IncompleteArticleError struct {
	Err error
	Key string
	ID  int64
}

func (e *IncompleteArticleError) Error() string {
	return fmt.Sprintf("article %d (%s) created but not updated: %v", e.ID, e.Key, e.Err)
}

func (e *IncompleteArticleError) Unwrap() error {
	return e.Err
}

// Client defines the article operations used by the publisher.
type Client interface {
	CreateArticle(ctx context.Context, title string) (ArticleRef, error)
	UpdateArticle(ctx context.Context, id int64, params UpdateParams) error
	UploadEyecatch(ctx context.Context, path string, noteID int64) (ImageRef, error)
	PostArticle(ctx context.Context, params PostParams) (*PostResult, error)
	ValidateSession(ctx context.Context, username string) (bool, error)
}

// Ensure APIClient implements Client.
var _ Client = (*APIClient)(nil)

// APIClient talks to the platform REST API through a retrying transport.
type APIClient struct {
	transport *transport.Transport
	headers   *utils.HTTPHelper
	cfg       config.APIConfig
	cookies   map[string]string
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewAPIClient creates a client for the configured origin.
func NewAPIClient(cfg config.APIConfig, tr *transport.Transport, log *logger.Logger) *APIClient {
	if log == nil {
		log = logger.Discard()
	}

	return &APIClient{
		transport: tr,
		headers:   utils.NewHTTPHelper(cfg.UserAgent),
		cfg:       cfg,
		logger:    log,
	}
}

// SetCookies replaces the session cookies sent with every call.
func (c *APIClient) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cookies = cookies
}

func (c *APIClient) buildHeaders(contentType string) http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.headers.BuildHeaders(c.cookies, contentType)
}

func (c *APIClient) sendJSON(ctx context.Context, method, url string, payload any) (*transport.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.transport.Send(ctx, &transport.Request{
		Method: method,
		URL:    url,
		Header: c.buildHeaders("application/json"),
		Body:   body,
	})
}

type envelope[T any] struct {
	Data *T `json:"data"`
}

func decodeData[T any](resp *transport.Response) (*T, error) {
	var env envelope[T]
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", transport.ErrAPI, err)
	}

	if env.Data == nil {
		return nil, fmt.Errorf("%w: response has no data", transport.ErrAPI)
	}

	return env.Data, nil
}

// CreateArticle creates an empty article and returns its identity.
func (c *APIClient) CreateArticle(ctx context.Context, title string) (ArticleRef, error) {
	if strings.TrimSpace(title) == "" {
		return ArticleRef{}, ErrMissingArticleTitle
	}

	url, err := c.cfg.Endpoint(c.cfg.CreatePath, nil)
	if err != nil {
		return ArticleRef{}, err
	}

	payload := map[string]any{
		c.cfg.Fields.Body:  "",
		c.cfg.Fields.Title: title,
		"template_key":     nil,
	}

	resp, err := c.sendJSON(ctx, http.MethodPost, url, payload)
	if err != nil {
		return ArticleRef{}, fmt.Errorf("create article: %w", err)
	}

	data, err := decodeData[struct {
		Key string          `json:"key"`
		ID  json.RawMessage `json:"id"`
	}](resp)
	if err != nil {
		return ArticleRef{}, fmt.Errorf("create article: %w", err)
	}

	id, _ := parseID(data.ID)
	if id == 0 || data.Key == "" {
		return ArticleRef{}, fmt.Errorf("%w: %s", ErrMissingIdentity, utils.Preview(string(resp.Body), 200))
	}

	c.logger.Info("article created", "id", id, "key", data.Key)

	return ArticleRef{ID: id, Key: data.Key}, nil
}

// parseID accepts numeric or string ids.
func parseID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}

	return strconv.ParseInt(s, 10, 64)
}

// UpdateArticle replaces the article's full state. Sending the same
// params twice leaves the article unchanged.
func (c *APIClient) UpdateArticle(ctx context.Context, id int64, params UpdateParams) error {
	url, err := c.cfg.Endpoint(c.cfg.UpdatePath, map[string]string{"id": strconv.FormatInt(id, 10)})
	if err != nil {
		return err
	}

	status := params.Status
	if status == "" {
		status = StatusDraft
	}

	payload := map[string]any{
		c.cfg.Fields.Body:   params.HTML,
		c.cfg.Fields.Title:  params.Title,
		c.cfg.Fields.Status: string(status),
	}

	if params.ImageURL != "" && c.cfg.Fields.Eyecatch != "" {
		payload[c.cfg.Fields.Eyecatch] = params.ImageURL
	}

	if _, err := c.sendJSON(ctx, strings.ToUpper(c.cfg.UpdateMethod), url, payload); err != nil {
		return fmt.Errorf("update article %d: %w", id, err)
	}

	c.logger.Debug("article updated", "id", id, "status", status, "body", utils.Preview(params.HTML, 60))

	return nil
}

// UploadEyecatch uploads a header image for the article.
func (c *APIClient) UploadEyecatch(ctx context.Context, path string, noteID int64) (ImageRef, error) {
	mimeType, err := CheckImage(path)
	if err != nil {
		return ImageRef{}, err
	}

	body, contentType, err := multipartImage(path, mimeType, noteID)
	if err != nil {
		return ImageRef{}, err
	}

	url, err := c.cfg.Endpoint(c.cfg.UploadPath, nil)
	if err != nil {
		return ImageRef{}, err
	}

	resp, err := c.transport.Send(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    url,
		Header: c.buildHeaders(contentType),
		Body:   body,
	})
	if err != nil {
		return ImageRef{}, fmt.Errorf("upload eyecatch: %w", err)
	}

	data, err := decodeData[struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}](resp)
	if err != nil {
		return ImageRef{}, fmt.Errorf("upload eyecatch: %w", err)
	}

	if data.URL == "" {
		return ImageRef{}, ErrMissingImageURL
	}

	ref := ImageRef{Key: data.Key, URL: data.URL}
	if ref.Key == "" {
		ref.Key = data.URL
	}

	c.logger.Info("eyecatch uploaded", "note_id", noteID, "url", ref.URL)

	return ref, nil
}

// CheckImage verifies that path is an uploadable image and returns its MIME
// type.
func CheckImage(path string) (string, error) {
	mimeType, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	if info.Size() > MaxImageBytes {
		return "", fmt.Errorf("%w: %.1fMB", ErrImageTooLarge, float64(info.Size())/1024/1024)
	}

	return mimeType, nil
}

func multipartImage(path, mimeType string, noteID int64) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(path)))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy image: %w", err)
	}

	if noteID != 0 {
		if err := w.WriteField("note_id", strconv.FormatInt(noteID, 10)); err != nil {
			return nil, "", fmt.Errorf("failed to write note_id: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// PostArticle creates an article, optionally uploads its header image,
// then sends the full state. A failure after create is reported as
// *IncompleteArticleError.
func (c *APIClient) PostArticle(ctx context.Context, params PostParams) (*PostResult, error) {
	ref, err := c.CreateArticle(ctx, params.Title)
	if err != nil {
		return nil, err
	}

	update := UpdateParams{
		HTML:   params.HTML,
		Title:  params.Title,
		Status: params.Status,
	}

	if params.HeaderImagePath != "" {
		img, err := c.UploadEyecatch(ctx, params.HeaderImagePath, ref.ID)
		if err != nil {
			return nil, &IncompleteArticleError{ID: ref.ID, Key: ref.Key, Err: err}
		}
		update.ImageURL = img.URL
	}

	if err := c.UpdateArticle(ctx, ref.ID, update); err != nil {
		return nil, &IncompleteArticleError{ID: ref.ID, Key: ref.Key, Err: err}
	}

	status := update.Status
	if status == "" {
		status = StatusDraft
	}

	return &PostResult{
		URL:    c.cfg.ArticleURL(params.Username, ref.Key),
		Status: status,
		Ref:    ref,
	}, nil
}

// ValidateSession reports whether the current cookies are accepted.
func (c *APIClient) ValidateSession(ctx context.Context, username string) (bool, error) {
	url, err := c.cfg.Endpoint(c.cfg.CreatorsPath, map[string]string{"username": username})
	if err != nil {
		return false, err
	}

	_, err = c.transport.Send(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: c.buildHeaders(""),
	})
	if errors.Is(err, transport.ErrAuthExpired) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}

	return true, nil
}
