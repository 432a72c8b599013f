// Package cloudinary hosts captured verification frames so the face service
// can fetch them by URL.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.cloudinary.com/v1_1"

// FrameTag marks every uploaded frame so they can be purged in bulk.
const FrameTag = "liveattend-frame"

// Client performs signed image uploads.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	APIBase   string
	HTTP      *http.Client

	now func() time.Time
}

func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		APIBase:   defaultAPIBase,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

type uploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// UploadFrame stores one frame captured for identity and returns its HTTPS
// URL. The public id is derived from the identity and the capture time.
func (c *Client) UploadFrame(ctx context.Context, identity string, frame []byte) (string, error) {
	if len(frame) == 0 {
		return "", errors.New("cloudinary: empty frame")
	}
	now := c.now()
	params := map[string]string{
		"public_id": PublicID(identity, now),
		"tags":      FrameTag,
		"timestamp": strconv.FormatInt(now.Unix(), 10),
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}

	body, contentType, err := c.form(params, frame)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/%s/image/upload", strings.TrimRight(c.APIBase, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("cloudinary: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary: upload frame: %w", err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("cloudinary: upload rejected (%d): %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("cloudinary: decode response: %w", decodeErr)
	}
	if out.SecureURL == "" {
		return "", errors.New("cloudinary: response without secure_url")
	}
	return out.SecureURL, nil
}

func (c *Client) form(params map[string]string, frame []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{"api_key": c.APIKey, "signature": Sign(params, c.APISecret)}
	for k, v := range params {
		fields[k] = v
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", params["public_id"]+".jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// PublicID names a frame after the student and capture time, keeping only
// characters Cloudinary accepts in ids.
func PublicID(identity string, at time.Time) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(identity)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "student"
	}
	return name + "-" + strconv.FormatInt(at.UTC().UnixMilli(), 10)
}

// Sign computes the upload signature: the non-empty params sorted by key,
// joined as k=v with '&', suffixed with the secret and SHA-1 hex encoded.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
