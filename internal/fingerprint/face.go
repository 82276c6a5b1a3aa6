// Package fingerprint computes face embeddings with the self-hosted
// embedding server.
package fingerprint

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
	"strings"
	"time"
)

const defaultEmbeddingURL = "http://localhost:8000"

var (
	// ErrServerUnavailable is returned for transport failures and 5xx responses.
	ErrServerUnavailable = errors.New("embedding server unavailable")
	// ErrNoFace is returned when the server found no face in the image.
	ErrNoFace = errors.New("no face found")
	// ErrRejected is returned when the server refused the image.
	ErrRejected = errors.New("image rejected by embedding server")
)

// FaceDetection is a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// Area returns the bounding box area, 0 for a malformed box.
func (f FaceDetection) Area() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	w, h := f.BBox[2]-f.BBox[0], f.BBox[3]-f.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceResponse is the response of the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Largest returns the face with the biggest bounding box, which is the
// subject of a profile photo or the person in front of the glasses.
func (r *FaceResponse) Largest() (FaceDetection, bool) {
	if r == nil || len(r.Faces) == 0 {
		return FaceDetection{}, false
	}
	best := r.Faces[0]
	for _, f := range r.Faces[1:] {
		if f.Area() > best.Area() {
			best = f
		}
	}
	return best, true
}

// FaceClient calls the embedding server's face endpoint
type FaceClient struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewFaceClient creates a client. dim is the expected embedding size, 0 skips the check.
func NewFaceClient(baseURL string, dim int) *FaceClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &FaceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *FaceClient) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	for _, f := range faceResp.Faces {
		if c.dim > 0 && len(f.Embedding) != c.dim {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(f.Embedding), c.dim)
		}
	}
	return &faceResp, nil
}

// LargestFace returns the embedding of the most prominent face in the image.
func (c *FaceClient) LargestFace(ctx context.Context, imageData []byte) (FaceDetection, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return FaceDetection{}, err
	}
	face, ok := resp.Largest()
	if !ok {
		return FaceDetection{}, ErrNoFace
	}
	return face, nil
}

func (c *FaceClient) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request failed: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrServerUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d: %s", ErrServerUnavailable, resp.StatusCode, string(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(body))
	}
}

// DetectMIMEType detects the MIME type from image magic bytes
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return "application/octet-stream"
}
