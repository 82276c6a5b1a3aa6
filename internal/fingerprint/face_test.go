package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0, 0, 0}

func faceServer(t *testing.T, status int, resp any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart request, got %s", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(status)
		if resp != nil {
			json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLargestFace_PicksBiggestBox(t *testing.T) {
	server := faceServer(t, http.StatusOK, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}, DetScore: 0.9},
			{FaceIndex: 1, Embedding: []float32{0, 1}, BBox: []float64{0, 0, 50, 40}, DetScore: 0.8},
		},
	})
	client := NewFaceClient(server.URL, 2)

	face, err := client.LargestFace(context.Background(), jpegMagic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if face.FaceIndex != 1 {
		t.Errorf("expected face 1, got %d", face.FaceIndex)
	}
}

func TestLargestFace_NoFaces(t *testing.T) {
	server := faceServer(t, http.StatusOK, FaceResponse{})
	client := NewFaceClient(server.URL, 0)

	_, err := client.LargestFace(context.Background(), jpegMagic)
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestComputeFaceEmbeddings_DimensionMismatch(t *testing.T) {
	server := faceServer(t, http.StatusOK, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: []float32{1, 2, 3}}},
	})
	client := NewFaceClient(server.URL, 512)

	if _, err := client.ComputeFaceEmbeddings(context.Background(), jpegMagic); err == nil {
		t.Error("expected dimension error")
	}
}

func TestComputeFaceEmbeddings_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, ErrServerUnavailable},
		{http.StatusTooManyRequests, ErrServerUnavailable},
		{http.StatusBadRequest, ErrRejected},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := faceServer(t, tc.status, map[string]string{"detail": "nope"})
			client := NewFaceClient(server.URL, 0)
			_, err := client.ComputeFaceEmbeddings(context.Background(), jpegMagic)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestComputeFaceEmbeddings_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewFaceClient(url, 0).ComputeFaceEmbeddings(context.Background(), jpegMagic)
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("expected ErrServerUnavailable, got %v", err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", jpegMagic, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMIMEType(tc.data); got != tc.want {
				t.Errorf("DetectMIMEType() = %q, want %q", got, tc.want)
			}
		})
	}
}
