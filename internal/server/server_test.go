package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kiesman99/gravilens/internal/api"
)

// Test server setup
func setupTestServer() *httptest.Server {
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	// Create server implementation
	apiServer := NewServer("1.0.0-test")

	// Mount API routes at /api/v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", apiServer.GetHealth)
		r.Post("/warp", apiServer.CreateWarpedImage)
	})

	return httptest.NewServer(r)
}

// testPNG encodes a small solid-color PNG for upload.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 180, G: 90, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

// warpForm builds a multipart request body with an image and form fields.
func warpForm(t *testing.T, imageData []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if imageData != nil {
		part, err := writer.CreateFormFile("image", "input.png")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := part.Write(imageData); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write form field %s: %v", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	// Check content type
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	// Parse response
	var healthResp api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// Validate response
	if healthResp.Status != api.Healthy {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}

	if healthResp.Version == nil || *healthResp.Version != "1.0.0-test" {
		t.Errorf("Expected version '1.0.0-test', got %v", healthResp.Version)
	}

	if healthResp.Uptime == nil || *healthResp.Uptime < 0 {
		t.Errorf("Expected valid uptime, got %v", healthResp.Uptime)
	}

	// Check timestamp is recent
	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestWarpEndpoint_Success(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	body, contentType := warpForm(t, testPNG(t, 16, 16), map[string]string{
		"inner_radius_percent": "50",
		"outer_radius_percent": "100",
		"inside":               "false",
	})

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, raw)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", ct)
	}

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	// Result must decode as PNG with the source dimensions
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 16 || bounds.Dy() != 16 {
		t.Errorf("Expected 16x16 result, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestWarpEndpoint_Defaults(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	// Only the image; all parameters fall back to defaults.
	body, contentType := warpForm(t, testPNG(t, 8, 8), nil)

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, raw)
	}
}

func TestWarpEndpoint_RegionAndWorkers(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	body, contentType := warpForm(t, testPNG(t, 32, 32), map[string]string{
		"roi":     "4,4,28,28",
		"workers": "4",
		"inside":  "true",
	})

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, raw)
	}
}

func TestWarpEndpoint_MissingImage(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	body, contentType := warpForm(t, nil, map[string]string{
		"inner_radius_percent": "50",
	})

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp api.ValidationErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errResp.Error != api.CodeValidationError {
		t.Errorf("Expected error code %s, got %s", api.CodeValidationError, errResp.Error)
	}

	if len(errResp.ValidationErrors) == 0 {
		t.Error("Expected validation errors in response")
	}
}

func TestWarpEndpoint_InvalidPercent(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	for _, value := range []string{"150", "-3", "abc"} {
		body, contentType := warpForm(t, testPNG(t, 8, 8), map[string]string{
			"inner_radius_percent": value,
		})

		resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("inner_radius_percent=%s: expected status 400, got %d", value, resp.StatusCode)
		}
	}
}

func TestWarpEndpoint_RegionOutsideImage(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	body, contentType := warpForm(t, testPNG(t, 8, 8), map[string]string{
		"roi": "0,0,100,100",
	})

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errResp.Error != api.CodeInvalidRequest {
		t.Errorf("Expected error code %s, got %s", api.CodeInvalidRequest, errResp.Error)
	}
}

func TestWarpEndpoint_DeadlineExceeded(t *testing.T) {
	apiServer := NewServer("1.0.0-test")

	body, contentType := warpForm(t, testPNG(t, 16, 16), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/warp", body)
	req.Header.Set("Content-Type", contentType)

	// Expired deadline: the multipart form still parses, but the warp scan
	// aborts on its first context check.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	apiServer.CreateWarpedImage(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", rec.Code)
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errResp.Error != api.CodeRequestTimeout {
		t.Errorf("Expected error code %s, got %s", api.CodeRequestTimeout, errResp.Error)
	}
}

func TestWarpEndpoint_UndecodableImage(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	body, contentType := warpForm(t, []byte("this is not an image"), nil)

	resp, err := http.Post(server.URL+"/api/v1/warp", contentType, body)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errResp.Error != api.CodeInvalidRequest {
		t.Errorf("Expected error code %s, got %s", api.CodeInvalidRequest, errResp.Error)
	}
}
