package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kiesman99/gravilens/internal/api"
	"github.com/kiesman99/gravilens/internal/lens"
	"github.com/kiesman99/gravilens/pkg/raster"
)

// maxUploadBytes bounds the request body size for the warp endpoint.
const maxUploadBytes = 64 << 20

// Server implements the HTTP API handlers.
type Server struct {
	startTime time.Time
	version   string
}

// NewServer creates a new server instance.
func NewServer(version string) *Server {
	return &Server{
		startTime: time.Now(),
		version:   version,
	}
}

// GetHealth implements the health check endpoint.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// warpRequest carries the parsed multipart form of the warp endpoint.
type warpRequest struct {
	imageData []byte
	params    lens.Params
	region    *raster.Rect
	workers   int
}

// CreateWarpedImage implements the main warp endpoint. It accepts a
// multipart form with an "image" file plus the lens parameters and responds
// with the warped image as PNG.
func (s *Server) CreateWarpedImage(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	req, err := s.parseWarpRequest(r)
	if err != nil {
		s.writeValidationErrorResponse(w, err.Error(), &requestID)
		return
	}

	src, err := raster.Decode(req.imageData)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Sprintf("could not decode image: %v", err), &requestID, nil)
		return
	}

	warper := lens.New()

	result, err := warper.Warp(r.Context(), src, &lens.Options{
		Params:  req.params,
		Region:  req.region,
		Workers: req.workers,
	})
	if err != nil {
		s.handleWarpError(w, err, &requestID)
		return
	}

	imageData, err := raster.EncodePNG(result)
	if err != nil {
		log.Printf("Error encoding warp result: %v", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, api.CodeInternalError,
			"Internal server error", &requestID, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Length", strconv.Itoa(len(imageData)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(imageData); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// parseWarpRequest parses and validates the multipart warp form.
func (s *Server) parseWarpRequest(r *http.Request) (*warpRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("could not parse multipart form: %v", err)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("image file is required")
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("could not read image file: %v", err)
	}

	req := &warpRequest{
		imageData: imageData,
		params: lens.Params{
			InnerRadiusPercent: 50,
			OuterRadiusPercent: 100,
		},
	}

	if v := r.FormValue("inner_radius_percent"); v != "" {
		req.params.InnerRadiusPercent, err = parsePercent("inner_radius_percent", v)
		if err != nil {
			return nil, err
		}
	}

	if v := r.FormValue("outer_radius_percent"); v != "" {
		req.params.OuterRadiusPercent, err = parsePercent("outer_radius_percent", v)
		if err != nil {
			return nil, err
		}
	}

	if v := r.FormValue("inside"); v != "" {
		req.params.Inside, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("inside must be a boolean: %v", err)
		}
	}

	if v := r.FormValue("roi"); v != "" {
		rect, err := raster.ParseRect(v)
		if err != nil {
			return nil, err
		}
		req.region = &rect
	}

	if v := r.FormValue("workers"); v != "" {
		req.workers, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("workers must be an integer: %v", err)
		}
		if req.workers < 0 {
			return nil, fmt.Errorf("workers must not be negative")
		}
	}

	return req, nil
}

// parsePercent parses a percentage field and checks the [0,100] range.
func parsePercent(field, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %v", field, err)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%s must be between 0 and 100", field)
	}
	return v, nil
}

// handleWarpError maps engine errors to HTTP responses.
func (s *Server) handleWarpError(w http.ResponseWriter, err error, requestID *string) {
	var invalid *lens.InvalidInputError
	if errors.As(err, &invalid) {
		s.writeErrorResponse(w, http.StatusBadRequest, api.CodeInvalidRequest,
			invalid.Error(), requestID, map[string]interface{}{
				"field": invalid.Field,
			})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, api.CodeRequestTimeout,
			"Warp request timed out", requestID, nil)
		return
	}

	log.Printf("Warp error: %v", err)
	s.writeErrorResponse(w, http.StatusInternalServerError, api.CodeInternalError,
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeValidationErrorResponse writes a validation error response.
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, message string, requestID *string) {
	response := api.ValidationErrorResponse{
		Error:     api.CodeValidationError,
		Message:   message,
		RequestID: requestID,
		ValidationErrors: []api.ValidationError{
			{
				Field:   "request",
				Message: message,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(response)
}
