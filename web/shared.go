package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/auth"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	PageSize    = 15
	MaxPageSize = 100
	// MaxPageNumber keeps (page-1)*pageSize far from int overflow.
	MaxPageNumber = 1_000_000
)

type DataMap struct {
	Data map[string]interface{}
}

func NewPaginatedDataMap[T any](data types.PaginationResult[T]) DataMap {
	return DataMap{
		Data: map[string]interface{}{
			"page":              data.Page,
			"page_size":         data.PageSize,
			"total_pages":       data.TotalPages,
			"items":             data.Items,
			"has_previous_page": data.HasPreviousPage,
			"has_next_page":     data.HasNextPage,
			"total_items":       data.TotalItems,
		},
	}
}

func (d DataMap) Add(key string, value interface{}) DataMap {
	d.Data[key] = value
	return d
}

func getPageNumber(r *http.Request) int {
	page := r.URL.Query().Get("page")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		return 1
	}
	if pageNumber > MaxPageNumber {
		return MaxPageNumber
	}
	return int(pageNumber)
}

func getPageSize(r *http.Request) int {
	size, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || size < 1 {
		return PageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// errorBody is the shape of every error response.
type errorBody struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Error      string   `json:"error"`
	Errors     []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{StatusCode: status, Message: message, Error: http.StatusText(status)})
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	if authErr, ok := auth.AsError(err); ok {
		if authErr.Unwrap() != nil {
			logger.Debugw("request denied", "status", authErr.Status, "error", err)
		}
		writeMessage(w, authErr.Status, authErr.Message)
		return
	}

	var validationErr *custom_errors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			StatusCode: http.StatusBadRequest,
			Message:    "validation failed",
			Error:      http.StatusText(http.StatusBadRequest),
			Errors:     validationErr.Messages(),
		})
	case custom_errors.IsValidation(err):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custom_errors.ErrJobNotFound):
		writeMessage(w, http.StatusNotFound, "job not found")
	case errors.Is(err, custom_errors.ErrVersionConflict):
		writeMessage(w, http.StatusConflict, "job was modified concurrently, retry")
	default:
		logger.Errorw("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// safeRedirect only accepts local paths so sign-in flows cannot be used as open redirects.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}
