package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/vbonduro/wohnmap/internal/photostore"
	"github.com/vbonduro/wohnmap/internal/service"
)

const (
	maxPhotoSize   = 50 * 1024 * 1024 // 50 MB per file
	maxUploadSize  = 200 * 1024 * 1024
	maxFormMemory  = 32 * 1024 * 1024
	photoFormField = "photos"
)

var errUnsupportedImage = errors.New("unsupported image format")

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniffing algorithm (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// readUploads reads every file of the multipart field in submission order.
func (s *Server) readUploads(headers []*multipart.FileHeader) ([]service.Upload, error) {
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxPhotoSize {
			return nil, fmt.Errorf("%s: file too large", fh.Filename)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxPhotoSize+1))
		closeWithLog(f, "upload file", s.logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		if len(data) > maxPhotoSize {
			return nil, fmt.Errorf("%s: file too large", fh.Filename)
		}

		mimeType, ok := allowedImageMIME(data)
		if !ok {
			return nil, fmt.Errorf("%s: %w", fh.Filename, errUnsupportedImage)
		}
		uploads = append(uploads, service.Upload{Name: fh.Filename, MimeType: mimeType, Data: data})
	}
	return uploads, nil
}

func (s *Server) respondGallery(w http.ResponseWriter, r *http.Request, page *service.MapPage) {
	if !isHTMX(r) {
		s.respondMap(w, r, page)
		return
	}
	if err := s.renderPartial(w, "gallery", s.newMapView(page), "partials/gallery.html"); err != nil {
		s.logger.Error("render partial failed", "partial", "gallery", "error", err)
	}
}

// handleUploadPhotos stores all files of one file-picker submit for the open
// address. The batch is processed in order and continues if the browser goes
// away mid-upload.
func (s *Server) handleUploadPhotos(w http.ResponseWriter, r *http.Request) {
	addressID, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid address id", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Error("remove multipart temp files failed", "error", err)
		}
	}()

	headers := r.MultipartForm.File[photoFormField]
	if len(headers) == 0 {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}

	uploads, err := s.readUploads(headers)
	if err != nil {
		if errors.Is(err, errUnsupportedImage) {
			http.Error(w, "unsupported image format", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to read file", http.StatusBadRequest)
		s.logger.Warn("read upload failed", "address_id", addressID, "error", err)
		return
	}

	page := s.mapPage(w, r, false)
	// Failures are shown in the gallery.
	if page.EnsureOpen(r.Context(), addressID) {
		_ = page.UploadPhotos(context.WithoutCancel(r.Context()), uploads)
	}
	s.respondGallery(w, r, page)
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	photoID, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid photo id", http.StatusBadRequest)
		return
	}
	page := s.mapPage(w, r, false)
	_ = page.DeletePhoto(r.Context(), photoID)
	s.respondGallery(w, r, page)
}

// handleLocalPhoto serves a locally stored photo to holders of a valid
// signed URL.
func (s *Server) handleLocalPhoto(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if err := s.deps.LocalPhotos.Verify(path, r.URL.Query().Get("token")); err != nil {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}

	reader, mimeType, err := s.deps.LocalPhotos.Get(r.Context(), path)
	if err != nil {
		if !errors.Is(err, photostore.ErrNotFound) {
			s.logger.Error("read local photo failed", "path", path, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "photo reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "path", path, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
