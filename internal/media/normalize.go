// Package media checks post images and stages them in object storage.
package media

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"feedsync/internal/model"
)

const jpegQuality = 85

// Image is a post image ready to send.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Normalizer enforces the image preconditions and downscales oversized
// JPEG and PNG images. GIF and WebP are passed through untouched.
type Normalizer struct {
	MaxBytes     int
	MaxDimension int
}

// NewNormalizer creates a Normalizer; zero values take the model defaults.
func NewNormalizer(maxBytes, maxDimension int) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = model.MaxPostImageBytes
	}
	if maxDimension <= 0 {
		maxDimension = model.MaxImageDimension
	}
	return &Normalizer{MaxBytes: maxBytes, MaxDimension: maxDimension}
}

// Prepare validates data and returns the image to upload.
func (n *Normalizer) Prepare(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, model.Invalid("image", "must not be empty")
	}
	if len(data) > n.MaxBytes {
		return nil, &model.ValidationError{Field: "image", Reason: model.ErrFileTooLarge.Error(), Cause: model.ErrFileTooLarge}
	}

	contentType := DetectContentType(data)
	if !model.IsAllowedImageType(contentType) {
		return nil, &model.ValidationError{Field: "image", Reason: model.ErrInvalidImageType.Error(), Cause: model.ErrInvalidImageType}
	}

	img := &Image{Data: data, ContentType: contentType}
	if contentType != model.ContentTypeJPEG && contentType != model.ContentTypePNG {
		return img, nil
	}

	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.ValidationError{Field: "image", Reason: "cannot decode image", Cause: model.ErrInvalidImageType}
	}
	b := decoded.Bounds()
	img.Width, img.Height = b.Dx(), b.Dy()
	if img.Width <= n.MaxDimension && img.Height <= n.MaxDimension {
		return img, nil
	}

	resized := imaging.Fit(decoded, n.MaxDimension, n.MaxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if contentType == model.ContentTypeJPEG {
		err = imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	} else {
		err = imaging.Encode(&buf, resized, imaging.PNG)
	}
	if err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	rb := resized.Bounds()
	img.Data = buf.Bytes()
	img.Width, img.Height = rb.Dx(), rb.Dy()
	return img, nil
}

// DetectContentType sniffs the media type of data without parameters.
func DetectContentType(data []byte) string {
	contentType := http.DetectContentType(data[:min(len(data), 512)])
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}

// Extension returns the file extension used for a content type.
func Extension(contentType string) string {
	switch contentType {
	case model.ContentTypeJPEG:
		return ".jpg"
	case model.ContentTypePNG:
		return ".png"
	case model.ContentTypeGIF:
		return ".gif"
	case model.ContentTypeWebP:
		return ".webp"
	default:
		return ""
	}
}
