package model

import (
	"strings"
	"unicode/utf8"
)

// Post represents a remote post record.
// Timestamp is the remote creation instant in unix nanoseconds.
type Post struct {
	ID            int64    `json:"id"`
	Content       string   `json:"content"`
	Image         []byte   `json:"image,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	AuthorID      Identity `json:"author_id"`
	ReactionCount int64    `json:"reaction_count"`
	Timestamp     int64    `json:"timestamp"`

	// Provisional marks a locally predicted post that the remote has not confirmed yet.
	Provisional bool `json:"provisional,omitempty"`
}

// CreatePostRequest is the input of post creation.
type CreatePostRequest struct {
	Content     string `json:"content"`
	Image       []byte `json:"image,omitempty"`
	ContentType string `json:"-"`
}

// FeedPage is one normalized page of the feed. The posts themselves are
// cached individually; a page only remembers their order.
type FeedPage struct {
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
	IDs    []int64 `json:"ids"`
}

// FeedPost is a post joined with its author for display.
// Author is nil while unresolved or when the author has no profile.
type FeedPost struct {
	Post
	Author         *User `json:"author"`
	AuthorResolved bool  `json:"author_resolved"`
}

// FeedView is the assembled feed handed to the presentation boundary.
type FeedView struct {
	Posts     []FeedPost `json:"posts"`
	IsLoading bool       `json:"is_loading"`
	IsError   bool       `json:"is_error"`
	Error     string     `json:"error,omitempty"`
}

// Post constants
const (
	MaxPostContentLength = 280
	DefaultFeedPageSize  = 50
	ProfilePostWindow    = 100
)

// Normalize trims the content and checks the post preconditions.
func (r CreatePostRequest) Normalize(maxImageBytes int) (CreatePostRequest, error) {
	r.Content = strings.TrimSpace(r.Content)
	if r.Content == "" {
		return r, Invalid("content", "must not be empty")
	}
	if utf8.RuneCountInString(r.Content) > MaxPostContentLength {
		return r, Invalid("content", "must be at most 280 characters")
	}
	if len(r.Image) > 0 {
		if maxImageBytes > 0 && len(r.Image) > maxImageBytes {
			return r, &ValidationError{Field: "image", Reason: ErrFileTooLarge.Error(), Cause: ErrFileTooLarge}
		}
		if r.ContentType != "" && !IsAllowedImageType(r.ContentType) {
			return r, &ValidationError{Field: "image", Reason: ErrInvalidImageType.Error(), Cause: ErrInvalidImageType}
		}
	}
	return r, nil
}
