package service

import (
	"context"

	"feedsync/internal/media"
	"feedsync/internal/model"
	"feedsync/internal/mutation"
)

type PostService struct {
	ops           *mutation.Ops
	identities    Identities
	maxImageBytes int
}

func NewPostService(ops *mutation.Ops, identities Identities, maxImageBytes int) *PostService {
	if maxImageBytes <= 0 {
		maxImageBytes = model.MaxPostImageBytes
	}
	return &PostService{ops: ops, identities: identities, maxImageBytes: maxImageBytes}
}

// Create publishes a post as the current user. On error nothing was
// published and the caller still owns its draft.
func (s *PostService) Create(ctx context.Context, content string, image []byte) error {
	req := model.CreatePostRequest{Content: content, Image: image}
	if len(image) > 0 {
		req.ContentType = media.DetectContentType(image)
	}
	req, err := req.Normalize(s.maxImageBytes)
	if err != nil {
		return err
	}

	me, _, err := s.identities.RequireUser(ctx)
	if err != nil {
		return err
	}
	return s.ops.CreatePost(ctx, me, req)
}

// React adds one reaction to a post as the current user.
func (s *PostService) React(ctx context.Context, postID int64) error {
	if postID <= 0 {
		return model.Invalid("post_id", "must be a confirmed post")
	}
	if _, _, err := s.identities.RequireUser(ctx); err != nil {
		return err
	}
	return s.ops.React(ctx, postID)
}
