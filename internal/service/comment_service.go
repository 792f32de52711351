package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hhottdogg/community/internal/models"
)

const commentServiceName = "comment"

type CommentService struct {
	api     *APIService
	baseURL string
}

func NewCommentService(api *APIService, baseURL string) *CommentService {
	return &CommentService{api: api, baseURL: baseURL}
}

func (s *CommentService) request(method, path string) Request {
	return Request{
		Service: commentServiceName,
		BaseURL: s.baseURL,
		Method:  method,
		Path:    path,
	}
}

func (s *CommentService) List(ctx context.Context, postID int64, params models.PageParams) ([]models.Comment, error) {
	req := s.request(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d/comments", postID))
	req.Query = pageQuery(params)
	req.Idempotent = true
	return s.sendList(ctx, req)
}

func (s *CommentService) Mine(ctx context.Context, params models.PageParams) ([]models.Comment, error) {
	req := s.request(http.MethodGet, "/api/v1/comments/my")
	req.Query = pageQuery(models.PageParams{Page: params.Page, Size: params.Size})
	req.Idempotent = true
	return s.sendList(ctx, req)
}

func (s *CommentService) Create(ctx context.Context, postID int64, input models.CommentInput) (*models.Comment, error) {
	req := s.request(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", postID))
	req.Body = input
	req.IdempotencyKey = uuid.NewString()
	return s.sendOne(ctx, req)
}

func (s *CommentService) Update(ctx context.Context, id int64, input models.CommentInput) (*models.Comment, error) {
	req := s.request(http.MethodPatch, fmt.Sprintf("/api/v1/comments/%d", id))
	req.Body = input
	req.Idempotent = true
	return s.sendOne(ctx, req)
}

func (s *CommentService) Delete(ctx context.Context, id int64) error {
	req := s.request(http.MethodDelete, fmt.Sprintf("/api/v1/comments/%d", id))
	req.Idempotent = true
	_, err := s.api.Send(ctx, req)
	return err
}

// ToggleLike likes or unlikes; the backend decides which.
func (s *CommentService) ToggleLike(ctx context.Context, id int64) (*models.LikeStatus, error) {
	req := s.request(http.MethodPost, fmt.Sprintf("/api/v1/comments/%d/like", id))
	req.IdempotencyKey = uuid.NewString()
	return sendLike(ctx, s.api, req)
}

func (s *CommentService) LikeStatus(ctx context.Context, id int64) (*models.LikeStatus, error) {
	req := s.request(http.MethodGet, fmt.Sprintf("/api/v1/comments/%d/like/status", id))
	req.Idempotent = true
	return sendLike(ctx, s.api, req)
}

func (s *CommentService) sendOne(ctx context.Context, req Request) (*models.Comment, error) {
	resp, err := s.api.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var comment models.Comment
	if err := resp.Decode(&comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (s *CommentService) sendList(ctx context.Context, req Request) ([]models.Comment, error) {
	resp, err := s.api.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var comments []models.Comment
	if err := resp.Decode(&comments); err != nil {
		return nil, err
	}
	return comments, nil
}
