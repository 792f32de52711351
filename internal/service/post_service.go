package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/hhottdogg/community/internal/models"
)

const postServiceName = "post"

type PostService struct {
	api     *APIService
	baseURL string
}

func NewPostService(api *APIService, baseURL string) *PostService {
	return &PostService{api: api, baseURL: baseURL}
}

func (s *PostService) request(method, path string) Request {
	return Request{
		Service: postServiceName,
		BaseURL: s.baseURL,
		Method:  method,
		Path:    path,
	}
}

func (s *PostService) List(ctx context.Context, params models.PageParams) ([]models.Post, error) {
	req := s.request(http.MethodGet, "/api/v1/posts")
	req.Query = pageQuery(params)
	req.Idempotent = true

	resp, err := s.api.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := resp.Decode(&posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *PostService) Get(ctx context.Context, id int64) (*models.Post, error) {
	req := s.request(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d", id))
	req.Idempotent = true
	return s.sendPost(ctx, req)
}

// Create carries a fresh idempotency key so it is safe to re-issue.
func (s *PostService) Create(ctx context.Context, input models.PostInput) (*models.Post, error) {
	req := s.request(http.MethodPost, "/api/v1/posts")
	req.Body = input
	req.IdempotencyKey = uuid.NewString()
	return s.sendPost(ctx, req)
}

func (s *PostService) Update(ctx context.Context, id int64, input models.PostInput) (*models.Post, error) {
	req := s.request(http.MethodPut, fmt.Sprintf("/api/v1/posts/%d", id))
	req.Body = input
	req.Idempotent = true
	return s.sendPost(ctx, req)
}

func (s *PostService) Delete(ctx context.Context, id int64) error {
	req := s.request(http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", id))
	req.Idempotent = true
	_, err := s.api.Send(ctx, req)
	return err
}

// ToggleLike flips the caller's like. The idempotency key lets the backend
// drop a repeated toggle after a refresh or retry.
func (s *PostService) ToggleLike(ctx context.Context, id int64) (*models.LikeStatus, error) {
	req := s.request(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/like", id))
	req.IdempotencyKey = uuid.NewString()
	return sendLike(ctx, s.api, req)
}

func (s *PostService) LikeStatus(ctx context.Context, id int64, userID string) (*models.LikeStatus, error) {
	req := s.request(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d/like/status", id))
	req.Query = url.Values{"user_id": []string{userID}}
	req.Idempotent = true
	return sendLike(ctx, s.api, req)
}

func (s *PostService) sendPost(ctx context.Context, req Request) (*models.Post, error) {
	resp, err := s.api.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var post models.Post
	if err := resp.Decode(&post); err != nil {
		return nil, err
	}
	return &post, nil
}

func sendLike(ctx context.Context, api *APIService, req Request) (*models.LikeStatus, error) {
	resp, err := api.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var status models.LikeStatus
	if err := resp.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func pageQuery(p models.PageParams) url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		q.Set("size", strconv.Itoa(p.Size))
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.SortOrder != "" {
		q.Set("sort_order", p.SortOrder)
	}
	return q
}
