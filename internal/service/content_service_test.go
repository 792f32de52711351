package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hhottdogg/community/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostService_ListSendsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/posts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		assert.Equal(t, "created_at", r.URL.Query().Get("sort_by"))
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		w.Write([]byte(`{"success":true,"data":[{"id":1,"title":"a"},{"id":2,"title":"b"}]}`))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	posts, err := NewPostService(f.api, srv.URL).List(context.Background(), models.PageParams{
		Page:   2,
		Size:   20,
		SortBy: "created_at",
	})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "b", posts[1].Title)
}

func TestPostService_CreateSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var input models.PostInput
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "title", input.Title)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":9,"title":"title","content":"body"}}`))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	post, err := NewPostService(f.api, srv.URL).Create(context.Background(), models.PostInput{Title: "title", Content: "body"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), post.ID)
}

func TestPostService_LikeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/posts/5/like/status", r.URL.Path)
		assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`{"success":true,"data":{"liked":true,"like_count":3}}`))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	status, err := NewPostService(f.api, srv.URL).LikeStatus(context.Background(), 5, "u-1")
	require.NoError(t, err)
	assert.Equal(t, &models.LikeStatus{Liked: true, LikeCount: 3}, status)
}

func TestCommentService_Mine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/comments/my", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("sort_by"))
		w.Write([]byte(`{"success":true,"data":[{"id":3,"post_id":1,"content":"mine"}]}`))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	comments, err := NewCommentService(f.api, srv.URL).Mine(context.Background(), models.PageParams{Page: 1, SortBy: "ignored"})
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "mine", comments[0].Content)
}

func TestCommentService_UpdateUsesPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/comments/8", r.URL.Path)
		w.Write([]byte(`{"id":8,"content":"edited"}`))
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	comment, err := NewCommentService(f.api, srv.URL).Update(context.Background(), 8, models.CommentInput{Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", comment.Content)
}

func TestUserService_Logout(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/api/v1/users/logout", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newAPIFixture(t)
	err := NewUserService(f.api, srv.URL).Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, hits)
	assert.Zero(t, f.auth.refreshCalls.Load())
}
