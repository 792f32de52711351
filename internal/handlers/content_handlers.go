package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hhottdogg/community/internal/models"
	"github.com/hhottdogg/community/internal/service"
	"github.com/sirupsen/logrus"
)

// ContentHandlers proxies the post, comment and user services.
type ContentHandlers struct {
	posts    *service.PostService
	comments *service.CommentService
	users    *service.UserService
	responder
}

func NewContentHandlers(
	posts *service.PostService,
	comments *service.CommentService,
	users *service.UserService,
	logger *logrus.Logger,
) *ContentHandlers {
	return &ContentHandlers{
		posts:     posts,
		comments:  comments,
		users:     users,
		responder: responder{logger: logger},
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

func pageParams(r *http.Request) models.PageParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	return models.PageParams{
		Page:      page,
		Size:      size,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
}

func (h *ContentHandlers) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		h.respondUpstreamError(w, err)
		return
	}
	h.respondWithJSON(w, status, payload)
}

func (h *ContentHandlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context(), pageParams(r))
	h.respond(w, http.StatusOK, posts, err)
}

func (h *ContentHandlers) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	post, err := h.posts.Get(r.Context(), id)
	h.respond(w, http.StatusOK, post, err)
}

func (h *ContentHandlers) CreatePost(w http.ResponseWriter, r *http.Request) {
	var input models.PostInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	post, err := h.posts.Create(r.Context(), input)
	h.respond(w, http.StatusCreated, post, err)
}

func (h *ContentHandlers) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	var input models.PostInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	post, err := h.posts.Update(r.Context(), id, input)
	h.respond(w, http.StatusOK, post, err)
}

func (h *ContentHandlers) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	err := h.posts.Delete(r.Context(), id)
	h.respond(w, http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *ContentHandlers) TogglePostLike(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	status, err := h.posts.ToggleLike(r.Context(), id)
	h.respond(w, http.StatusOK, status, err)
}

func (h *ContentHandlers) PostLikeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	status, err := h.posts.LikeStatus(r.Context(), id, r.URL.Query().Get("user_id"))
	h.respond(w, http.StatusOK, status, err)
}

func (h *ContentHandlers) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	comments, err := h.comments.List(r.Context(), id, pageParams(r))
	h.respond(w, http.StatusOK, comments, err)
}

func (h *ContentHandlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "postID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid post id")
		return
	}
	var input models.CommentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	comment, err := h.comments.Create(r.Context(), id, input)
	h.respond(w, http.StatusCreated, comment, err)
}

func (h *ContentHandlers) UpdateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "commentID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid comment id")
		return
	}
	var input models.CommentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	comment, err := h.comments.Update(r.Context(), id, input)
	h.respond(w, http.StatusOK, comment, err)
}

func (h *ContentHandlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "commentID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid comment id")
		return
	}
	err := h.comments.Delete(r.Context(), id)
	h.respond(w, http.StatusOK, SuccessResponse{Success: true}, err)
}

func (h *ContentHandlers) MyComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.comments.Mine(r.Context(), pageParams(r))
	h.respond(w, http.StatusOK, comments, err)
}

func (h *ContentHandlers) ToggleCommentLike(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "commentID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid comment id")
		return
	}
	status, err := h.comments.ToggleLike(r.Context(), id)
	h.respond(w, http.StatusOK, status, err)
}

func (h *ContentHandlers) CommentLikeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "commentID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ID", "Invalid comment id")
		return
	}
	status, err := h.comments.LikeStatus(r.Context(), id)
	h.respond(w, http.StatusOK, status, err)
}

func (h *ContentHandlers) Me(w http.ResponseWriter, r *http.Request) {
	me, err := h.users.Me(r.Context())
	h.respond(w, http.StatusOK, me, err)
}
