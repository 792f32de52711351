package models

import "encoding/json"

// Envelope is the response shape shared by the user, post and comment services.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Post struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id,omitempty"`
	Author    string `json:"author,omitempty"`
	LikeCount int64  `json:"like_count"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type PostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Comment struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id,omitempty"`
	Author    string `json:"author,omitempty"`
	LikeCount int64  `json:"like_count"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type CommentInput struct {
	Content string `json:"content"`
}

type LikeStatus struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

// PageParams are the list query parameters the services understand.
type PageParams struct {
	Page      int
	Size      int
	SortBy    string
	SortOrder string
}
