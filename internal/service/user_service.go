package service

import (
	"context"
	"encoding/json"
	"net/http"
)

const userServiceName = "user"

type UserService struct {
	api     *APIService
	baseURL string
}

func NewUserService(api *APIService, baseURL string) *UserService {
	return &UserService{api: api, baseURL: baseURL}
}

// Me returns the user service's view of the caller.
func (s *UserService) Me(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.api.Send(ctx, Request{
		Service:    userServiceName,
		BaseURL:    s.baseURL,
		Method:     http.MethodGet,
		Path:       "/api/v1/users/me",
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}

	var me json.RawMessage
	if err := resp.Decode(&me); err != nil {
		return nil, err
	}
	return me, nil
}

// Logout ends the server-side session. It bypasses refresh-and-retry so it
// can run while the local session is being torn down.
func (s *UserService) Logout(ctx context.Context) error {
	_, err := s.api.SendOnce(ctx, Request{
		Service: userServiceName,
		BaseURL: s.baseURL,
		Method:  http.MethodPost,
		Path:    "/api/v1/users/logout",
	})
	return err
}
