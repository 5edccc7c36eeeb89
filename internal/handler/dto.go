package handler

import (
	"time"

	"github.com/iliyamo/filevault/internal/model"
)

// ----- DTOs -----

type userResp struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResp(u *model.User) userResp {
	return userResp{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toUserList(users []model.User) []userResp {
	out := make([]userResp, 0, len(users))
	for i := range users {
		out = append(out, toUserResp(&users[i]))
	}
	return out
}

type fileResp struct {
	ID          uint64    `json:"id"`
	OwnerID     uint64    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func toFileResp(f *model.File) fileResp {
	return fileResp{
		ID:          f.ID,
		OwnerID:     f.OwnerID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		UploadedAt:  f.UploadedAt,
	}
}

func toFileList(files []model.File) []fileResp {
	out := make([]fileResp, 0, len(files))
	for i := range files {
		out = append(out, toFileResp(&files[i]))
	}
	return out
}

type tokenResp struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
