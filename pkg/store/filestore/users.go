package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, len(snap.users))
	copy(out, snap.users)
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range snap.users {
		if u.ID == id {
			cp := u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// GetUserByLogin matches the username exactly or the email case-insensitively.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range snap.users {
		if u.Username == login || strings.EqualFold(u.Email, login) {
			cp := u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, in store.CreateUserInput) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return nil, err
	}
	if err := checkUserUnique(users, 0, in.Username, in.Email); err != nil {
		return nil, err
	}

	now := s.now()
	ru := rawUser{
		ID:           nextUserID(users),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		IsActive:     true,
		Avatar:       in.Avatar,
		Bio:          in.Bio,
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}
	if in.IsActive != nil {
		ru.IsActive = *in.IsActive
	}

	users = append(users, ru)
	if err := s.writeUsers(users); err != nil {
		return nil, err
	}
	s.Invalidate()

	u := toUser(ru, now)
	return &u, nil
}

// UpdateUser applies the non-nil fields of in. Demoting or deactivating the
// last active admin is refused.
func (s *Store) UpdateUser(ctx context.Context, id int64, in store.UpdateUserInput) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range users {
		if users[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	ru := &users[idx]

	username, email := ru.Username, ru.Email
	if in.Username != nil {
		username = *in.Username
	}
	if in.Email != nil {
		email = *in.Email
	}
	if err := checkUserUnique(users, id, username, email); err != nil {
		return nil, err
	}

	losesAdmin := isActiveAdmin(*ru) &&
		((in.Role != nil && *in.Role != string(types.UserRoleAdmin)) || (in.IsActive != nil && !*in.IsActive))
	if losesAdmin && countActiveAdmins(users) <= 1 {
		return nil, store.ErrLastAdmin
	}

	ru.Username = username
	ru.Email = email
	if in.PasswordHash != nil {
		ru.PasswordHash = *in.PasswordHash
	}
	if in.Role != nil {
		ru.Role = *in.Role
	}
	if in.IsActive != nil {
		ru.IsActive = *in.IsActive
	}
	if in.Avatar != nil {
		ru.Avatar = *in.Avatar
	}
	if in.Bio != nil {
		ru.Bio = *in.Bio
	}
	now := s.now()
	ru.UpdatedAt = &now

	if err := s.writeUsers(users); err != nil {
		return nil, err
	}
	s.Invalidate()

	u := toUser(*ru, now)
	return &u, nil
}

// DeleteUser removes the user. The last active admin cannot be deleted.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return err
	}
	idx := -1
	for i := range users {
		if users[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	if isActiveAdmin(users[idx]) && countActiveAdmins(users) <= 1 {
		return store.ErrLastAdmin
	}

	users = append(users[:idx], users[idx+1:]...)
	if err := s.writeUsers(users); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func checkUserUnique(users []rawUser, selfID int64, username, email string) error {
	for _, u := range users {
		if u.ID == selfID {
			continue
		}
		if u.Username == username {
			return fmt.Errorf("%w: %q", store.ErrUsernameExists, username)
		}
		if strings.EqualFold(u.Email, email) {
			return fmt.Errorf("%w: %q", store.ErrEmailExists, email)
		}
	}
	return nil
}

func isActiveAdmin(u rawUser) bool {
	return u.IsActive && u.Role == string(types.UserRoleAdmin)
}

func countActiveAdmins(users []rawUser) int {
	n := 0
	for _, u := range users {
		if isActiveAdmin(u) {
			n++
		}
	}
	return n
}
