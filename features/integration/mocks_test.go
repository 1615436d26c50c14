package integration

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"socialpublish/internal/adapter/meta"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Upsert(ctx context.Context, userID string, cred Credential) (string, error) {
	args := m.Called(ctx, userID, cred)
	return args.String(0), args.Error(1)
}

func (m *MockStore) GetByUser(ctx context.Context, userID string) (*Credential, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credential), args.Error(1)
}

func (m *MockStore) GetCredential(ctx context.Context, integrationID string) (*Credential, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Credential), args.Error(1)
}

func (m *MockStore) UpdateToken(ctx context.Context, integrationID, accessToken, tokenType string, expiresAt *time.Time) error {
	args := m.Called(ctx, integrationID, accessToken, tokenType, expiresAt)
	return args.Error(0)
}

func (m *MockStore) ListExpiring(ctx context.Context, after, before time.Time, limit int) ([]Credential, error) {
	args := m.Called(ctx, after, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Credential), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
	missing []string
}

func (m *MockProvider) MissingConfig() []string { return m.missing }
func (m *MockProvider) AppID() string           { return "app-1" }

func (m *MockProvider) AuthorizationURL(p meta.AuthParams) string {
	args := m.Called(p)
	return args.String(0)
}

func (m *MockProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*meta.TokenResponse, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*meta.TokenResponse), args.Error(1)
}

func (m *MockProvider) ExchangeLongLived(ctx context.Context, shortLived string) (*meta.TokenResponse, error) {
	args := m.Called(ctx, shortLived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*meta.TokenResponse), args.Error(1)
}

func (m *MockProvider) RefreshLongLivedToken(ctx context.Context, token string) (*meta.TokenResponse, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*meta.TokenResponse), args.Error(1)
}

func (m *MockProvider) ListPages(ctx context.Context, accessToken string) ([]meta.Page, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]meta.Page), args.Error(1)
}

func (m *MockProvider) Me(ctx context.Context, accessToken string) (*meta.Me, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*meta.Me), args.Error(1)
}

func (m *MockProvider) Permissions(ctx context.Context, accessToken string) ([]meta.Permission, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]meta.Permission), args.Error(1)
}
