// Package mocks provides gomock implementations of the auth ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockRoleRepository(ctrl)
//	repo.EXPECT().FindRole(gomock.Any(), "u1", auth.RoleAdmin).Return(nil, nil)
package mocks

// Generate mocks for AuthProvider, RoleRepository and TokenVerifier from internal/ports.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/mindguard/mindguard-api/internal/ports AuthProvider,RoleRepository,TokenVerifier
