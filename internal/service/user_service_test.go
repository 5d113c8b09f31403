package service_test

import (
	"context"
	"errors"
	"testing"

	"pettycash/internal/model"
	"pettycash/internal/repository/memory"
	"pettycash/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_CreateUser(t *testing.T) {
	f := newFixture(t)
	users := service.NewUserService(f.store.Users())
	ctx := context.Background()

	_, err := users.CreateUser(ctx, f.cashier, service.CreateUserRequest{Username: "x", Email: "x@example.com", Role: "employee"})
	assert.ErrorIs(t, err, service.ErrForbidden)

	cases := []struct {
		name  string
		req   service.CreateUserRequest
		field string
	}{
		{"unknown role", service.CreateUserRequest{Username: "x", Email: "x@example.com", Role: "auditor"}, "role"},
		{"bad email", service.CreateUserRequest{Username: "x", Email: "not-an-email", Role: "employee"}, "email"},
		{"blank username", service.CreateUserRequest{Username: "  ", Email: "x@example.com", Role: "employee"}, "username"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := users.CreateUser(ctx, f.admin, tc.req)
			var fieldErr *service.FieldValidationError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, tc.field, fieldErr.Field)
		})
	}

	created, err := users.CreateUser(ctx, f.admin, service.CreateUserRequest{Username: "Dana", Email: " Dana@Example.com ", Role: "Cashier"})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", created.Email)
	assert.Equal(t, model.RoleCashier, created.Role)
	assert.Equal(t, f.org.String(), created.OrganizationID)

	_, err = users.CreateUser(ctx, f.admin, service.CreateUserRequest{Username: "Dana B", Email: "dana@example.com", Role: "employee"})
	assert.ErrorIs(t, err, service.ErrFieldValidation)
}

func TestUserService_ListAndGetAreOrganizationScoped(t *testing.T) {
	f := newFixture(t)
	users := service.NewUserService(f.store.Users())
	ctx := context.Background()

	other := uuid.New()
	f.store.SeedUser(model.User{ID: uuid.New(), OrganizationID: other, Username: "outsider", Role: model.RoleEngineer})

	list, total, err := users.ListUsers(ctx, f.employee, service.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, list, 5)

	engineers, total, err := users.ListUsers(ctx, f.employee, service.UserFilter{Role: "engineer"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, f.engineer.UserID.String(), engineers[0].ID)

	paged, total, err := users.ListUsers(ctx, f.employee, service.UserFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, paged, 1)

	_, _, err = users.ListUsers(ctx, f.employee, service.UserFilter{Role: "auditor"})
	assert.ErrorIs(t, err, service.ErrFieldValidation)

	_, err = users.GetUser(ctx, model.Actor{UserID: uuid.New(), Role: model.RoleAdmin, OrganizationID: other}, f.employee.UserID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestUserService_StorageFailure(t *testing.T) {
	store := memory.New()
	users := service.NewUserService(store.Users())
	admin := model.Actor{UserID: uuid.New(), Role: model.RoleAdmin, OrganizationID: uuid.New()}

	store.FailOn(memory.OpUserCreate, errors.New("disk full"))
	_, err := users.CreateUser(context.Background(), admin, service.CreateUserRequest{Username: "a", Email: "a@example.com", Role: "employee"})
	assert.ErrorIs(t, err, service.ErrStorageUnavailable)
}
