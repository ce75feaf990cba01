package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
)

func TestAuthHandler_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{
		Email:    "Ada@Example.com",
		Password: "s3cret-pass",
		FullName: "Ada Lovelace",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var account appidentity.AccountResponse
	decode(t, w, &account)
	assert.Equal(t, "ada@example.com", account.Email)
	assert.Equal(t, "Ada Lovelace", account.FullName)
	assert.True(t, account.Active)
	assert.NotContains(t, w.Body.String(), "s3cret-pass")

	sub, err := env.store.FindSubscription(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanStarter, sub.PlanName)

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "ada@example.com", Password: "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var token appidentity.TokenResponse
	decode(t, w, &token)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, account.ID, token.Account.ID)

	claims, err := auth.NewJWTService(testJWTConfig).ValidateAccessToken(token.AccessToken)
	require.NoError(t, err)
	tokenAccount, err := claims.AccountUUID()
	require.NoError(t, err)
	assert.Equal(t, account.ID, tokenAccount)
}

func TestAuthHandler_Register_EmailTaken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{
		Email:    env.account.Email,
		Password: "s3cret-pass",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeAlreadyExists, resp.Error.Code)
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{
		Email:    "not-an-email",
		Password: "short",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	fields := make([]string, 0, len(resp.Error.Fields))
	for _, f := range resp.Error.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"email", "password"}, fields)
}

func TestAuthHandler_Login_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.auth.Register(ctx, appidentity.RegisterInput{Email: "ada@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	cases := []struct {
		name     string
		req      LoginRequest
		status   int
		wantCode string
	}{
		{"wrong password", LoginRequest{Email: "ada@example.com", Password: "guess-again"}, http.StatusUnauthorized, dto.ErrCodeInvalidCredentials},
		{"unknown email", LoginRequest{Email: "nobody@example.com", Password: "s3cret-pass"}, http.StatusUnauthorized, dto.ErrCodeInvalidCredentials},
		{"account created without a password", LoginRequest{Email: env.account.Email, Password: "s3cret-pass"}, http.StatusUnauthorized, dto.ErrCodeInvalidCredentials},
		{"missing password", LoginRequest{Email: "ada@example.com"}, http.StatusBadRequest, dto.ErrCodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/auth/login", tc.req)

			assert.Equal(t, tc.status, w.Code)
			resp := decode(t, w, nil)
			assert.False(t, resp.Success)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}

	t.Run("deactivated account", func(t *testing.T) {
		account, err := env.accounts.GetByEmail(ctx, "ada@example.com")
		require.NoError(t, err)
		_, err = env.accounts.SetActive(ctx, account.ID, false)
		require.NoError(t, err)

		w := env.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: "ada@example.com", Password: "s3cret-pass"})

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
