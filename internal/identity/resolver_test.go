package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/config"
	"chat4all/internal/logger"
	apperrors "chat4all/pkg/errors"
	"chat4all/pkg/models"
	"chat4all/pkg/retry"
)

const internalUserID = "0b8f8a3e-46c7-4f29-9c1a-3f1d2b35f001"

func newTestResolver(baseURL string) *Resolver {
	return NewResolver(config.ResolverConfig{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
	}, logger.NopLogger())
}

func TestIsInternalReference(t *testing.T) {
	assert.True(t, IsInternalReference(internalUserID))
	assert.False(t, IsInternalReference("+5511999990001"))
	assert.False(t, IsInternalReference("wa-user-42"))
	assert.False(t, IsInternalReference(""))
}

func TestResolve_DirectIdentityBypassesDirectory(t *testing.T) {
	r := newTestResolver("http://resolver.invalid")

	identities, err := r.Resolve(context.Background(), "+5511999990001", models.ChannelWhatsApp)
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, models.ChannelWhatsApp, identities[0].Platform)
	assert.Equal(t, "+5511999990001", identities[0].PlatformUserID)
}

func TestResolve_InternalUserWithIdentities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/users/"+internalUserID, req.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "` + internalUserID + `",
			"display_name": "Ana",
			"external_identities": [
				{"platform": "WHATSAPP", "platform_user_id": "+5511999990001", "verified": true},
				{"platform": "TELEGRAM", "platform_user_id": "ana_tg", "verified": false}
			]
		}`))
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)

	identities, err := r.Resolve(context.Background(), internalUserID, models.ChannelInternal)
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, models.ChannelWhatsApp, identities[0].Platform)
	assert.Equal(t, models.ChannelTelegram, identities[1].Platform)
}

func TestResolve_NoLinkedIdentityIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "` + internalUserID + `", "display_name": "Ana", "external_identities": []}`))
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)

	_, err := r.Resolve(context.Background(), internalUserID, models.ChannelInternal)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolve_UnknownUserIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)

	_, err := r.Resolve(context.Background(), internalUserID, models.ChannelInternal)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolve_DirectoryUnavailableIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "` + internalUserID + `",
			"display_name": "Ana",
			"external_identities": [
				{"platform": "WHATSAPP", "platform_user_id": "+5511999990001", "verified": true}
			]
		}`))
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)

	identities, err := r.Resolve(context.Background(), internalUserID, models.ChannelInternal)
	require.NoError(t, err)
	assert.Len(t, identities, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResolve_RetryBudgetIsBounded(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestResolver(srv.URL)

	_, err := r.Resolve(context.Background(), internalUserID, models.ChannelInternal)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var retryable retry.RetryableError
	assert.ErrorAs(t, err, &retryable)
}
