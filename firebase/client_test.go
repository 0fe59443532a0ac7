package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type MockAccountAPI struct {
	mock.Mock
}

func (m *MockAccountAPI) GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fbauth.UserRecord), args.Error(1)
}

func (m *MockAccountAPI) SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error {
	args := m.Called(ctx, uid, customClaims)
	return args.Error(0)
}

// newEmulatedClient points the Admin SDK at an httptest server through the
// auth emulator host variable.
func newEmulatedClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Setenv("FIREBASE_AUTH_EMULATOR_HOST", strings.TrimPrefix(server.URL, "http://"))

	client, err := NewClient(context.Background(), ClientConfig{
		ProjectID:   testProject,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "admin-token"}),
		Timeout:     time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.Error(t, err)
}

func TestClient_FetchUser(t *testing.T) {
	client := newEmulatedClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/projects/"+testProject+"/accounts:lookup"), r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"abc123"}, body["localId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":[{"localId":"abc123","email":"jane@x.com","customAttributes":"{\"role\":\"mover\"}"}]}`))
	})

	user, err := client.FetchUser(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", user.UID)
	assert.Equal(t, "jane@x.com", user.Email)
	assert.Equal(t, "mover", user.Role)
}

func TestClient_FetchUser_NotFound(t *testing.T) {
	client := newEmulatedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.FetchUser(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestClient_UpdateRoleMetadata(t *testing.T) {
	var body map[string]interface{}
	client := newEmulatedClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/accounts:update"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"localId":"abc123"}`))
	})

	err := client.UpdateRoleMetadata(context.Background(), "abc123", models.RoleOwner, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "abc123", body["localId"])
	assert.JSONEq(t, `{"role":"owner"}`, body["customAttributes"].(string))
}

func TestClient_ClaimsReplaceWholeRole(t *testing.T) {
	accounts := new(MockAccountAPI)
	accounts.On("SetCustomUserClaims", mock.Anything, "abc123", map[string]interface{}{"role": "hunter"}).Return(nil)

	err := newClient(accounts, time.Second).UpdateRoleMetadata(context.Background(), "abc123", models.RoleHunter, "5b8c")
	require.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestClient_FetchUser_WithoutProfile(t *testing.T) {
	accounts := new(MockAccountAPI)
	accounts.On("GetUser", mock.Anything, "abc123").Return(&fbauth.UserRecord{
		CustomClaims: map[string]interface{}{"role": "owner"},
	}, nil)

	user, err := newClient(accounts, time.Second).FetchUser(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", user.UID)
	assert.Empty(t, user.Email)
	assert.Equal(t, "owner", user.Role)
}

func TestClient_Unavailable(t *testing.T) {
	t.Run("deadline exceeded", func(t *testing.T) {
		accounts := new(MockAccountAPI)
		accounts.On("GetUser", mock.Anything, "abc123").
			Return(nil, context.DeadlineExceeded)

		_, err := newClient(accounts, time.Second).FetchUser(context.Background(), "abc123")
		assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
	})

	t.Run("call is bounded by timeout", func(t *testing.T) {
		accounts := new(MockAccountAPI)
		accounts.On("SetCustomUserClaims", mock.Anything, "abc123", mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(context.DeadlineExceeded)

		start := time.Now()
		err := newClient(accounts, 20*time.Millisecond).UpdateRoleMetadata(context.Background(), "abc123", models.RoleOwner, "")
		assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("other errors are not outages", func(t *testing.T) {
		accounts := new(MockAccountAPI)
		accounts.On("GetUser", mock.Anything, "abc123").Return(nil, errors.New("invalid uid"))

		_, err := newClient(accounts, time.Second).FetchUser(context.Background(), "abc123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrProviderUnavailable)
		assert.NotErrorIs(t, err, ErrUserNotFound)
	})
}
