package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/credentials"
)

// fakeStore backs only GetLinkedAccount, the sole method the broker's
// no-auth/api-key paths need for these tests.
type fakeStore struct {
	catalog.Store
	account *catalog.LinkedAccount
}

func (s *fakeStore) GetLinkedAccount(ctx context.Context, projectID, appName, ownerID string) (*catalog.LinkedAccount, error) {
	return s.account, nil
}

func newExecutorFor(account *catalog.LinkedAccount) *Executor {
	store := &fakeStore{account: account}
	broker := credentials.NewBroker(store, nil, nil, nil)
	return New(broker)
}

func echoFunction(method, path string, params ...catalog.Parameter) *catalog.Function {
	return &catalog.Function{
		Name:         "echo",
		AppName:      "testapp",
		Method:       method,
		PathTemplate: path,
		Parameters:   params,
	}
}

func TestExecutor_JSONBodyByDefault(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	account := &catalog.LinkedAccount{Enabled: true, AuthMode: catalog.AuthModeNoAuth}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodPost, "/items", catalog.Parameter{Name: "name", Location: "body", Type: "string", Required: true})
	result, err := exec.Execute(context.Background(), Invocation{
		BaseURL:  upstream.URL,
		Function: fn,
		Args:     map[string]any{"name": "widget"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))
}

func TestExecutor_FormEncodedBodyViaContentTypeHeader(t *testing.T) {
	var gotContentType, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	account := &catalog.LinkedAccount{Enabled: true, AuthMode: catalog.AuthModeNoAuth}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodPost, "/items", catalog.Parameter{Name: "name", Location: "body", Type: "string", Required: true})
	fn.Headers = map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	_, err := exec.Execute(context.Background(), Invocation{
		BaseURL:  upstream.URL,
		Function: fn,
		Args:     map[string]any{"name": "widget"},
	})

	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "name=widget", gotBody)
}

func TestExecutor_MultipartBodyWhenFileParamPresent(t *testing.T) {
	var gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	account := &catalog.LinkedAccount{Enabled: true, AuthMode: catalog.AuthModeNoAuth}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodPost, "/upload", catalog.Parameter{Name: "file", Location: "body", Type: "file", Required: true})
	_, err := exec.Execute(context.Background(), Invocation{
		BaseURL:  upstream.URL,
		Function: fn,
		Args:     map[string]any{"file": "aGVsbG8="}, // base64("hello")
	})

	require.NoError(t, err)
	assert.Contains(t, gotContentType, "multipart/form-data")
}

func TestExecutor_APIKeyInjectsHeader(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	account := &catalog.LinkedAccount{
		Enabled:  true,
		AuthMode: catalog.AuthModeAPIKey,
		Credentials: map[string]any{
			"api_key": "Bearer secret-token",
		},
	}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodGet, "/me")
	_, err := exec.Execute(context.Background(), Invocation{BaseURL: upstream.URL, Function: fn, Args: map[string]any{}})

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestExecutor_MissingRequiredParameterFails(t *testing.T) {
	account := &catalog.LinkedAccount{Enabled: true, AuthMode: catalog.AuthModeNoAuth}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodPost, "/items", catalog.Parameter{Name: "name", Location: "body", Type: "string", Required: true})
	_, err := exec.Execute(context.Background(), Invocation{BaseURL: "http://unused", Function: fn, Args: map[string]any{}})

	assert.Error(t, err)
}

func TestExecutor_PathTemplateSubstitution(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	account := &catalog.LinkedAccount{Enabled: true, AuthMode: catalog.AuthModeNoAuth}
	exec := newExecutorFor(account)

	fn := echoFunction(http.MethodGet, "/items/{id}", catalog.Parameter{Name: "id", Location: "path", Type: "string", Required: true})
	_, err := exec.Execute(context.Background(), Invocation{BaseURL: upstream.URL, Function: fn, Args: map[string]any{"id": "42"}})

	require.NoError(t, err)
	assert.Equal(t, "/items/42", gotPath)
}
