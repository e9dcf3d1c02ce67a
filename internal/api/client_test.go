package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/widget-core/internal/model"
)

func TestBootstrap_CreatesVisitor(t *testing.T) {
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/visitors", r.URL.Path)
		gotAPIKey = r.Header.Get("X-API-Key")

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.CreateVisitorResponse{
			VisitorID: "v-1",
			Token:     "tok-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "widget-key", nil)
	require.NoError(t, c.Bootstrap(context.Background()))

	assert.Equal(t, "v-1", c.VisitorID())
	assert.Equal(t, "tok-1", c.Token())
	assert.Equal(t, "widget-key", gotAPIKey)
}

func TestBootstrap_ValidStoredIdentity(t *testing.T) {
	created := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/visitors/me":
			assert.Equal(t, "Bearer stored-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		case "/api/v1/visitors":
			created++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(model.CreateVisitorResponse{VisitorID: "v-new", Token: "t-new"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	c.SetIdentity("v-stored", "stored-token")
	require.NoError(t, c.Bootstrap(context.Background()))

	assert.Equal(t, "v-stored", c.VisitorID(), "valid identity kept")
	assert.Zero(t, created)
}

func TestBootstrap_RejectedIdentityReplaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/visitors/me":
			w.WriteHeader(http.StatusUnauthorized)
		case "/api/v1/visitors":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(model.CreateVisitorResponse{VisitorID: "v-new", Token: "t-new"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	c.SetIdentity("v-stale", "stale-token")
	require.NoError(t, c.Bootstrap(context.Background()))

	assert.Equal(t, "v-new", c.VisitorID())
	assert.Equal(t, "t-new", c.Token())
}

func TestDo_UnauthorizedSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	err := c.ValidateVisitor(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDo_APIErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "session has ended"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.SendMessage(context.Background(), "s-1", "hello")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session has ended", apiErr.Message)
}

func TestFetchHistory_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s-1/messages", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(model.HistoryResponse{
			Messages: []model.Message{{ID: "m-1"}},
			Total:    51,
			HasMore:  false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	resp, err := c.FetchHistory(context.Background(), "s-1", 25, 50)
	require.NoError(t, err)
	assert.Equal(t, 51, resp.Total)
	require.Len(t, resp.Messages, 1)
}

func TestCreateSession_SendsVisitorID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.CreateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v-1", req.VisitorID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.CreateSessionResponse{SessionID: "s-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	c.SetIdentity("v-1", "tok")
	resp, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.SessionID)
}
