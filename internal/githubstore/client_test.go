package githubstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/ledger"
)

const sampleCSV = "Name,ID Type,ID Number,Pass Type,Timestamp\nAsha Rao,Passport,P1234567,28 Oct 24,2024-10-28 09:15:00\n"

func newTestClient(srv *httptest.Server) *Client {
	return New(srv.URL, "test-token", "acme/registrations", "qr_data.csv", "main", 5*time.Second)
}

func TestFetch_DecodesLedgerAndSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/acme/registrations/contents/qr_data.csv", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		// GitHub wraps base64 content with newlines.
		enc := base64.StdEncoding.EncodeToString([]byte(sampleCSV))
		wrapped := enc[:40] + "\n" + enc[40:]
		json.NewEncoder(w).Encode(map[string]string{
			"content": wrapped, "encoding": "base64", "sha": "abc123",
		})
	}))
	defer srv.Close()

	l, token, err := newTestClient(srv).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, []string{"Name", "ID Type", "ID Number", "Pass Type", "Timestamp"}, l.Columns)
}

func TestFetch_MissingFileIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).Fetch(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestFetch_AuthFailureIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).Fetch(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrNotFound)
	assert.NotErrorIs(t, err, ledger.ErrConflict)
}

func TestCommit_SendsSHAAndReturnsNewToken(t *testing.T) {
	var got struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
		Branch  string `json:"branch"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]string{"sha": "def456"},
		})
	}))
	defer srv.Close()

	l, err := ledger.DecodeCSV([]byte(sampleCSV))
	require.NoError(t, err)

	token, err := newTestClient(srv).Commit(context.Background(), l, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "def456", token)
	assert.Equal(t, "abc123", got.SHA)
	assert.Equal(t, "main", got.Branch)
	assert.NotEmpty(t, got.Message)

	raw, err := base64.StdEncoding.DecodeString(got.Content)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(raw))
}

func TestCommit_StaleSHAIsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"qr_data.csv does not match"}`, http.StatusConflict)
	}))
	defer srv.Close()

	l := ledger.New(ledger.BaseColumns())
	_, err := newTestClient(srv).Commit(context.Background(), l, "stale")
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestCommit_CreateOmitsSHA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasSHA := body["sha"]
		assert.False(t, hasSHA)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]string{"sha": "first"},
		})
	}))
	defer srv.Close()

	l := ledger.New(ledger.BaseColumns())
	token, err := newTestClient(srv).Commit(context.Background(), l, "")
	require.NoError(t, err)
	assert.Equal(t, "first", token)
}

func TestRoundTrip_FetchAfterCommit(t *testing.T) {
	// Minimal contents-API double: one file slot with SHA checking.
	var stored []byte
	var sha string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if stored == nil {
				http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"content": base64.StdEncoding.EncodeToString(stored), "encoding": "base64", "sha": sha,
			})
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
				SHA     string `json:"sha"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if stored != nil && body.SHA != sha {
				http.Error(w, `{"message":"does not match"}`, http.StatusConflict)
				return
			}
			stored, _ = base64.StdEncoding.DecodeString(body.Content)
			sha = sha + "x"
			json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": sha}})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)

	_, _, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	in, err := ledger.DecodeCSV([]byte(sampleCSV))
	require.NoError(t, err)
	_, err = c.Commit(context.Background(), in, "")
	require.NoError(t, err)

	out, token, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, in.Columns, out.Columns)
	assert.Equal(t, in.Rows, out.Rows)
}
