package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		APIBase:       srv.URL,
		StoreBase:     srv.URL,
		LoginBase:     srv.URL,
		CommunityBase: srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestOwnedIDs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, userdataPath, r.URL.Path)
		fmt.Fprint(w, `{"rgOwnedApps": [10, 20], "rgOwnedPackages": [30]}`)
	}))

	owned, err := client.OwnedIDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, owned, 3)
	assert.Contains(t, owned, 10)
	assert.Contains(t, owned, 30)
}

func TestRegisterKey(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{"success", `{"success": 1}`, 0},
		{"direct result code", `{"success": 2, "purchase_result_details": 14}`, 14},
		{"nested receipt code", `{"success": 2, "purchase_receipt_info": {"result_detail": 9}}`, 9},
		{"no code at all", `{"success": 2}`, 53},
		{"zero code", `{"success": 2, "purchase_result_details": 0}`, 53},
		{"unparsable body", `<html>slow down</html>`, 53},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, registerKeyPath, r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "AAAAA-BBBBB-CCCCC", r.Form.Get("product_key"))
				fmt.Fprint(w, tc.response)
			}))

			code, err := client.RegisterKey(context.Background(), "AAAAA-BBBBB-CCCCC")
			require.NoError(t, err)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestRegisterKeySendsSessionID(t *testing.T) {
	var gotSessionID string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/seed":
			http.SetCookie(w, &http.Cookie{Name: sessionIDCookie, Value: "sess-42"})
		case registerKeyPath:
			require.NoError(t, r.ParseForm())
			gotSessionID = r.Form.Get("sessionid")
			fmt.Fprint(w, `{"success": 1}`)
		}
	}))

	c := client
	c.seedCookies(context.Background(), c.storeBase+"/seed")
	_, err := c.RegisterKey(context.Background(), "AAAAA-BBBBB-CCCCC")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", gotSessionID)
}

func TestVerifySession(t *testing.T) {
	loggedIn := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn {
			w.Header().Set("Location", "/login")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	assert.False(t, client.VerifySession(context.Background()))
	loggedIn = true
	assert.True(t, client.VerifySession(context.Background()))
}

func TestAppListPaginates(t *testing.T) {
	var cursors []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, appListPath, r.URL.Path)
		require.Equal(t, "testkey", r.URL.Query().Get("key"))
		require.Equal(t, "50000", r.URL.Query().Get("max_results"))

		cursor := r.URL.Query().Get("last_appid")
		cursors = append(cursors, cursor)
		if cursor == "" {
			fmt.Fprint(w, `{"response": {"apps": [{"appid": 1, "name": "A"}], "have_more_results": true, "last_appid": 1}}`)
			return
		}
		fmt.Fprint(w, `{"response": {"apps": [{"appid": 2, "name": "B"}], "have_more_results": false}}`)
	}))

	apps, err := client.AppList(context.Background(), "testkey")
	require.NoError(t, err)
	assert.Equal(t, []App{{AppID: 1, Name: "A"}, {AppID: 2, Name: "B"}}, apps)
	assert.Equal(t, []string{"", "1"}, cursors)
}

func TestAppListFailsAtomically(t *testing.T) {
	requests := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprint(w, `{"response": {"apps": [{"appid": 1, "name": "A"}], "have_more_results": true, "last_appid": 1}}`)
			return
		}
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))

	_, err := client.AppList(context.Background(), "testkey")
	assert.ErrorContains(t, err, "429")
}

func TestLoginAutoModeSessionExpired(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusFound)
	}))

	err := client.Login(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSessionExpired)
}
