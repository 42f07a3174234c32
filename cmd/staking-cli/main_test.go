package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadProfileDefaultsWhenMissing(t *testing.T) {
	profile, err := loadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, defaultEndpoint, profile.Endpoint)
	require.Equal(t, defaultTimeout, profile.Timeout.Duration)
	require.Equal(t, outputJSON, profile.Output)
}

func TestLoadProfileOverrides(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("abc.def.ghi\nignored\n"), 0o600))
	path := writeProfile(t, "endpoint: https://staking.example\noutput: yaml\ntimeout: 3s\ntoken_file: "+tokenFile+"\n")

	profile, err := loadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "https://staking.example", profile.Endpoint)
	require.Equal(t, outputYAML, profile.Output)
	require.Equal(t, 3*time.Second, profile.Timeout.Duration)
	// Unset keys keep their defaults.
	require.Equal(t, "stakingd", profile.Audience)

	token, err := profile.bearer()
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", token)
}

func TestLoadProfileRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"output":   "output: xml\n",
		"duration": "timeout: soon\n",
		"negative": "timeout: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadProfile(writeProfile(t, body)); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestRateRequestBody(t *testing.T) {
	from := uint64(120)
	body, err := rateRequestBody("", "8.64", &from)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ratePerDay": "8.64", "effectiveFrom": uint64(120)}, body)

	body, err = rateRequestBody("0.5", "", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"rate": "0.5"}, body)

	_, err = rateRequestBody("1", "1", nil)
	require.Error(t, err)
	_, err = rateRequestBody("", "", nil)
	require.Error(t, err)
	_, err = rateRequestBody("1.0000000000000000001", "", nil)
	require.Error(t, err)
}

type recordedRequest struct {
	method, path, auth, idempotency string
	body                            map[string]interface{}
}

func fakeDaemon(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method:      r.Method,
			path:        r.URL.RequestURI(),
			auth:        r.Header.Get("Authorization"),
			idempotency: r.Header.Get("Idempotency-Key"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		seen = append(seen, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClaimCommandSendsAuthenticatedMutation(t *testing.T) {
	srv, seen := fakeDaemon(t, http.StatusOK, `{"assetId":"bar-1","amount":"20"}`)
	profile := writeProfile(t, "token: secret-token\n")

	out, err := runCLI(t, "--profile", profile, "--endpoint", srv.URL, "-o", "yaml", "claim", "bar-1")
	require.NoError(t, err)
	require.Contains(t, out, "amount: \"20\"")

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/v1/positions/bar-1/claim", got.path)
	require.Equal(t, "Bearer secret-token", got.auth)
	require.NotEmpty(t, got.idempotency)
}

func TestSetRateCommandBody(t *testing.T) {
	srv, seen := fakeDaemon(t, http.StatusCreated, `{"rate":"1"}`)
	_, err := runCLI(t, "--profile", "", "--endpoint", srv.URL, "admin", "set-rate", "--per-day", "86400", "--effective-from", "60")
	require.NoError(t, err)
	require.Len(t, *seen, 1)
	require.Equal(t, "/v1/admin/rates", (*seen)[0].path)
	require.Equal(t, "86400", (*seen)[0].body["ratePerDay"])
	require.EqualValues(t, 60, (*seen)[0].body["effectiveFrom"])
}

func TestCommandSurfacesAPIError(t *testing.T) {
	srv, _ := fakeDaemon(t, http.StatusForbidden, `{"code":"not_owner","message":"staking: caller is not the owner"}`)
	_, err := runCLI(t, "--profile", "", "--endpoint", srv.URL, "unstake", "bar-1")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "not_owner", apiErr.Code)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestReceiptsExportWritesFile(t *testing.T) {
	srv, seen := fakeDaemon(t, http.StatusOK, "id,kind\n")
	dest := filepath.Join(t.TempDir(), "receipts.csv")
	_, err := runCLI(t, "--profile", "", "--endpoint", srv.URL, "receipts", "export", "--kind", "claim", "--out", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "id,kind\n", string(data))
	require.True(t, strings.HasPrefix((*seen)[0].path, "/v1/receipts/export?"))
	require.Contains(t, (*seen)[0].path, "format=csv")
	require.Contains(t, (*seen)[0].path, "kind=claim")
	require.Empty(t, (*seen)[0].idempotency)
}
