package version

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"v1.10.0"}`)
	}))
	defer srv.Close()

	cases := []struct {
		current string
		want    string
		ok      bool
	}{
		{current: "1.9.3", want: "1.10.0", ok: true},
		{current: "v1.10.0", ok: false},
		{current: "2.0.0", ok: false},
		{current: "0.0.0-dev", ok: false},
		{current: "1.9.0-dirty", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.current, func(t *testing.T) {
			got, ok := latestRelease(srv.Client(), srv.URL, tc.current)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLatestReleaseIgnoresBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, ok := latestRelease(srv.Client(), srv.URL, "1.0.0")
	assert.False(t, ok)
}

func TestFormatVersion(t *testing.T) {
	oldVersion, oldCommit, oldBuild := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldBuild }()

	Version, Commit, BuildTime = "1.2.3", "", ""
	assert.Equal(t, "1.2.3 (development)", FormatVersion())

	Version, Commit, BuildTime = "1.2.3", "abc1234", "2025-10-23T10:20:30Z"
	assert.Equal(t, "1.2.3 (commit: abc1234, built at: 2025-10-23T10:20:30Z)", FormatVersion())

	Commit, BuildTime = "abc1234", ""
	assert.Equal(t, "1.2.3 (commit: abc1234)", FormatVersion())
}
