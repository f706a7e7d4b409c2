package book

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"drops fragment", "https://example.com/a#frag", "https://example.com/a"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("http://exa mple.com/%zz")
	require.Error(t, err)
}

func TestResolveRef(t *testing.T) {
	t.Parallel()

	got, err := ResolveRef("https://example.com/book/index.html", "ch2.html")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/book/ch2.html", got)

	got, err = ResolveRef("https://example.com/book/", "/other/ch3.html")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/other/ch3.html", got)

	got, err = ResolveRef("https://example.com/book/", "https://mirror.net/ch4")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.net/ch4", got)
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://Example.com/x"))
	require.Equal(t, "unknown", Host("not a url"))
}
