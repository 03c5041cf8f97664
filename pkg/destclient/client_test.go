package destclient

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cli/go-gh/v2/pkg/api"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
)

func TestLastPageFromLink(t *testing.T) {
	tests := []struct {
		name     string
		link     string
		expected int
	}{
		{
			name:     "typical link header",
			link:     `<https://api.github.com/repos/acme/widget/issues?per_page=1&page=2>; rel="next", <https://api.github.com/repos/acme/widget/issues?per_page=1&page=347>; rel="last"`,
			expected: 347,
		},
		{
			name:     "no last rel",
			link:     `<https://api.github.com/repos/acme/widget/issues?page=2>; rel="next"`,
			expected: 1,
		},
		{
			name:     "empty header",
			link:     "",
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, lastPageFromLink(tt.link))
		})
	}
}

func TestSealSecretRoundTrip(t *testing.T) {
	recipientPub, recipientPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pk := publicKey{
		KeyID: "key-1",
		Key:   base64.StdEncoding.EncodeToString(recipientPub[:]),
	}

	sealed, err := sealSecret("hunter2", pk)
	require.NoError(t, err)

	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, recipientPub, recipientPriv)
	require.True(t, ok, "sealed box must open with the recipient key pair")
	require.Equal(t, "hunter2", string(plaintext))
}

func TestSealSecretRejectsBadKey(t *testing.T) {
	_, err := sealSecret("value", publicKey{Key: "not-base64!!"})
	require.Error(t, err)

	_, err = sealSecret("value", publicKey{Key: base64.StdEncoding.EncodeToString([]byte("short"))})
	require.Error(t, err)
	require.Equal(t, forgeerr.CategoryValidation, forgeerr.CategoryOf(err))
}

func TestClassifyError(t *testing.T) {
	httpErr := &api.HTTPError{StatusCode: http.StatusNotFound, Message: "Not Found"}
	err := classifyError(httpErr, "GET repos/acme/widget")
	require.Equal(t, forgeerr.CategoryNotFound, forgeerr.CategoryOf(err))

	rlHeaders := http.Header{}
	rlHeaders.Set("Retry-After", "2")
	rlErr := &api.HTTPError{StatusCode: http.StatusTooManyRequests, Message: "rate limited", Headers: rlHeaders}
	err = classifyError(rlErr, "POST repos/acme/widget/issues")
	require.Equal(t, forgeerr.CategoryRateLimit, forgeerr.CategoryOf(err))
	require.Equal(t, 2*time.Second, forgeerr.RetryAfterOf(err))

	err = classifyError(errors.New("dial tcp: connection refused"), "GET repos")
	require.Equal(t, forgeerr.CategoryNetwork, forgeerr.CategoryOf(err))
}

func TestDecodeContent(t *testing.T) {
	decoded, err := decodeContent(base64.StdEncoding.EncodeToString([]byte("hello\nworld")), "base64")
	require.NoError(t, err)
	require.Equal(t, "hello\nworld", string(decoded))

	plain, err := decodeContent("as-is", "")
	require.NoError(t, err)
	require.Equal(t, "as-is", string(plain))
}
