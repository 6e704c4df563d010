package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestGetBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte{0xD0, 0xCF, 0x11, 0xE0})
	}))
	defer srv.Close()

	f := New(Options{UserAgent: "test-agent"})
	body, err := f.GetBytes(context.Background(), srv.URL+"/oil.xls")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0xCF, 0x11, 0xE0}, body)
}

func TestGetPage_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Options{})
	_, err := f.GetPage(context.Background(), srv.URL)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestGetPage_DecodesDeclaredCharset(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("<a>Бюллетень</a>")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		_, _ = w.Write([]byte(encoded))
	}))
	defer srv.Close()

	page, err := New(Options{}).GetPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<a>Бюллетень</a>", page)
}

func TestGetPage_UTF8Passthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = w.Write([]byte("<p>Дата торгов</p>"))
	}))
	defer srv.Close()

	page, err := New(Options{}).GetPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<p>Дата торгов</p>", page)
}

func TestGet_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{RateLimit: 5}).GetBytes(ctx, srv.URL)
	require.Error(t, err)
}

func TestDecodeCharset_UnknownCharset(t *testing.T) {
	out, err := decodeCharset([]byte("plain"), "text/html; charset=x-nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}
