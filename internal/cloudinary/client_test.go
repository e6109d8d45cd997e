package cloudinary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "1234", "abcd", "")
	sig := c.sign(map[string]string{
		"public_id": "sample_image",
		"timestamp": "1315060510",
		"eager":     "w_400,h_300,c_pad|w_260,h_200,c_crop",
		"api_key":   "1234",
		"folder":    "",
	})
	assert.Equal(t, "bfd09f95f331f558cbd1320e67aa8d488770583e", sig)
}

func TestUploadPNG(t *testing.T) {
	var form map[string]string
	resp := `{"public_id":"qr/att-1","secure_url":"https://res.example/qr/att-1.png","url":"http://res.example/qr/att-1.png"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		_, _ = w.Write([]byte(resp))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "qr")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	url, err := c.UploadPNG(context.Background(), []byte("png"), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/qr/att-1.png", url)
	assert.Equal(t, "att-1", form["public_id"])
	assert.Equal(t, "qr", form["folder"])
	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "1772442000", form["timestamp"])
	assert.Equal(t, "fe170577762deba5d382992825e7494a1fdc55b1", form["signature"])

	resp = `{"public_id":"qr/att-1","url":"http://res.example/qr/att-1.png"}`
	url, err = c.UploadPNG(context.Background(), []byte("png"), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "http://res.example/qr/att-1.png", url)
}

func TestUploadPNGRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.UploadPNG(context.Background(), []byte("png"), "att-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
