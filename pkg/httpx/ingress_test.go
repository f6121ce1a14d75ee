package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"":                "/",
		"/":               "/",
		"//webhook//pix/": "/webhook/pix",
		"/webhooks/pix":   "/webhooks/pix",
		"webhooks/pix":    "/webhooks/pix",
		"/api/orders/1/":  "/api/orders/1",
		"///":             "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPath(in), in)
	}
}

func TestCanonicalizeBeforeRouting(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Canonicalize(map[string]string{"/webhook/pix": "/webhooks/pix", "/webhooks/pix/pix": "/webhooks/pix"}))
	hits := 0
	r.Post("/webhooks/pix", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	for _, p := range []string{"/webhooks/pix", "//webhook/pix", "/webhook/pix/", "/webhooks/pix/pix", "/webhooks//pix"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, p, nil))
		assert.Equal(t, http.StatusOK, rec.Code, p)
	}
	assert.Equal(t, 5, hits)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
