package rates

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "Server is up!")
	})
	r.Post("/upload", h.UploadHandler)
	r.Get("/rates", h.RatesHandler)
	r.Get("/api/rates", h.RatesHandler)
	r.Get("/verify", h.VerifyHandler)

	return r
}
