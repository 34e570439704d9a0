package handlers

import (
	"log"
	"net/http"
)

// PingHandler answers readiness probes.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		log.Println(err)
	}
}
