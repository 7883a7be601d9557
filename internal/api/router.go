package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"recordstore.service/internal/api/handler"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(recordHandler *handler.RecordHandler) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/records", recordHandler.ListRecords).Methods(http.MethodGet)
	api.HandleFunc("/records", recordHandler.CreateRecord).Methods(http.MethodPost)
	api.HandleFunc("/records/refresh", recordHandler.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/records/{id}", recordHandler.UpdateRecord).Methods(http.MethodPatch)
	api.HandleFunc("/records/{id}", recordHandler.DeleteRecord).Methods(http.MethodDelete)
	api.HandleFunc("/records/{id}/photo", recordHandler.UploadPhoto).Methods(http.MethodPost)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
