package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func routeVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
