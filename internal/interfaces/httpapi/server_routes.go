package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerPublicRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /api/upcoming", handler.ListUpcomingMatches)
	mux.HandleFunc("GET /api/champions", handler.ListChampions)
	mux.HandleFunc("GET /api/champions/{tokenID}", handler.GetChampion)
	mux.HandleFunc("GET /api/champions/{tokenID}/form", handler.GetChampionForm)
	mux.HandleFunc("POST /api/champions/history", handler.EvaluateHistory)
	mux.HandleFunc("GET /api/class-changes", handler.ListClassChanges)
}

func registerInternalRoutes(mux *http.ServeMux, handler *Handler, internalToken string) {
	mux.Handle("POST /api/internal/refresh", RequireInternalToken(internalToken, http.HandlerFunc(handler.RefreshFeed)))
}
