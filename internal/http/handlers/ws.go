package handlers

import "net/http"

// Socket upgrades the request and attaches the connection to the push
// hub. Progress and terminal events for the caller's generations arrive
// here.
func (a *App) Socket(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.Hub.HandleConnection(w, r, userID)
}
