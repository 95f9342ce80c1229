package api

import "net/http"

// InfoHandler reports the server build version in the envelope admin
// clients expect.
type InfoHandler struct {
	version string
}

func NewInfoHandler(version string) *InfoHandler {
	return &InfoHandler{version: version}
}

func (h *InfoHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"was": map[string]string{"version": h.version},
	})
}
