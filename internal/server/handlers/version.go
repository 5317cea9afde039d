package handlers

import (
	"net/http"
	"runtime"

	apperrors "github.com/3leaps/kbagent/internal/errors"
)

// VersionInfo is the body of /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves info. An empty GoVersion is filled from the runtime.
func VersionHandler(info VersionInfo) http.HandlerFunc {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		apperrors.WriteJSON(w, http.StatusOK, info)
	}
}
