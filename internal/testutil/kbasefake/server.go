// Package kbasefake runs an in-process stand-in for the platform services
// (JSON-RPC endpoints, auth REST API, and LLM-provider probes) for tests.
package kbasefake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

// Auth server application codes.
const (
	AppCodeInvalidToken = 10020
	AppCodeInvalidUser  = 30010
)

// HandlerFunc answers one JSON-RPC method. The returned value is wrapped in
// the result array. Returning a *service.ServerError produces a 500 response.
type HandlerFunc func(params []json.RawMessage) (any, error)

// Call is one recorded JSON-RPC request.
type Call struct {
	Path   string
	Method string
	Params []json.RawMessage
	Auth   string
}

type user struct {
	name    string
	display string
}

// Server is a fake platform.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	methods  map[string]HandlerFunc
	calls    []Call
	tokens   map[string]user
	keys     map[string]string
	restHits map[string]int
	modules  map[string]bool
}

// New starts a Server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		methods:  map[string]HandlerFunc{},
		tokens:   map[string]user{},
		keys:     map[string]string{},
		restHits: map[string]int{},
		modules:  map[string]bool{},
	}
	s.methods[service.ServiceStatusMethod] = s.serviceStatus

	r := chi.NewRouter()
	for _, path := range []string{
		platform.DefaultEE2Path,
		platform.DefaultNMSPath,
		platform.DefaultWorkspacePath,
		platform.DefaultSearchPath,
		platform.DefaultServiceWizardPath,
		"/dynamic/{module}",
	} {
		r.Post(path, s.serveRPC)
	}
	r.Get(platform.DefaultAuthPath+"/api/V2/token", s.serveToken)
	r.Get(platform.DefaultAuthPath+"/api/V2/users", s.serveUsers)
	r.Get(platform.DefaultAuthPath+"/api/V2/users/", s.serveUsers)
	r.Get("/openai/v1/models", s.serveOpenAI)
	r.Get("/cborg/user/info", s.serveCBORG)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Settings returns platform settings pointing every service at this server.
func (s *Server) Settings() platform.Settings {
	st := platform.Default()
	st.BaseURL = s.URL
	return st
}

// OpenAIURL is the base URL of the fake OpenAI-compatible API.
func (s *Server) OpenAIURL() string { return s.URL + "/openai" }

// CBORGURL is the base URL of the fake CBORG API.
func (s *Server) CBORGURL() string { return s.URL + "/cborg" }

// Handle registers fn for a fully qualified JSON-RPC method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = fn
}

// DynamicURL is the endpoint the registry reports for module.
func (s *Server) DynamicURL(module string) string { return s.URL + "/dynamic/" + module }

// AddModule registers module with the fake ServiceWizard. Calls to the
// resolved endpoint are routed through Handle like any other method.
func (s *Server) AddModule(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[module] = true
}

type serviceStatusParams struct {
	ModuleName string `json:"module_name"`
	Version    string `json:"version"`
}

func (s *Server) serviceStatus(params []json.RawMessage) (any, error) {
	var p serviceStatusParams
	if len(params) > 0 {
		if err := json.Unmarshal(params[0], &p); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	known := s.modules[p.ModuleName]
	s.mu.Unlock()
	if !known {
		return nil, &service.ServerError{
			Name:    "JSONRPCError",
			Code:    -32000,
			Message: "No module named " + p.ModuleName + " is registered",
		}
	}
	return map[string]any{
		"module_name": p.ModuleName,
		"version":     p.Version,
		"status":      "active",
		"up":          1,
		"url":         s.DynamicURL(p.ModuleName),
	}, nil
}

// AddUser makes token resolve to name with the given display name.
func (s *Server) AddUser(token, name, display string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = user{name: name, display: display}
}

// AddAPIKey accepts key for provider ("openai" or "cborg").
func (s *Server) AddAPIKey(provider, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[provider] = key
}

// Calls returns the recorded calls of method.
func (s *Server) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// RESTHits returns how many times a REST route was requested.
func (s *Server) RESTHits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restHits[route]
}

type rpcRequest struct {
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	Version string            `json:"version"`
	ID      string            `json:"id"`
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request"})
		return
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Path: r.URL.Path, Method: req.Method, Params: req.Params, Auth: r.Header.Get("Authorization")})
	fn := s.methods[req.Method]
	s.mu.Unlock()

	if fn == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "1.1",
			"id":      req.ID,
			"error": map[string]any{
				"name":    "JSONRPCError",
				"code":    -32601,
				"message": "Method not found: " + req.Method,
			},
		})
		return
	}

	result, err := fn(req.Params)
	if err != nil {
		body := map[string]any{"name": "Server error", "code": -32000, "message": err.Error()}
		if se, ok := err.(*service.ServerError); ok {
			body = map[string]any{"name": se.Name, "code": se.Code, "message": se.Message, "error": se.Data}
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"version": "1.1", "id": req.ID, "error": body})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": "1.1", "id": req.ID, "result": []any{result}})
}

func (s *Server) lookupToken(r *http.Request, route string) (user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restHits[route]++
	u, ok := s.tokens[r.Header.Get("Authorization")]
	return u, ok
}

func authError(w http.ResponseWriter, status, appcode int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"httpcode": status,
			"appcode":  appcode,
			"apperror": "error",
			"message":  message,
		},
	})
}

func (s *Server) serveToken(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupToken(r, "token")
	if !ok {
		authError(w, http.StatusUnauthorized, AppCodeInvalidToken, "10020 Invalid token: Invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":    "Login",
		"id":      "tokenid",
		"expires": 0,
		"created": 0,
		"name":    nil,
		"user":    u.name,
	})
}

func (s *Server) serveUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupToken(r, "users"); !ok {
		authError(w, http.StatusUnauthorized, AppCodeInvalidToken, "10020 Invalid token: Invalid token")
		return
	}

	s.mu.Lock()
	byName := map[string]string{}
	for _, u := range s.tokens {
		byName[u.name] = u.display
	}
	s.mu.Unlock()

	out := map[string]string{}
	for _, name := range strings.Split(r.URL.Query().Get("list"), ",") {
		if name == "" {
			continue
		}
		display, ok := byName[name]
		if !ok {
			authError(w, http.StatusBadRequest, AppCodeInvalidUser, "30010 Illegal user name: Illegal user name ["+name+"]")
			return
		}
		if display != "" {
			out[name] = display
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) providerKeyOK(r *http.Request, provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restHits[provider]++
	want, ok := s.keys[provider]
	return ok && r.Header.Get("Authorization") == "Bearer "+want
}

func (s *Server) serveOpenAI(w http.ResponseWriter, r *http.Request) {
	if !s.providerKeyOK(r, "openai") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{
				"message": "Incorrect API key provided.",
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": []any{map[string]any{"id": "gpt-4o"}}})
}

func (s *Server) serveCBORG(w http.ResponseWriter, r *http.Request) {
	if !s.providerKeyOK(r, "cborg") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication Error, Invalid proxy server token passed."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": "sk-...", "user_id": "someone"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
