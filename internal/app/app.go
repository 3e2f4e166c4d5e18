// Package app is a small application behind the pipeline. It stands in for
// the real account and profile services: enough to exercise every stage of
// the pipeline end to end.
package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/reqguard/reqguard/guardlib"
	"golang.org/x/crypto/bcrypt"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
)

// Recorder receives authentication decisions.
type Recorder interface {
	RecordAuth(r *http.Request, action string, success bool, reason string)
}

type user struct {
	passwordHash []byte
	Email        string `json:"email"`
	Name         string `json:"name"`
	Bio          string `json:"bio"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name *string `json:"name"`
	Bio  *string `json:"bio"`
}

// App keeps accounts in memory. Signed in sessions are mapped to emails.
type App struct {
	recorder   Recorder
	tokens     http.Handler
	bcryptCost int

	mutex    sync.RWMutex
	users    map[string]*user
	sessions map[string]string
}

// Router returns application routes. Unknown routes get NotFoundHandler,
// the same response as threats.
func (a *App) Router() http.Handler {
	router := chi.NewRouter()

	router.NotFound(NotFoundHandler().ServeHTTP)
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/csrf-token", a.tokens)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", a.signup)
		r.Post("/signin", a.signin)
		r.Post("/signout", a.signout)
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/profile", a.getProfile)
		r.Put("/profile", a.putProfile)
	})

	return router
}

func (a *App) signup(w http.ResponseWriter, r *http.Request) {
	req := signupRequest{}
	if !decode(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Email == "" || len(req.Password) < 8 { //nolint: gomnd
		a.recorder.RecordAuth(r, "signup", false, "incomplete signup form")
		writeError(w, http.StatusUnprocessableEntity, "email and password of at least 8 characters are required")

		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.bcryptCost)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "password cannot be used")

		return
	}

	if err := a.addUser(&user{passwordHash: hash, Email: req.Email, Name: req.Name}); err != nil {
		a.recorder.RecordAuth(r, "signup", false, err.Error())
		writeError(w, http.StatusConflict, err.Error())

		return
	}

	a.recorder.RecordAuth(r, "signup", true, "")
	writeJSON(w, http.StatusCreated, map[string]string{"email": req.Email})
}

func (a *App) signin(w http.ResponseWriter, r *http.Request) {
	req := signinRequest{}
	if !decode(w, r, &req) {
		return
	}

	sessionID := sessionOf(r)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := a.authenticate(sessionID, email, req.Password); err != nil {
		a.recorder.RecordAuth(r, "signin", false, err.Error())
		writeError(w, http.StatusUnauthorized, err.Error())

		return
	}

	a.recorder.RecordAuth(r, "signin", true, "")
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (a *App) signout(w http.ResponseWriter, r *http.Request) {
	a.mutex.Lock()
	delete(a.sessions, sessionOf(r))
	a.mutex.Unlock()

	a.recorder.RecordAuth(r, "signout", true, "")
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getProfile(w http.ResponseWriter, r *http.Request) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	u, ok := a.userOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not signed in")

		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (a *App) putProfile(w http.ResponseWriter, r *http.Request) {
	req := profileRequest{}
	if !decode(w, r, &req) {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	u, ok := a.userOf(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not signed in")

		return
	}

	if req.Name != nil {
		u.Name = *req.Name
	}

	if req.Bio != nil {
		u.Bio = *req.Bio
	}

	writeJSON(w, http.StatusOK, u)
}

func (a *App) addUser(u *user) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, ok := a.users[u.Email]; ok {
		return errUserExists
	}

	a.users[u.Email] = u

	return nil
}

func (a *App) authenticate(sessionID, email, password string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	u, ok := a.users[email]
	if !ok || sessionID == "" {
		return errInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return errInvalidCredentials
	}

	a.sessions[sessionID] = email

	return nil
}

// userOf has to be called under the mutex.
func (a *App) userOf(r *http.Request) (*user, bool) {
	email, ok := a.sessions[sessionOf(r)]
	if !ok {
		return nil, false
	}

	u, ok := a.users[email]

	return u, ok
}

func sessionOf(r *http.Request) string {
	if info, ok := guardlib.InfoFromContext(r.Context()); ok {
		return info.SessionID
	}

	return ""
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, ok := guardlib.BodyFromContext(r.Context())
	if !ok || body.Kind != guardlib.BodyJSON {
		writeError(w, http.StatusUnsupportedMediaType, "json body is expected")

		return false
	}

	if err := body.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "unexpected json document")

		return false
	}

	return true
}

// NotFoundHandler responds to unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(v) //nolint: errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// New creates an application. tokens is a handler which issues
// anti-forgery tokens.
func New(recorder Recorder, tokens http.Handler, bcryptCost int) *App {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}

	return &App{
		recorder:   recorder,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		users:      map[string]*user{},
		sessions:   map[string]string{},
	}
}
