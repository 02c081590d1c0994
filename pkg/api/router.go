package api

import (
	"github.com/gorilla/mux"

	"github.com/gruntyhq/grunty/pkg/auth"
	"github.com/gruntyhq/grunty/pkg/proxy"
)

// RouterConfig bundles everything the router wires together
type RouterConfig struct {
	Base        *Handler
	Auth        *AuthHandler
	Chats       *ChatHandler
	Files       *FileHandler
	Apps        *AppHandler
	Sandboxes   *SandboxHandler
	Users       *UserHandler
	AuthService *auth.Service
	Proxy       *proxy.Proxy
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *RouterConfig) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", cfg.Base.HealthCheck).Methods("GET")
	api.HandleFunc("/auth/register", cfg.Auth.Register).Methods("POST")
	api.HandleFunc("/auth/login", cfg.Auth.Login).Methods("POST")

	// Everything below requires a valid token
	protected := api.NewRoute().Subrouter()
	protected.Use(cfg.AuthService.Middleware)

	protected.HandleFunc("/auth/logout", cfg.Auth.Logout).Methods("POST")
	protected.HandleFunc("/auth/me", cfg.Auth.GetMe).Methods("GET")
	protected.HandleFunc("/users/me/usage", cfg.Users.GetUsage).Methods("GET")

	// Conversations
	protected.HandleFunc("/conversations", cfg.Chats.CreateChat).Methods("POST")
	protected.HandleFunc("/conversations", cfg.Chats.ListChats).Methods("GET")
	protected.HandleFunc("/conversations/{id}", cfg.Chats.GetChat).Methods("GET")
	protected.HandleFunc("/conversations/{id}", cfg.Chats.UpdateChat).Methods("PATCH")
	protected.HandleFunc("/conversations/{id}", cfg.Chats.DeleteChat).Methods("DELETE")
	protected.HandleFunc("/conversations/{id}/messages", cfg.Chats.ListMessages).Methods("GET")
	protected.HandleFunc("/conversations/{id}/title", cfg.Chats.GenerateTitle).Methods("POST")
	protected.HandleFunc("/conversations/{id}/stream", cfg.Chats.Stream).Methods("POST")
	protected.HandleFunc("/conversations/{id}/files", cfg.Files.AssociateFile).Methods("POST")
	protected.HandleFunc("/conversations/{id}/files", cfg.Files.ListChatFiles).Methods("GET")

	// Files
	protected.HandleFunc("/files", cfg.Files.Upload).Methods("POST")
	protected.HandleFunc("/files", cfg.Files.ListFiles).Methods("GET")
	protected.HandleFunc("/files/{id}", cfg.Files.GetFile).Methods("GET")
	protected.HandleFunc("/files/{id}", cfg.Files.DeleteFile).Methods("DELETE")
	protected.HandleFunc("/files/{id}/url", cfg.Files.DownloadURL).Methods("GET")

	// Apps and versions
	protected.HandleFunc("/apps", cfg.Apps.CreateApp).Methods("POST")
	protected.HandleFunc("/apps", cfg.Apps.ListApps).Methods("GET")
	protected.HandleFunc("/apps/{id}", cfg.Apps.GetApp).Methods("GET")
	protected.HandleFunc("/apps/{id}", cfg.Apps.DeleteApp).Methods("DELETE")
	protected.HandleFunc("/apps/{id}/versions", cfg.Apps.CreateVersion).Methods("POST")
	protected.HandleFunc("/apps/{id}/versions", cfg.Apps.ListVersions).Methods("GET")
	protected.HandleFunc("/apps/{id}/versions/{number}", cfg.Apps.GetVersion).Methods("GET")
	protected.HandleFunc("/apps/{id}/versions/{number}/screenshot", cfg.Apps.UploadScreenshot).Methods("PUT")
	protected.HandleFunc("/apps/{id}/versions/{number}/screenshot", cfg.Apps.ScreenshotURL).Methods("GET")
	protected.HandleFunc("/apps/{id}/current-version", cfg.Apps.SwitchVersion).Methods("PUT")

	// Sandboxes
	protected.HandleFunc("/sandboxes", cfg.Sandboxes.Create).Methods("POST")
	protected.HandleFunc("/sandboxes/{id}", cfg.Sandboxes.Get).Methods("GET")
	protected.HandleFunc("/sandboxes/{id}", cfg.Sandboxes.Kill).Methods("DELETE")
	protected.HandleFunc("/sandboxes/{id}/execute", cfg.Sandboxes.Execute).Methods("POST")
	protected.HandleFunc("/sandboxes/{id}/keep-alive", cfg.Sandboxes.KeepAlive).Methods("POST")
	protected.HandleFunc("/sandboxes/{id}/logs", cfg.Sandboxes.Logs).Methods("GET")
	protected.HandleFunc("/sandboxes/{id}/attach", cfg.Sandboxes.AttachLogStream(cfg.Proxy)).Methods("GET")

	return r
}
