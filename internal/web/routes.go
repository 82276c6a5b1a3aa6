package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/memento/internal/consent"
	"github.com/kozaktomas/memento/internal/web/handlers"
	"github.com/kozaktomas/memento/internal/web/middleware"
)

func (s *Server) setupRoutes(auth *middleware.Authenticator) {
	d := s.deps
	maxImage := s.config.Recognition.MaxImageBytes

	profilesHandler := handlers.NewProfilesHandler(d.Store, d.Store, d.Store, d.Gate, d.Faces, d.Photos, d.Summaries, maxImage, s.config.PhotoStore.MaxSize)
	eventsHandler := handlers.NewEventsHandler(d.Store, d.Store, d.Store, d.Store, d.Gate)
	membershipsHandler := handlers.NewMembershipsHandler(d.Store, d.Store, d.Faces)
	consentsHandler := handlers.NewConsentsHandler(d.Store, d.Store, consent.NewRecorder(d.Store))
	facesHandler := handlers.NewFacesHandler(d.Faces, d.Matcher)
	recognitionHandler := handlers.NewRecognitionHandler(d.Recognizer, maxImage)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(auth))

		// Profiles
		r.Get("/profiles/me", profilesHandler.Me)
		r.Put("/profiles/me", profilesHandler.Update)
		r.Delete("/profiles/me", profilesHandler.Delete)
		r.Get("/profiles/me/completion", profilesHandler.Completion)
		r.Put("/profiles/me/photo", profilesHandler.UploadPhoto)
		r.Get("/profiles/{user_id}", profilesHandler.Get)

		// Events
		r.Get("/events", eventsHandler.List)
		r.Post("/events", eventsHandler.Create)
		r.Get("/events/{id}", eventsHandler.Get)
		r.Patch("/events/{id}", eventsHandler.Update)
		r.Delete("/events/{id}", eventsHandler.Deactivate)
		r.Get("/events/{id}/directory", eventsHandler.Directory)

		// Memberships
		r.Get("/memberships", membershipsHandler.ListMine)
		r.Post("/memberships/join", membershipsHandler.Join)
		r.Get("/events/{id}/members", membershipsHandler.ListMembers)
		r.Post("/events/{id}/members", membershipsHandler.AddMember)
		r.Get("/events/{id}/members/me", membershipsHandler.Me)
		r.Delete("/events/{id}/members/me", membershipsHandler.Leave)
		r.Post("/events/{id}/check-in", membershipsHandler.CheckIn)

		// Consent
		r.Get("/consents", consentsHandler.List)
		r.Get("/events/{id}/consent", consentsHandler.Get)
		r.Patch("/events/{id}/consent", consentsHandler.Update)
		r.Post("/events/{id}/consent/grant-all", consentsHandler.GrantAll)
		r.Post("/events/{id}/consent/revoke-all", consentsHandler.RevokeAll)

		// Faces
		r.Post("/events/{id}/faces/me", facesHandler.EnrollMe)
		r.Delete("/events/{id}/faces/me", facesHandler.DeleteMe)

		// Recognition
		r.Post("/recognize", recognitionHandler.Recognize)
	})
}
