package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/app"
	iauth "github.com/fieldsafe/fieldsafe/internal/auth"
	"github.com/fieldsafe/fieldsafe/internal/handlers"
	"github.com/fieldsafe/fieldsafe/internal/middleware"
	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/mail"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	activitySvc, err := services.NewActivityService(db)
	if err != nil {
		return nil, err
	}
	userSvc, err := services.NewUserService(db, activitySvc,
		services.WithBootstrapAdminEmail(cfg.Directory.BootstrapAdminEmail),
	)
	if err != nil {
		return nil, err
	}
	orgSvc, err := services.NewOrganizationService(db, activitySvc)
	if err != nil {
		return nil, err
	}

	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		mailer = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	}
	inviteSvc, err := services.NewInviteService(db, activitySvc, mailer,
		services.WithInviteBaseURL(cfg.Server.BaseURL),
		services.WithInviteExpiry(cfg.Invitations.Expiry),
		services.WithInviteTokenSize(cfg.Invitations.TokenLength),
	)
	if err != nil {
		return nil, err
	}
	inspectionSvc, err := services.NewInspectionService(db, activitySvc)
	if err != nil {
		return nil, err
	}
	templateSvc, err := services.NewTemplateService(db, activitySvc)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(userSvc, jwt)
	profileHandler := handlers.NewProfileHandler(userSvc)
	orgHandler := handlers.NewOrganizationHandler(orgSvc)
	userHandler := handlers.NewUserHandler(userSvc)
	inviteHandler := handlers.NewInviteHandler(inviteSvc, userSvc, jwt)
	inspectionHandler := handlers.NewInspectionHandler(inspectionSvc)
	templateHandler := handlers.NewTemplateHandler(templateSvc)
	activityHandler := handlers.NewActivityHandler(activitySvc)

	// Public routes: login plus the invitation acceptance flow.
	public := r.Group("/api")
	{
		public.POST("/auth/login", authHandler.Login)
		public.GET("/invites/details", inviteHandler.Details)
		public.POST("/invites/accept", inviteHandler.Accept)
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))
	api.Use(middleware.CurrentUser(userSvc))

	api.GET("/users/me", profileHandler.Me)
	api.PATCH("/users/me", profileHandler.UpdateMe)

	orgs := api.Group("/organizations")
	{
		orgs.GET("", orgHandler.List)
		orgs.POST("", orgHandler.Create)
		orgs.GET("/:id", orgHandler.Get)
		orgs.PATCH("/:id", orgHandler.Update)
		orgs.PATCH("/:id/active", orgHandler.SetActive)
	}

	users := api.Group("/users")
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.PATCH("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Deactivate)
	}

	invites := api.Group("/invites")
	{
		invites.GET("", inviteHandler.List)
		invites.POST("", inviteHandler.Create)
		invites.DELETE("/:id", inviteHandler.Revoke)
	}

	inspections := api.Group("/inspections")
	{
		inspections.GET("", inspectionHandler.List)
		inspections.POST("", inspectionHandler.Create)
		inspections.GET("/:id", inspectionHandler.Get)
		inspections.PATCH("/:id/status", inspectionHandler.UpdateStatus)
		inspections.POST("/:id/collaborators", inspectionHandler.AddCollaborator)
		inspections.DELETE("/:id/collaborators/:userID", inspectionHandler.RemoveCollaborator)
		inspections.POST("/:id/action-items", inspectionHandler.CreateActionItem)
	}

	actionItems := api.Group("/action-items")
	{
		actionItems.GET("", inspectionHandler.ListActionItems)
		actionItems.POST("/:id/resolve", inspectionHandler.ResolveActionItem)
	}

	templates := api.Group("/templates")
	{
		templates.GET("", templateHandler.List)
		templates.POST("", templateHandler.Create)
		templates.GET("/:id", templateHandler.Get)
		templates.DELETE("/:id", templateHandler.Delete)
	}

	api.GET("/activity", activityHandler.List)

	return r, nil
}
