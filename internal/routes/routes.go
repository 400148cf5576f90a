package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"medical-center-server/internal/archive"
	"medical-center-server/internal/config"
	"medical-center-server/internal/documents"
	"medical-center-server/internal/events"
	"medical-center-server/internal/handlers"
	"medical-center-server/internal/middleware"
	"medical-center-server/internal/models"
	"medical-center-server/internal/reports"
	"medical-center-server/internal/workflow"
)

// Dependencies are the shared services the handlers are built from.
type Dependencies struct {
	DB        *gorm.DB
	Cfg       *config.Config
	Logger    zerolog.Logger
	Fields    handlers.Fields
	Reader    workflow.Reader
	Documents *documents.Service
	Archiver  archive.Archiver
	Reports   *reports.Service
	Events    events.Publisher
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, d Dependencies) {
	authHandler := handlers.NewAuthHandler(d.DB, d.Cfg, d.Logger)
	userHandler := handlers.NewUserHandler(d.DB, d.Logger)
	centerHandler := handlers.NewCenterHandler(d.DB)
	visitHandler := handlers.NewVisitHandler(d.DB, d.Fields, d.Reader, d.Archiver, d.Events, d.Logger)
	nurseHandler := handlers.NewNurseHandler(d.DB, d.Fields, d.Reader, d.Events, d.Logger)
	doctorHandler := handlers.NewDoctorHandler(d.DB, d.Fields, d.Events, d.Logger)
	pharmacyHandler := handlers.NewPharmacyHandler(d.DB, d.Fields, d.Events, d.Logger)
	documentHandler := handlers.NewDocumentHandler(d.DB, d.Documents, d.Logger)
	reportHandler := handlers.NewReportHandler(d.Reports, d.Logger)
	importHandler := handlers.NewImportHandler(d.DB, d.Fields, d.Logger)

	role := middleware.RoleAuthMiddleware
	uploadLimit := middleware.UploadLimit(d.Documents.MaxBytes())

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/refresh-token", authHandler.RefreshToken)
	}

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(d.Cfg, d.DB))
	{
		authRoutesPrivate := private.Group("/auth")
		authRoutesPrivate.POST("/logout", authHandler.Logout)
		authRoutesPrivate.GET("/profile", authHandler.GetProfile)
		authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)

		// Admin
		private.POST("/centers", role(models.RoleAdmin), centerHandler.CreateCenter)
		private.GET("/centers", role(models.RoleAdmin), centerHandler.ListCenters)
		private.POST("/import/patients", role(models.RoleAdmin), middleware.UploadLimit(handlers.MaxImportBytes), importHandler.ImportPatients)

		userRoutes := private.Group("/users")
		userRoutes.GET("/doctors", role(models.RoleWriter, models.RoleAdmin), userHandler.GetDoctors)
		adminUsers := userRoutes.Group("", role(models.RoleAdmin))
		adminUsers.POST("", userHandler.CreateUser)
		adminUsers.GET("", userHandler.GetUsers)
		adminUsers.PATCH("/:id/disable", userHandler.DisableUser)
		adminUsers.PATCH("/:id/enable", userHandler.EnableUser)

		// Writer
		private.GET("/patients/by-id/:idNumber", role(models.RoleWriter, models.RoleAdmin), visitHandler.FindPatient)
		private.POST("/visits", role(models.RoleWriter), visitHandler.RegisterVisit)
		private.GET("/visits/recent", role(models.RoleWriter, models.RoleAdmin), visitHandler.RecentVisits)
		private.DELETE("/visits/:id",
			role(models.RoleWriter, models.RoleNurse, models.RolePharmacist, models.RoleAdmin),
			visitHandler.DeleteVisit)
		private.GET("/visits/:id/stage", visitHandler.GetStage)

		// Nurse
		private.POST("/visits/:id/nurse", role(models.RoleNurse), nurseHandler.RecordVitals)
		nurseRoutes := private.Group("/nurse", role(models.RoleNurse))
		nurseRoutes.GET("/waiting-visits", nurseHandler.WaitingVisits)
		nurseRoutes.GET("/visit/:id/can-upload", nurseHandler.CanUpload)
		nurseRoutes.POST("/visit/:id/document", uploadLimit, documentHandler.Upload(workflow.NurseUpload))

		// Doctor
		doctorRoutes := private.Group("/doctor", role(models.RoleDoctor))
		doctorRoutes.GET("/waiting-visits", doctorHandler.WaitingVisits)
		doctorRoutes.POST("/visit/:id", doctorHandler.RecordDiagnosis)

		// Pharmacist
		private.GET("/medicines", role(models.RolePharmacist, models.RoleAdmin), pharmacyHandler.ListMedicines)
		private.POST("/medicines", role(models.RolePharmacist, models.RoleAdmin), pharmacyHandler.CreateMedicine)
		pharmacyRoutes := private.Group("/pharmacy", role(models.RolePharmacist))
		pharmacyRoutes.GET("/waiting-visits", pharmacyHandler.WaitingVisits)
		pharmacyRoutes.POST("/visit/:id", pharmacyHandler.Dispense)
		pharmacyRoutes.POST("/visit/:id/document", uploadLimit, documentHandler.Upload(workflow.PharmacistUpload))

		// Documents
		private.GET("/visits/:id/document/view", role(models.RoleAdmin, models.RolePharmacist), documentHandler.View)
		private.GET("/visits/:id/document/download", role(models.RoleAdmin), documentHandler.Download)

		// Reports
		adminReports := private.Group("", role(models.RoleAdmin))
		adminReports.GET("/statistics/initial", reportHandler.Statistics)
		adminReports.GET("/statistics/new-patients-monthly", reportHandler.NewPatientsMonthly)
		adminReports.GET("/visits/recent-admin", reportHandler.RecentVisits)
		adminReports.POST("/reports/custom", reportHandler.Custom)
		private.POST("/reports/medicines", role(models.RolePharmacist, models.RoleAdmin), reportHandler.Medicines)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
