package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	examHandler       *ExamHandler
	copyHandler       *CopyHandler
	leaseHandler      *LeaseHandler
	annotationHandler *AnnotationHandler
	draftHandler      *DraftHandler
	finalizeHandler   *FinalizeHandler
	auditHandler      *AuditHandler
}

func NewHandlerManager(serviceManager services.ServiceManager, logger utils.Logger) *HandlerManager {
	return &HandlerManager{
		examHandler:       NewExamHandler(serviceManager.Copy(), serviceManager.Dispatch(), logger),
		copyHandler:       NewCopyHandler(serviceManager.Copy(), logger),
		leaseHandler:      NewLeaseHandler(serviceManager.Lease(), logger),
		annotationHandler: NewAnnotationHandler(serviceManager.Annotation(), logger),
		draftHandler:      NewDraftHandler(serviceManager.Draft(), logger),
		finalizeHandler:   NewFinalizeHandler(serviceManager.Finalize(), logger),
		auditHandler:      NewAuditHandler(serviceManager.Audit(), logger),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", HealthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(RequestContextMiddleware())
	{
		exams := v1.Group("/exams")
		{
			exams.POST("", hm.examHandler.RegisterExam)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.GET("/:id/copies", hm.examHandler.ListCopies)
			exams.POST("/:id/dispatch", hm.examHandler.Dispatch)
		}

		v1.GET("/dispatch-runs/:id", hm.examHandler.GetDispatchRun)

		copies := v1.Group("/copies")
		{
			copies.POST("", hm.copyHandler.ImportCopy)
			copies.GET("/:id", hm.copyHandler.GetCopy)
			copies.DELETE("/:id", hm.copyHandler.DeleteCopy)
			copies.POST("/:id/booklets", hm.copyHandler.AttachBooklet)
			copies.POST("/:id/validate", hm.copyHandler.ValidateCopy)
			copies.PUT("/:id/student", hm.copyHandler.IdentifyStudent)
			copies.PUT("/:id/appreciation", hm.copyHandler.SetAppreciation)
			copies.DELETE("/:id/assignment", hm.copyHandler.ClearAssignment)

			// Lease
			copies.POST("/:id/lease", hm.leaseHandler.Acquire)
			copies.PUT("/:id/lease", hm.leaseHandler.Heartbeat)
			copies.DELETE("/:id/lease", hm.leaseHandler.Release)

			// Grading content
			copies.GET("/:id/annotations", hm.annotationHandler.ListAnnotations)
			copies.POST("/:id/annotations", hm.annotationHandler.CreateAnnotation)
			copies.GET("/:id/scores", hm.annotationHandler.ListScores)
			copies.PUT("/:id/scores", hm.annotationHandler.SetQuestionScore)
			copies.GET("/:id/remarks", hm.annotationHandler.ListRemarks)
			copies.PUT("/:id/remarks", hm.annotationHandler.SetQuestionRemark)
			copies.GET("/:id/score", hm.annotationHandler.ScoreSummary)

			copies.GET("/:id/draft", hm.draftHandler.GetDraft)
			copies.PUT("/:id/draft", hm.draftHandler.PutDraft)
			copies.DELETE("/:id/draft", hm.draftHandler.DeleteDraft)

			copies.POST("/:id/finalize", hm.finalizeHandler.Finalize)
			copies.POST("/:id/finalize-jobs", hm.finalizeHandler.SubmitFinalize)

			copies.GET("/:id/audit", hm.auditHandler.History)
			copies.GET("/:id/audit/verify", hm.auditHandler.VerifyChain)
		}

		annotations := v1.Group("/annotations")
		{
			annotations.PATCH("/:id", hm.annotationHandler.UpdateAnnotation)
			annotations.DELETE("/:id", hm.annotationHandler.DeleteAnnotation)
		}

		v1.GET("/finalize-jobs/:id", hm.finalizeHandler.JobStatus)

		audit := v1.Group("/audit")
		{
			audit.GET("", hm.auditHandler.Query)
			audit.GET("/export", hm.auditHandler.Export)
		}
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "copy-workflow-service",
	})
}
