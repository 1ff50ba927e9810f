package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"p9e.in/incubator/handlers"
	"p9e.in/incubator/middleware"
)

// Options tunes service-level wiring done at startup.
type Options struct {
	// QuickApproval sends every submission straight to 'submitted' instead of
	// 'pending_review'.
	QuickApproval bool
	// Broadcaster publishes realtime request events; nil disables publishing.
	Broadcaster handlers.Broadcaster
}

// RegisterRoutes wires the engines and sets up all application routes.
func RegisterRoutes(db *gorm.DB, opts Options) http.Handler {
	notifications := handlers.NewNotificationService(db)
	dispatcher := handlers.NewDispatcher(db, notifications, opts.Broadcaster)
	ledger := handlers.NewInventoryLedger(db)
	fulfillment := handlers.NewFulfillmentProcessor(db, ledger)
	engine := handlers.NewRequestEngine(db, fulfillment, dispatcher, opts.QuickApproval)
	chain := handlers.NewApprovalChain(db, engine, dispatcher)

	auth := handlers.NewAuthHandler(db)
	requests := handlers.NewMaterialRequestHandler(db, engine, chain)
	comments := handlers.NewCommentHandler(db)
	inventory := handlers.NewInventoryHandler(db, ledger)
	inbox := handlers.NewNotificationHandler(notifications)
	reports := handlers.NewReportExportHandler(db)

	r := mux.NewRouter()

	// =====================================================
	// Public Routes (no authentication)
	// =====================================================
	r.HandleFunc("/register", auth.Register).Methods("POST")
	r.HandleFunc("/login", auth.Login).Methods("POST")
	r.HandleFunc("/health", handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// =====================================================
	// Protected API Routes (require JWT authentication)
	// =====================================================
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.SecurityMiddleware)
	api.Use(middleware.JWTMiddleware)

	api.HandleFunc("/me", auth.GetCurrentUser).Methods("GET")
	api.HandleFunc("/users", auth.ListUsers).Methods("GET")

	// Material request lifecycle
	api.HandleFunc("/requests", requests.CreateRequest).Methods("POST")
	api.HandleFunc("/requests", requests.ListRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", requests.GetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/submit", requests.SubmitRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", requests.CancelRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/status", requests.UpdateStatus).Methods("PATCH")
	api.HandleFunc("/requests/{id}/delivery", requests.UpdateDelivery).Methods("PATCH")
	api.HandleFunc("/requests/{id}/history", requests.GetHistory).Methods("GET")

	// Approval chain
	api.HandleFunc("/requests/{id}/approvals/{level}/approve", requests.ApproveLevel).Methods("POST")
	api.HandleFunc("/requests/{id}/approvals/{level}/decline", requests.DeclineLevel).Methods("POST")
	api.HandleFunc("/requests/{id}/approvals/{level}/delegate", requests.DelegateLevel).Methods("POST")

	// Discussion thread
	api.HandleFunc("/requests/{id}/comments", comments.ListComments).Methods("GET")
	api.HandleFunc("/requests/{id}/comments", comments.CreateComment).Methods("POST")
	api.HandleFunc("/requests/{id}/comments/{commentId}", comments.UpdateComment).Methods("PATCH")
	api.HandleFunc("/requests/{id}/comments/{commentId}", comments.DeleteComment).Methods("DELETE")

	// Inventory catalog and ledger
	api.HandleFunc("/inventory", inventory.CreateItem).Methods("POST")
	api.HandleFunc("/inventory", inventory.ListItems).Methods("GET")
	api.HandleFunc("/inventory/{id}", inventory.GetItem).Methods("GET")
	api.HandleFunc("/inventory/{id}/transactions", inventory.ListTransactions).Methods("GET")
	api.HandleFunc("/inventory/{id}/adjust", inventory.AdjustItem).Methods("POST")
	api.HandleFunc("/inventory/{id}/consume", inventory.ConsumeItem).Methods("POST")
	api.HandleFunc("/assignments", inventory.ListAssignments).Methods("GET")
	api.HandleFunc("/assignments/{id}/return", inventory.ReturnAssignment).Methods("POST")

	// Notification inbox
	api.HandleFunc("/notifications", inbox.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/unread-count", inbox.UnreadCount).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", inbox.MarkNotificationRead).Methods("POST")

	// Report exports
	api.HandleFunc("/reports/requests/export", reports.ExportRequestsToExcel).Methods("GET")
	api.HandleFunc("/reports/requests/export.csv", reports.ExportRequestsToCSV).Methods("GET")

	return r
}

// handleHealth is the liveness probe.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
