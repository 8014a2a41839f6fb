package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"pricewatch/common"
	"pricewatch/db"
	"pricewatch/exchange"
	"pricewatch/notify"
	"pricewatch/sse"
)

type Application struct {
	DB         *sql.DB
	Store      *db.Store
	Manager    *exchange.Manager
	SSEManager *sse.SSEManager
}

var app *Application

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(log.DebugLevel)
	}

	// Connect to DB
	database, err := db.DBConnect()
	if err != nil {
		log.Fatal("Error on main db connection: ", err)
	}
	defer database.Close()

	if err := db.CreateTables(database); err != nil {
		log.Fatal("Error creating tables: ", err)
	}

	store := db.NewStore(database)
	sseManager := sse.NewSSEManager()

	dispatcher := notify.NewDispatcher(store, map[string]notify.Adapter{
		common.ChannelLog:      notify.NewLogAdapter(envOr("ALERT_LOG_FILE", "log/alerts.log")),
		common.ChannelEmail:    notify.NewEmailAdapter(envOr("SMTP_ADDR", "localhost:25"), envOr("SMTP_FROM", "alerts@pricewatch.local")),
		common.ChannelTelegram: notify.NewTelegramAdapter(),
		common.ChannelBrowser:  notify.NewBrowserAdapter(sseManager),
	})

	enabled := strings.Split(envOr("ENABLED_EXCHANGES", "binance"), ",")
	manager, err := exchange.NewManager(enabled, exchange.Deps{
		Repo:     store,
		Sink:     sseManager,
		Notifier: dispatcher,
	})
	if err != nil {
		log.Fatalf("Error building exchange manager: %v", err)
	}

	app = &Application{
		DB:         database,
		Store:      store,
		Manager:    manager,
		SSEManager: sseManager,
	}

	manager.Start()
	log.Println("🚀 Exchange streams initialized")

	// Web Server
	go func() {
		http.HandleFunc("/alerts", handleAlerts)
		http.HandleFunc("/alerts/update", updateAlertHandler)
		http.HandleFunc("/alerts/delete", deleteAlertHandler)
		http.HandleFunc("/alerts/reset", resetAlertHandler)
		http.HandleFunc("/alerts/link-channel", linkChannelHandler)
		http.HandleFunc("/channels", handleChannels)
		http.HandleFunc("/channels/delete", deleteChannelHandler)
		http.HandleFunc("/status", statusHandler)

		http.Handle("/alerts/stream", app.SSEManager)

		addr := envOr("HTTP_ADDR", ":31337")
		log.Println("🌐 Server starting on", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down")
	manager.Stop()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		alerts, err := app.Store.ListAlerts()
		if err != nil {
			log.Printf("Error listing alerts: %v", err)
			http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(alerts)

	case http.MethodPost:
		log.Println("Create Alert")

		var alert common.Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			log.Println("Error decoding json for new alert")
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		alert.Active = true
		alert.TriggeredAt = nil

		if err := alert.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := app.Store.CreateAlert(&alert); err != nil {
			log.Println("Error inserting alert into database:", err)
			http.Error(w, fmt.Sprintf("Failed to create alert: %v", err), http.StatusInternalServerError)
			return
		}

		app.Manager.OnAlertCreated(&alert)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "success",
			"message": "Alert created successfully",
			"alert":   alert,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func updateAlertHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Update Alert")

	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var alert common.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		log.Println("Error decoding request into struct")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if alert.ID <= 0 {
		http.Error(w, "Invalid alert ID", http.StatusBadRequest)
		return
	}
	if err := alert.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	existing, err := app.Store.GetAlert(alert.ID)
	if err != nil {
		log.Printf("Error fetching alert: %v", err)
		http.Error(w, "Failed to fetch alert", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	alert.TriggeredAt = existing.TriggeredAt

	if err := app.Store.UpdateAlert(&alert); err != nil {
		log.Printf("Error updating alert: %v", err)
		http.Error(w, "Failed to update alert", http.StatusInternalServerError)
		return
	}

	// A symbol change moves the alert between watcher sets.
	if existing.Symbol != alert.Symbol {
		app.Manager.OnAlertDestroyed(alert.ID, existing.Symbol)
	}
	app.Manager.OnAlertActivatedOrEdited(&alert)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Alert updated successfully",
	})
}

func deleteAlertHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Delete Alert")

	if r.Method != http.MethodDelete {
		log.Println("Method Not Allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		AlertID int64 `json:"alert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("Error decoding request into struct")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.AlertID <= 0 {
		log.Println("Invalid Alert ID")
		http.Error(w, "Invalid alert ID", http.StatusBadRequest)
		return
	}

	alert, err := app.Store.GetAlert(request.AlertID)
	if err != nil {
		log.Printf("Error fetching alert: %v", err)
		http.Error(w, "Failed to fetch alert", http.StatusInternalServerError)
		return
	}
	if alert == nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	if err := app.Store.DeleteAlert(request.AlertID); err != nil {
		log.Printf("Error deleting alert: %v", err)
		http.Error(w, "Failed to delete alert", http.StatusInternalServerError)
		return
	}

	app.Manager.OnAlertDestroyed(alert.ID, alert.Symbol)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Alert deleted successfully",
	})
}

// resetAlertHandler re-arms a triggered alert: clears triggered_at,
// reactivates the record and puts it back on the stream.
func resetAlertHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Reset Alert")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		AlertID int64 `json:"alert_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("Error decoding request into struct")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.AlertID <= 0 {
		http.Error(w, "Invalid alert ID", http.StatusBadRequest)
		return
	}

	if err := app.Store.ResetAlert(request.AlertID); err != nil {
		log.Printf("Error resetting alert: %v", err)
		http.Error(w, "Failed to reset alert", http.StatusInternalServerError)
		return
	}

	alert, err := app.Store.GetAlert(request.AlertID)
	if err != nil || alert == nil {
		log.Printf("Error fetching reset alert: %v", err)
		http.Error(w, "Failed to fetch alert", http.StatusInternalServerError)
		return
	}

	app.Manager.OnAlertCreated(alert)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"message": "Alert reset successfully",
		"alert":   alert,
	})
}

func linkChannelHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Link Channel")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		AlertID   int64 `json:"alert_id"`
		ChannelID int64 `json:"channel_id"`
		Unlink    bool  `json:"unlink"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("Error decoding request into struct")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.AlertID <= 0 || request.ChannelID <= 0 {
		http.Error(w, "Invalid alert or channel ID", http.StatusBadRequest)
		return
	}

	var err error
	if request.Unlink {
		err = app.Store.UnlinkChannel(request.AlertID, request.ChannelID)
	} else {
		err = app.Store.LinkChannel(request.AlertID, request.ChannelID)
	}
	if err != nil {
		log.Printf("Error linking channel: %v", err)
		http.Error(w, "Failed to link channel", http.StatusInternalServerError)
		return
	}

	// Keep the cached channel list current so the next trigger sees it.
	alert, err := app.Store.GetAlert(request.AlertID)
	if err == nil && alert != nil {
		app.Manager.UpdateAlert(alert)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Channel link updated",
	})
}

func handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channels, err := app.Store.ListChannels()
		if err != nil {
			log.Printf("Error listing channels: %v", err)
			http.Error(w, "Failed to list channels", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(channels)

	case http.MethodPost:
		log.Println("Create Channel")

		var channel common.NotificationChannel
		if err := json.NewDecoder(r.Body).Decode(&channel); err != nil {
			log.Println("Error decoding json for new channel")
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		channel.Active = true

		if err := channel.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := app.Store.CreateChannel(&channel); err != nil {
			log.Println("Error inserting channel into database:", err)
			http.Error(w, fmt.Sprintf("Failed to create channel: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "success",
			"message": "Channel created successfully",
			"channel": channel,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func deleteChannelHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Delete Channel")

	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		ChannelID int64 `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("Error decoding request into struct")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.ChannelID <= 0 {
		http.Error(w, "Invalid channel ID", http.StatusBadRequest)
		return
	}

	if err := app.Store.DeleteChannel(request.ChannelID); err != nil {
		log.Printf("Error deleting channel: %v", err)
		http.Error(w, "Failed to delete channel", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Channel deleted successfully",
	})
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := app.Manager.Status()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"exchanges":   status,
		"sse_clients": app.SSEManager.ClientCount(),
	})
}
