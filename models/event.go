package models

import "time"

// Event types published while a batch is processed
const (
	EventThreadProcessed = "thread_processed"
	EventThreadSkipped   = "thread_skipped"
	EventBatchCompleted  = "batch_completed"
	EventDossierSaved    = "dossier_saved"
)

// Event is a progress notification streamed to the owner's open SSE/websocket connections
type Event struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Time    time.Time              `json:"time"`
}
