package api

import "github.com/ckdtjq0011/saas-survey/internal/services"

// Store is the storage collaborator behind every service: the in-memory
// store below, or db.SQLiteStore.
type Store interface {
	services.SurveyStore
	services.ResponseStore
	services.AuthStore
}

var _ Store = (*memoryStore)(nil)
