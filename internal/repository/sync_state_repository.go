package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"domstyle-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const syncStateDocID = "sync:state"

// SyncStateRepository persists the outcome of the last sync run so status
// queries survive restarts. InProgress is engine-owned and never stored.
type SyncStateRepository interface {
	Get() (*domain.SyncStatus, error)
	SaveResult(result *domain.SyncResult) error
	SaveError(syncErr *domain.SyncError) error
	Clear() error
}

type syncStateRepository struct {
	client *kivik.Client
	dbName string
}

func NewSyncStateRepository(client *kivik.Client, dbName string) SyncStateRepository {
	return &syncStateRepository{
		client: client,
		dbName: dbName,
	}
}

type syncStateDoc struct {
	DocType      string             `json:"doc_type"`
	LastSyncTime *time.Time         `json:"last_sync_time,omitempty"`
	LastResult   *domain.SyncResult `json:"last_result,omitempty"`
	LastError    *domain.SyncError  `json:"last_error,omitempty"`
}

func (r *syncStateRepository) Get() (*domain.SyncStatus, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), syncStateDocID)

	var doc syncStateDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return &domain.SyncStatus{HasNeverSynced: true}, nil
		}
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	return &domain.SyncStatus{
		LastSyncTime:   doc.LastSyncTime,
		LastResult:     doc.LastResult,
		LastError:      doc.LastError,
		HasNeverSynced: doc.LastResult == nil && doc.LastError == nil,
	}, nil
}

func (r *syncStateRepository) SaveResult(result *domain.SyncResult) error {
	return r.mutate(func(doc *syncStateDoc) {
		doc.LastResult = result
		doc.LastSyncTime = &result.EndTime
		doc.LastError = nil
	})
}

func (r *syncStateRepository) SaveError(syncErr *domain.SyncError) error {
	return r.mutate(func(doc *syncStateDoc) {
		doc.LastError = syncErr
	})
}

func (r *syncStateRepository) Clear() error {
	return r.mutate(func(doc *syncStateDoc) {
		doc.LastSyncTime = nil
		doc.LastResult = nil
		doc.LastError = nil
	})
}

func (r *syncStateRepository) mutate(apply func(*syncStateDoc)) error {
	db := r.client.DB(r.dbName)

	doc := syncStateDoc{DocType: "sync_state"}
	var rev string

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), syncStateDocID)
	if err := row.ScanDoc(&existingDoc); err == nil {
		rev, _ = existingDoc["_rev"].(string)
		if data, mErr := json.Marshal(existingDoc); mErr == nil {
			_ = json.Unmarshal(data, &doc)
		}
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to fetch sync state for update: %w", err)
	}

	apply(&doc)

	payload, err := docAsMap(&doc)
	if err != nil {
		return err
	}
	if rev != "" {
		payload["_rev"] = rev
	}

	if _, err := db.Put(context.Background(), syncStateDocID, payload); err != nil {
		return fmt.Errorf("failed to persist sync state: %w", err)
	}

	return nil
}
