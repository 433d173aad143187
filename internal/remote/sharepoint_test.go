package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"domstyle-sync-server/internal/config"
	"domstyle-sync-server/internal/domain"
)

func newSharePointTestAdapter(t *testing.T, handler http.HandlerFunc) *SharePointAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSharePointAdapter(config.SharePointConfig{
		SiteURL:  srv.URL,
		ListName: "DOM Customizations",
	}, 5*time.Second)
}

func TestSharePointQuery(t *testing.T) {
	adapter := newSharePointTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json;odata=verbose" {
			t.Errorf("unexpected accept header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"d": map[string]any{
				"results": []map[string]any{
					{
						"ID":         7,
						"Title":      "hide nav",
						"Selector":   "#nav",
						"Enabled":    true,
						"Priority":   3,
						"ExternalID": "rule-7",
						"Modified":   "2026-08-02T08:30:00Z",
					},
				},
			},
		})
	})

	records, err := adapter.Query(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.BackendID != "7" || rec.ExternalID != "rule-7" {
		t.Errorf("unexpected identifiers: %+v", rec)
	}
	if rec.Rule.Source != domain.SourceSharePoint || rec.Rule.SharePointID != "7" {
		t.Errorf("unexpected source mapping: %+v", rec.Rule)
	}
}

func TestSharePointQuery_ItemWithoutExternalIDGetsSPPrefix(t *testing.T) {
	adapter := newSharePointTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"d": map[string]any{
				"results": []map[string]any{
					{"ID": 12, "Title": "authored in list", "Selector": ".x", "Enabled": true},
				},
			},
		})
	})

	records, err := adapter.Query(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if records[0].Rule.ID != "sp_12" {
		t.Errorf("expected sp_12, got %s", records[0].Rule.ID)
	}
}

func TestSharePointCreate(t *testing.T) {
	var body map[string]any
	adapter := newSharePointTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"d": map[string]any{"ID": 42}})
	})

	id, err := adapter.Create(context.Background(), "tok", &domain.CustomizationRule{
		ID:       "rule-42",
		Name:     "banner",
		Selector: ".banner",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id != "42" {
		t.Errorf("expected item id 42, got %s", id)
	}

	meta, _ := body["__metadata"].(map[string]any)
	if meta["type"] != "SP.Data.DOMCustomizationsListItem" {
		t.Errorf("unexpected metadata type: %v", meta)
	}
	if body["ExternalID"] != "rule-42" {
		t.Errorf("external id not tagged: %v", body["ExternalID"])
	}
}

func TestSharePointUpdateUsesMergeMethod(t *testing.T) {
	adapter := newSharePointTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected tunneled POST, got %s", r.Method)
		}
		if r.Header.Get("X-HTTP-Method") != "MERGE" {
			t.Errorf("expected X-HTTP-Method MERGE, got %q", r.Header.Get("X-HTTP-Method"))
		}
		if r.Header.Get("IF-MATCH") != "*" {
			t.Errorf("expected IF-MATCH *, got %q", r.Header.Get("IF-MATCH"))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := adapter.Update(context.Background(), "tok", "7", &domain.CustomizationRule{ID: "rule-7"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
}

func TestSharePointUnconfigured(t *testing.T) {
	adapter := NewSharePointAdapter(config.SharePointConfig{}, time.Second)

	_, err := adapter.Query(context.Background(), "tok", "")
	cfgErr, ok := err.(*domain.ConfigError)
	if !ok {
		t.Fatalf("expected ConfigError, got %T (%v)", err, err)
	}
	if cfgErr.Message == "" {
		t.Error("expected remediation text")
	}
}

func TestSharePointFindByExternalID_FailureFallsThroughToCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	adapter := NewSharePointAdapter(config.SharePointConfig{SiteURL: srv.URL, ListName: "L"}, time.Second)
	rec, err := adapter.FindByExternalID(context.Background(), "tok", "rule-1")
	if err != nil || rec != nil {
		t.Fatalf("expected nil,nil on lookup failure, got %+v, %v", rec, err)
	}
}
