package service

import (
	"errors"
	"testing"

	"domstyle-sync-server/internal/domain"
)

func TestRuleService_CreateAppliesDefaults(t *testing.T) {
	repo := newMockRuleRepo()
	notifier := &recordingNotifier{}
	service := NewRuleService(repo, notifier)

	rule, err := service.Create(&domain.CreateRuleRequest{
		Name:     "Hide ribbon",
		Selector: ".ribbon",
		Styles:   map[string]string{"display": "none"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if rule.ID == "" {
		t.Error("expected generated id")
	}
	if !rule.Enabled {
		t.Error("expected enabled by default")
	}
	if rule.Priority != 1 {
		t.Errorf("expected default priority 1, got %d", rule.Priority)
	}
	if rule.Category != "General" {
		t.Errorf("expected default category, got %s", rule.Category)
	}
	if rule.Source != domain.SourceLocal {
		t.Errorf("expected local source, got %s", rule.Source)
	}
	if rule.Version != 1 {
		t.Errorf("expected version 1, got %d", rule.Version)
	}
	if notifier.count() != 1 {
		t.Errorf("expected one change notification, got %d", notifier.count())
	}
}

func TestRuleService_CreateRejectsBadSelector(t *testing.T) {
	service := NewRuleService(newMockRuleRepo(), nil)

	_, err := service.Create(&domain.CreateRuleRequest{
		Name:     "Broken",
		Selector: "div[unclosed",
	})
	if !errors.Is(err, domain.ErrInvalidSelector) {
		t.Errorf("expected ErrInvalidSelector, got %v", err)
	}

	_, err = service.Create(&domain.CreateRuleRequest{
		Name:       "Bad pattern",
		Selector:   ".ok",
		URLPattern: "([",
	})
	if err == nil {
		t.Error("expected uncompilable URL pattern to be rejected")
	}
}

func TestRuleService_UpdatePatchesAndBumpsVersion(t *testing.T) {
	repo := newMockRuleRepo()
	notifier := &recordingNotifier{}
	service := NewRuleService(repo, notifier)

	created, err := service.Create(&domain.CreateRuleRequest{
		Name:     "Hide ribbon",
		Selector: ".ribbon",
		Styles:   map[string]string{"display": "none"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	disabled := false
	name := "Hide command bar"
	updated, err := service.Update(created.ID, &domain.UpdateRuleRequest{
		Name:    &name,
		Enabled: &disabled,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Name != name || updated.Enabled {
		t.Error("expected patched fields to change")
	}
	if updated.Selector != ".ribbon" {
		t.Error("unpatched fields must survive")
	}
	if updated.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", updated.Version)
	}
	if !updated.ModifiedOn.After(created.CreatedOn) && !updated.ModifiedOn.Equal(created.CreatedOn) {
		t.Error("expected modification timestamp to advance")
	}
}

func TestRuleService_UpdateUnknownRule(t *testing.T) {
	service := NewRuleService(newMockRuleRepo(), nil)

	name := "whatever"
	_, err := service.Update("missing", &domain.UpdateRuleRequest{Name: &name})
	if !errors.Is(err, domain.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestRuleService_ImportReKeysAndSkipsInvalid(t *testing.T) {
	repo := newMockRuleRepo()
	service := NewRuleService(repo, nil)

	existing, err := service.Create(&domain.CreateRuleRequest{
		Name:     "Original",
		Selector: ".original",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	backup := []*domain.CustomizationRule{
		{
			ID:          existing.ID, // collides with the live store
			Name:        "Original",
			Selector:    ".original",
			Version:     9,
			Source:      domain.SourceDataverse,
			DataverseID: "dv-1",
		},
		{Name: "", Selector: ".nameless"},
		{Name: "Broken selector", Selector: "]["},
	}

	imported, skipped, err := service.Import(backup)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported != 1 {
		t.Errorf("expected 1 imported, got %d", imported)
	}
	if len(skipped) != 2 {
		t.Errorf("expected 2 skipped, got %v", skipped)
	}

	all, _ := service.List()
	if len(all) != 2 {
		t.Fatalf("expected 2 stored rules, got %d", len(all))
	}
	for _, r := range all {
		if r.ID != existing.ID {
			if r.Source != domain.SourceLocal || r.DataverseID != "" || r.Version != 1 {
				t.Error("imported rule must be re-keyed as a fresh local rule")
			}
		}
	}
}

func TestValidateSelector(t *testing.T) {
	valid := []string{
		".class",
		"#id > div.child",
		"div[data-id='1']",
		"ul li:first-child",
	}
	for _, sel := range valid {
		if err := ValidateSelector(sel); err != nil {
			t.Errorf("expected %q to validate, got %v", sel, err)
		}
	}

	invalid := []string{"", "]", "div[unclosed", "..double"}
	for _, sel := range invalid {
		if err := ValidateSelector(sel); !errors.Is(err, domain.ErrInvalidSelector) {
			t.Errorf("expected %q to be rejected, got %v", sel, err)
		}
	}
}
