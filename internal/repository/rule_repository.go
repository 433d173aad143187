package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"domstyle-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type RuleRepository interface {
	Create(rule *domain.CustomizationRule) error
	FindByID(id string) (*domain.CustomizationRule, error)
	List() ([]*domain.CustomizationRule, error)
	ListByDomain(pageDomain string) ([]*domain.CustomizationRule, error)
	ListBySource(source domain.RuleSource) ([]*domain.CustomizationRule, error)
	Update(rule *domain.CustomizationRule) error
	Delete(id string) error
}

type ruleRepository struct {
	client *kivik.Client
	dbName string
}

func NewRuleRepository(client *kivik.Client, dbName string) RuleRepository {
	return &ruleRepository{
		client: client,
		dbName: dbName,
	}
}

// ruleDoc wraps a rule with the discriminator used by Mango selectors.
type ruleDoc struct {
	DocType string `json:"doc_type"`
	domain.CustomizationRule
}

func (r *ruleRepository) Create(rule *domain.CustomizationRule) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("rule:%s", rule.ID)
	_, err := db.Put(context.Background(), docID, &ruleDoc{DocType: "rule", CustomizationRule: *rule})
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *ruleRepository) FindByID(id string) (*domain.CustomizationRule, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("rule:%s", id)
	row := db.Get(context.Background(), docID)

	var doc ruleDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to find rule: %w", err)
	}

	return &doc.CustomizationRule, nil
}

func (r *ruleRepository) List() ([]*domain.CustomizationRule, error) {
	return r.find(map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "rule",
		},
	})
}

func (r *ruleRepository) ListByDomain(pageDomain string) ([]*domain.CustomizationRule, error) {
	return r.find(map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "rule",
			"domain":   pageDomain,
		},
	})
}

func (r *ruleRepository) ListBySource(source domain.RuleSource) ([]*domain.CustomizationRule, error) {
	return r.find(map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "rule",
			"source":   string(source),
		},
	})
}

func (r *ruleRepository) find(query map[string]interface{}) ([]*domain.CustomizationRule, error) {
	db := r.client.DB(r.dbName)

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.CustomizationRule
	for rows.Next() {
		var doc ruleDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		rule := doc.CustomizationRule
		rules = append(rules, &rule)
	}

	domain.SortRules(rules)
	return rules, nil
}

func (r *ruleRepository) Update(rule *domain.CustomizationRule) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("rule:%s", rule.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrRuleNotFound
		}
		return fmt.Errorf("failed to fetch existing rule for update: %w", err)
	}

	doc := &ruleDoc{DocType: "rule", CustomizationRule: *rule}
	payload := map[string]interface{}{}
	if rev, ok := existingDoc["_rev"].(string); ok {
		payload["_rev"] = rev
	}
	data, err := docAsMap(doc)
	if err != nil {
		return err
	}
	for k, v := range data {
		payload[k] = v
	}

	if _, err := db.Put(context.Background(), docID, payload); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return nil
}

func (r *ruleRepository) Delete(id string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("rule:%s", id)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrRuleNotFound
		}
		return err
	}

	rev, _ := existingDoc["_rev"].(string)
	if _, err := db.Delete(context.Background(), docID, rev); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return nil
}

func docAsMap(doc interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
