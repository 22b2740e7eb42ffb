package auth

import (
	"context"
	"errors"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"

	"github.com/mtowater/waterbilling/internal/storage"
)

// Adapter implements the Casbin persist.Adapter interface using storage.Storage.
type Adapter struct {
	storage storage.Storage
}

// NewAdapter returns a new Casbin adapter.
func NewAdapter(s storage.Storage) *Adapter {
	return &Adapter{storage: s}
}

// LoadPolicy loads all policy rules from the storage.
func (a *Adapter) LoadPolicy(model model.Model) error {
	rules, err := a.storage.LoadCasbinRules(context.Background())
	if err != nil {
		return err
	}

	for _, rule := range rules {
		line := rule.PType
		for _, v := range []string{rule.V0, rule.V1, rule.V2, rule.V3, rule.V4, rule.V5} {
			if v == "" {
				break
			}
			line += ", " + v
		}
		persist.LoadPolicyLine(line, model)
	}
	return nil
}

// SavePolicy is unsupported; policies change incrementally via Add/RemovePolicy.
func (a *Adapter) SavePolicy(model model.Model) error {
	return errors.New("not implemented")
}

// AddPolicy adds a policy rule to the storage.
func (a *Adapter) AddPolicy(sec string, ptype string, rule []string) error {
	return a.storage.AddCasbinRule(context.Background(), toRule(ptype, rule))
}

// RemovePolicy removes a policy rule from the storage.
func (a *Adapter) RemovePolicy(sec string, ptype string, rule []string) error {
	return a.storage.RemoveCasbinRule(context.Background(), toRule(ptype, rule))
}

// RemoveFilteredPolicy is unsupported; the storage interface has no filtered
// rule removal.
func (a *Adapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	return errors.New("not implemented")
}

func toRule(ptype string, rule []string) storage.CasbinRule {
	r := storage.CasbinRule{PType: ptype}
	fields := []*string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i := 0; i < len(rule) && i < len(fields); i++ {
		*fields[i] = rule[i]
	}
	return r
}
