package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RosterAccount is one account entry of an import file.
type RosterAccount struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	GroupID  string `yaml:"group_id"`
	Capacity int    `yaml:"capacity,omitempty"`
}

// Roster is a YAML file listing accounts to import.
//
//	default_capacity: 100
//	accounts:
//	  - email: owner@example.com
//	    password: secret
//	    group_id: 64b0c1...
type Roster struct {
	DefaultCapacity int             `yaml:"default_capacity,omitempty"`
	Accounts        []RosterAccount `yaml:"accounts"`
}

// LoadRoster reads and validates an account roster.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks every entry and fills in default capacities.
func (r *Roster) Validate() error {
	if len(r.Accounts) == 0 {
		return errors.New("roster has no accounts")
	}

	seen := make(map[string]bool, len(r.Accounts))
	var errs []error
	for i := range r.Accounts {
		a := &r.Accounts[i]
		a.Email = strings.TrimSpace(a.Email)
		switch {
		case a.Email == "":
			errs = append(errs, fmt.Errorf("account %d: email is required", i))
			continue
		case seen[strings.ToLower(a.Email)]:
			errs = append(errs, fmt.Errorf("account %d: duplicate email %s", i, a.Email))
		case a.Password == "":
			errs = append(errs, fmt.Errorf("account %s: password is required", a.Email))
		case a.GroupID == "":
			errs = append(errs, fmt.Errorf("account %s: group_id is required", a.Email))
		}
		seen[strings.ToLower(a.Email)] = true
		if a.Capacity <= 0 {
			a.Capacity = r.DefaultCapacity
		}
	}
	return errors.Join(errs...)
}
