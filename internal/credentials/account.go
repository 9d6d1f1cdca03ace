// Package credentials owns the durable account store used for credential
// rotation: ordered accounts with status, state and priority fields, mutated
// through locked, atomic read-modify-write cycles.
package credentials

import (
	"bytes"
	"errors"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ExpiredPriority is the priority pinned on expired accounts. It is strictly
// greater than any priority handed out to a valid account.
const ExpiredPriority = 9999

// Status is the outcome of the most recent login attempt.
type Status string

const (
	StatusValid   Status = "valid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusValid, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// State says whether the credential itself is currently usable.
type State string

const (
	StateValid   State = "valid"
	StateExpired State = "expired"
)

var (
	ErrAccountNotFound = errors.New("credentials: User not found")
	ErrStoreNotFound   = errors.New("credentials: store not found")
	ErrStoreCorrupt    = errors.New("credentials: store is corrupt")
	ErrInvalidStatus   = errors.New("credentials: invalid status")
)

// Account is one stored credential set. Every field is always serialized;
// timestamps that were never set are written as null.
type Account struct {
	Name            string     `json:"name"`
	Username        string     `json:"username"`
	Password        string     `json:"password"`
	Database        string     `json:"database"`
	Priority        int        `json:"priority"`
	Status          Status     `json:"status"`
	State           State      `json:"state"`
	LastUsed        *time.Time `json:"last_used"`
	StatusChangedAt *time.Time `json:"status_changed_at"`
	// ConfigFolder overrides the per-user report config folder.
	ConfigFolder string `json:"config_folder,omitempty"`
	// Extra holds keys this package does not know; they are written back unchanged.
	Extra map[string]jsoniter.RawMessage `json:"-"`
}

// accountFields has Account's fields without its JSON methods.
type accountFields Account

var knownAccountKeys = map[string]bool{
	"name": true, "username": true, "password": true, "database": true, "priority": true,
	"status": true, "state": true, "last_used": true, "status_changed_at": true, "config_folder": true,
}

// UnmarshalJSON decodes the known fields and keeps every other key in Extra.
func (a *Account) UnmarshalJSON(data []byte) error {
	var fields accountFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Account(fields)
	a.Extra = nil
	for k, v := range raw {
		if knownAccountKeys[k] {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]jsoniter.RawMessage)
		}
		a.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the known fields in declaration order, then the extra keys sorted.
func (a Account) MarshalJSON() ([]byte, error) {
	out, err := json.Marshal(accountFields(a))
	if err != nil || len(a.Extra) == 0 {
		return out, err
	}

	keys := make([]string, 0, len(a.Extra))
	for k := range a.Extra {
		if !knownAccountKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	buf := bytes.NewBuffer(out[:len(out)-1])
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(a.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Label returns the display name, falling back to the username.
func (a Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}
