package storage

import (
	"errors"
	"slices"
	"time"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Document is the persisted bot state. The JSON keys are the ones existing
// deployments already have on disk; renaming one drops that field on load.
type Document struct {
	AuthorizedUsers []int64          `json:"authorized_users"`
	AuthorizedChats []int64          `json:"authorized_chats"`
	Command         string           `json:"spam_command"`
	Messages        []string         `json:"spam_messages"`
	OwnerID         int64            `json:"owner_id"`
	SecretCodes     map[string]int64 `json:"user_secret_codes"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.AuthorizedUsers = slices.Clone(d.AuthorizedUsers)
	out.AuthorizedChats = slices.Clone(d.AuthorizedChats)
	out.Messages = slices.Clone(d.Messages)
	out.SecretCodes = make(map[string]int64, len(d.SecretCodes))
	for k, v := range d.SecretCodes {
		out.SecretCodes[k] = v
	}
	return out
}

// AuditEntry records a security relevant action: owner mutations, gate
// rejections and dispatch runs.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id,omitempty"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Fail    int       `json:"fail,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
	Meta    string    `json:"meta,omitempty"`
}
