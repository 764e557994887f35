// Package state persists per-module deployment records in the cluster
package state

import (
	"errors"
	"time"
)

// Status is the deployment lifecycle state of one module
type Status string

const (
	StatusNotDeployed Status = "NotDeployed"
	StatusDeploying   Status = "Deploying"
	StatusDeployed    Status = "Deployed"
	StatusFailed      Status = "Failed"
	StatusRollingBack Status = "RollingBack"
	StatusRolledBack  Status = "RolledBack"
)

// Locked reports whether the status marks an operation in flight. A record
// in a locked state belongs to exactly one operation; everyone else fails
// fast instead of waiting.
func (s Status) Locked() bool {
	return s == StatusDeploying || s == StatusRollingBack
}

// Record is the durable deployment record for one module. Records are
// created when a module is first targeted and removed only by explicit
// uninstall.
type Record struct {
	Module     string    `json:"module"`
	Status     Status    `json:"status"`
	Revision   int64     `json:"revision"`
	ConfigHash string    `json:"config_hash,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r *Record) clone() *Record {
	cp := *r
	return &cp
}

var (
	// ErrNotFound is returned when a module has no deployment record
	ErrNotFound = errors.New("no deployment record")
	// ErrConflict is returned when a record is locked by another operation
	// or a concurrent writer keeps winning the compare-and-set
	ErrConflict = errors.New("operation conflict")
)
