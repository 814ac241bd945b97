// Package session manages bridge session identity: the exclusive lock
// that keeps two supervisors off the same agent pair, and the manifest
// that records what a session was configured to do.
package session

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Manifest records a session's identity and configuration so a later
// invocation (or a human) can see what ran in a session directory.
type Manifest struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Task      string    `yaml:"task,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`

	Initiator string `yaml:"initiator"`
	Reviewer  string `yaml:"reviewer"`

	InitiatorPane string `yaml:"initiator_pane"`
	ReviewerPane  string `yaml:"reviewer_pane"`
	TmuxSocket    string `yaml:"tmux_socket,omitempty"`

	AutoApprove bool `yaml:"auto_approve"`
	Secure      bool `yaml:"secure"`
	Explore     bool `yaml:"explore"`
}

// NewManifest creates a manifest with a fresh session ID.
func NewManifest(name string) *Manifest {
	return &Manifest{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Save writes the manifest to path.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
