package models

import (
	"time"

	"promptvault/internal/prompt/diff"
)

// MeantFor classifies which model family a prompt targets.
type MeantFor string

const (
	MeantForVision     MeantFor = "vision"
	MeantForLanguage   MeantFor = "language"
	MeantForCode       MeantFor = "code"
	MeantForValidation MeantFor = "validation"
)

// Valid reports whether the value is one of the known classifications.
func (m MeantFor) Valid() bool {
	switch m {
	case MeantForVision, MeantForLanguage, MeantForCode, MeantForValidation:
		return true
	}
	return false
}

// Content is the versioned payload of a prompt record. UseOf is the business
// key: the stable identity of the prompt across all of its versions. The
// store computes checksums and diffs over these fields; field-level business
// validation happens in the calling layer before content reaches the store.
type Content struct {
	UseOf        string         `json:"use_of" yaml:"use_of"`
	SystemPrompt string         `json:"system_prompt" yaml:"system_prompt"`
	UserPrompt   string         `json:"user_prompt" yaml:"user_prompt"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	TokenLength  int            `json:"token_length,omitempty" yaml:"token_length,omitempty"`
	Task         string         `json:"task,omitempty" yaml:"task,omitempty"`
	AgentName    string         `json:"agent_name,omitempty" yaml:"agent_name,omitempty"`
	MetaInfo     map[string]any `json:"meta_info,omitempty" yaml:"meta_info,omitempty"`
	MeantFor     MeantFor       `json:"meant_for,omitempty" yaml:"meant_for,omitempty"`
}

// Version is one immutable snapshot of a prompt. Versions for a key form a
// strictly ordered, append-only sequence starting at 1; ids are never reused
// or reordered. Diff is nil for the first version.
type Version struct {
	BusinessKey string    `json:"business_key" yaml:"business_key"`
	VersionID   int64     `json:"version_id" yaml:"version_id"`
	Checksum    string    `json:"checksum" yaml:"checksum"`
	Diff        diff.Diff `json:"diff,omitempty" yaml:"diff,omitempty"`
	Snapshot    Content   `json:"snapshot" yaml:"snapshot"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	CreatedBy   string    `json:"created_by" yaml:"created_by"`
}
