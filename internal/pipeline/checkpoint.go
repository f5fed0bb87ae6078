package pipeline

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/keyword"
)

// Checkpoint is the state of a run between two stages. Keyword
// embeddings are not serialized; a resumed run recomputes missing ones
// before clustering.
type Checkpoint struct {
	RunID    string             `json:"run_id"`
	Seeds    []string           `json:"seeds"`
	Settings config.Settings    `json:"settings"`
	Next     int                `json:"next"`
	States   []StageState       `json:"states"`
	Keywords []*keyword.Keyword `json:"keywords"`
	Warnings []string           `json:"warnings,omitempty"`
	Errors   []*StageError      `json:"errors,omitempty"`
}

// NextStage returns the stage a resumed run starts with, or "" when the
// run is complete.
func (c *Checkpoint) NextStage() Stage {
	if c.Next >= len(Stages) {
		return ""
	}
	return Stages[c.Next]
}

// Done reports whether every stage has finished.
func (c *Checkpoint) Done() bool {
	return c.Next >= len(Stages)
}

// WriteJSON serializes the checkpoint.
func (c *Checkpoint) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// ReadCheckpoint decodes a checkpoint written by WriteJSON.
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(c.States) != len(Stages) {
		return nil, fmt.Errorf("decode checkpoint: %d stage states, want %d", len(c.States), len(Stages))
	}
	return &c, nil
}
