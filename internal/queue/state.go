package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

// StateFile is the queue's sidecar under <root>/<space>/org/. It mirrors
// what the inbox records already say so agents can read the in-flight id
// without parsing org files.
const StateFile = ".queue-state.json"

// State is the persisted queue view.
type State struct {
	CurrentTask *string  `json:"current_task"`
	Completed   []string `json:"completed"`
}

func statePath(root, space string) string {
	return filepath.Join(root, space, "org", StateFile)
}

// loadState reads the state file. A missing file is an empty state.
func loadState(root, space string) (*State, error) {
	data, err := os.ReadFile(statePath(root, space))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Completed: []string{}}, nil
		}
		return nil, fmt.Errorf("queue: read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt state file must not wedge the queue; the inbox
		// records are authoritative.
		return &State{Completed: []string{}}, nil
	}
	if st.Completed == nil {
		st.Completed = []string{}
	}
	return &st, nil
}

// saveState writes the state file atomically.
func saveState(root, space string, st *State) error {
	path := statePath(root, space)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("queue: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal state: %w", err)
	}
	if err := util.AtomicWriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("queue: write state: %w", err)
	}
	return nil
}

func (st *State) markCompleted(id string) {
	if st.CurrentTask != nil && *st.CurrentTask == id {
		st.CurrentTask = nil
	}
	for _, done := range st.Completed {
		if done == id {
			return
		}
	}
	st.Completed = append(st.Completed, id)
}
