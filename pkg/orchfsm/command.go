package orchfsm

import "encoding/json"

// NewCommand marshals payload and wraps it as a Command ready to hand to
// raft.Raft.Apply, mirroring the teacher's Manager.Apply call sites.
func NewCommand(op string, payload interface{}) (Command, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: op, Data: data}, nil
}
