package jobmanager

import (
	"encoding/json"

	"github.com/tomas/slidemanager-daemon/internal/config"
)

// optionsFromJSON decodes a job's persisted options_json back into the
// typed record (spec 9: the dynamic options dict is replaced end-to-end by
// config.JobOptions).
func optionsFromJSON(raw string) (config.JobOptions, error) {
	var o config.JobOptions
	if raw == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return o, err
	}
	return o, nil
}

func optionsToJSON(o config.JobOptions) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
