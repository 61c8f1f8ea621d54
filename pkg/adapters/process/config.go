package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskConfig binds a task name to the command that performs it.
type TaskConfig struct {
	Task        string            `yaml:"task" json:"task"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`

	// Timeout bounds one run of the command. Zero leaves it to the caller's context.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ConfigFile represents the structure of tasks.yaml
type ConfigFile struct {
	Tasks []TaskConfig `yaml:"tasks" json:"tasks"`
}

// LoadTasks reads a configuration file (YAML or JSON) and returns the commands by task name.
// A missing file yields an empty registry. Entries without a task name are skipped; a task
// without a command or listed twice is an error.
func LoadTasks(path string) (map[string]TaskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]TaskConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	tasks := make(map[string]TaskConfig)
	for _, t := range cfg.Tasks {
		if t.Task == "" {
			continue
		}
		if t.Command == "" {
			return nil, fmt.Errorf("task %s has no command", t.Task)
		}
		if _, dup := tasks[t.Task]; dup {
			return nil, fmt.Errorf("task %s is listed twice", t.Task)
		}
		tasks[t.Task] = t
	}
	return tasks, nil
}
