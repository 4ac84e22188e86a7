package commandstructure

import (
	"fmt"
	"log/slog"
	"time"
)

// CommandInvoker runs a fixed sequence of commands, feeding each output into the next.
type CommandInvoker struct {
	commands []Command
}

func NewCommandInvoker(commands []Command) *CommandInvoker {
	return &CommandInvoker{commands: commands}
}

// Execute runs all commands in order. The first failing command aborts the chain.
func (i *CommandInvoker) Execute(imageData []byte) ([]byte, error) {
	current := imageData
	for index, command := range i.commands {
		start := time.Now()
		slog.Debug("executing command",
			"index", index,
			"command_name", command.Name(),
			"input_size_bytes", len(current))

		out, err := command.Execute(current)
		if err != nil {
			slog.Error("command failed",
				"index", index,
				"command_name", command.Name(),
				"error", err)
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), index, err)
		}

		slog.Debug("command finished",
			"index", index,
			"command_name", command.Name(),
			"output_size_bytes", len(out),
			"duration_ms", time.Since(start).Milliseconds())
		current = out
	}
	return current, nil
}

// BuildCommands instantiates configs against registry without running them.
func BuildCommands(registry *CommandRegistry, configs []CommandConfig) ([]Command, error) {
	commands := make([]Command, 0, len(configs))
	for index, config := range configs {
		command, err := registry.Create(config.Name, config.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create command %s (index %d): %w", config.Name, index, err)
		}
		commands = append(commands, command)
	}
	return commands, nil
}

// ExecuteCommands builds the configured commands from DefaultRegistry and runs them.
func ExecuteCommands(imageData []byte, configs []CommandConfig) ([]byte, error) {
	if len(configs) == 0 {
		return imageData, nil
	}
	commands, err := BuildCommands(DefaultRegistry, configs)
	if err != nil {
		return nil, err
	}
	return NewCommandInvoker(commands).Execute(imageData)
}
