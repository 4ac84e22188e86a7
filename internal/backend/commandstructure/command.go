package commandstructure

// Command transforms an encoded image payload into another encoded image payload.
type Command interface {
	Name() string
	Execute(imageData []byte) ([]byte, error)
}

// CommandFactory builds a Command from its configuration parameters.
type CommandFactory func(params map[string]any) (Command, error)

// CommandConfig names a registered command and carries its parameters.
// In YAML the parameters sit next to the name:
//
//	- name: CoverCommand
//	  width: 800
//	  height: 480
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}
