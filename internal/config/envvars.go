package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/boxes/internal/build"
)

// EnvironmentVars is an ordered list of variable assignments. In YAML it is
// a sequence of mappings, each holding one or more NAME: value pairs:
//
//	environment_vars:
//	  - PACKER_LOG: 1
//	  - TMPDIR: /var/tmp
//
// A single mapping is accepted as well. Document order is preserved.
type EnvironmentVars []build.EnvVar

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *EnvironmentVars) UnmarshalYAML(node *yaml.Node) error {
	var vars EnvironmentVars
	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: environment_vars[%d] must be a mapping", item.Line, i)
			}
			pairs, err := mappingPairs(item)
			if err != nil {
				return err
			}
			vars = append(vars, pairs...)
		}
	case yaml.MappingNode:
		pairs, err := mappingPairs(node)
		if err != nil {
			return err
		}
		vars = pairs
	default:
		return fmt.Errorf("line %d: environment_vars must be a list of mappings", node.Line)
	}
	*e = vars
	return nil
}

// MarshalYAML renders one single-key mapping per variable.
func (e EnvironmentVars) MarshalYAML() (any, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range e {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Value: v.Key},
				{Kind: yaml.ScalarNode, Value: v.Value, Style: yaml.DoubleQuotedStyle},
			},
		})
	}
	return seq, nil
}

func mappingPairs(node *yaml.Node) ([]build.EnvVar, error) {
	pairs := make([]build.EnvVar, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: value of %s must be a scalar", value.Line, key.Value)
		}
		text := value.Value
		if value.Tag == "!!null" {
			text = ""
		}
		pairs = append(pairs, build.EnvVar{Key: key.Value, Value: text})
	}
	return pairs, nil
}
