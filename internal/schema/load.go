package schema

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a mapping of column name to spec, keeping the order
// the columns appear in the document.
func (cs *Columns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: columns must be a mapping", node.Line)
	}
	out := make(Columns, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec ColumnSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("column %s: %w", node.Content[i].Value, err)
		}
		out = append(out, Column{Name: node.Content[i].Value, ColumnSpec: spec})
	}
	*cs = out
	return nil
}

// MarshalYAML encodes columns as an ordered mapping.
func (cs Columns) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, c := range cs {
		var value yaml.Node
		if err := value.Encode(c.ColumnSpec); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: c.Name}, &value)
	}
	return node, nil
}

func (is *Indexes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: indexes must be a mapping", node.Line)
	}
	out := make(Indexes, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec IndexSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("index %s: %w", node.Content[i].Value, err)
		}
		out = append(out, Index{Name: node.Content[i].Value, IndexSpec: spec})
	}
	*is = out
	return nil
}

func (is Indexes) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, idx := range is {
		var value yaml.Node
		if err := value.Encode(idx.IndexSpec); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: idx.Name}, &value)
	}
	return node, nil
}

// LoadDefinitions reads every YAML document in r as a table definition.
func LoadDefinitions(r io.Reader) ([]*Definition, error) {
	dec := yaml.NewDecoder(r)
	var defs []*Definition
	for {
		var def Definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		if def.Table == "" {
			return nil, fmt.Errorf("schema document %d has no table name", len(defs)+1)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}
