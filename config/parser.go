package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-ratecache/types"
)

// Parser answers dotted-path lookups such as "rate_limit.presets.auth.limit"
// against the effective configuration. Numeric segments index sequences.
type Parser struct {
	root *yaml.Node
}

func NewParser(config *types.ServiceConfig) *Parser {
	root := &yaml.Node{}
	if err := root.Encode(config); err != nil {
		return &Parser{}
	}
	return &Parser{root: root}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	node := p.lookup(path)
	if node == nil {
		return defaultValue
	}

	var value interface{}
	if err := node.Decode(&value); err != nil || value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	node := p.lookup(path)
	if node == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	if err := node.Decode(target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}
	return nil
}

func (p *Parser) lookup(path string) *yaml.Node {
	node := p.root
	if node == nil || path == "" {
		return node
	}

	for _, segment := range strings.Split(path, ".") {
		node = child(node, segment)
		if node == nil || node.Tag == "!!null" {
			return nil
		}
	}
	return node
}

func child(node *yaml.Node, segment string) *yaml.Node {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil
		}
		return child(node.Content[0], segment)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == segment {
				return node.Content[i+1]
			}
		}
	case yaml.SequenceNode:
		index, err := strconv.Atoi(segment)
		if err == nil && index >= 0 && index < len(node.Content) {
			return node.Content[index]
		}
	}
	return nil
}
