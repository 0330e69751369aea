package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-offline/types"
)

const redacted = "******"

var secretPaths = []string{
	"storage.encryption.key",
	"storage.encryption.passphrase",
}

// Parser exposes a loaded config as a tree addressable by dotted paths,
// e.g. "cache.ttl.coaches". Secret leaves are redacted.
type Parser struct {
	tree map[string]interface{}
}

func NewParser(config *types.ServiceConfig) (*Parser, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode config")
	}

	parser := &Parser{tree: make(map[string]interface{})}
	if err := yaml.Unmarshal(raw, &parser.tree); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	for _, path := range secretPaths {
		parser.redact(path)
	}

	return parser, nil
}

// Lookup returns the subtree or leaf at path. An empty path is the whole
// config.
func (p *Parser) Lookup(path string) (interface{}, error) {
	if path == "" {
		return p.tree, nil
	}

	var node interface{} = p.tree
	for _, part := range strings.Split(path, ".") {
		section, ok := node.(map[string]interface{})
		if !ok {
			return nil, types.Errorf(types.ErrConfigNotFound, "path: %s", path)
		}
		if node, ok = section[part]; !ok || node == nil {
			return nil, types.Errorf(types.ErrConfigNotFound, "path: %s", path)
		}
	}

	return node, nil
}

// Keys lists the sorted child names of the section at path.
func (p *Parser) Keys(path string) ([]string, error) {
	node, err := p.Lookup(path)
	if err != nil {
		return nil, err
	}

	section, ok := node.(map[string]interface{})
	if !ok {
		return nil, types.Errorf(types.ErrConfigNotFound, "%s is not a section", path)
	}

	keys := make([]string, 0, len(section))
	for key := range section {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}

func (p *Parser) redact(path string) {
	dot := strings.LastIndex(path, ".")
	parent, err := p.Lookup(path[:dot])
	if err != nil {
		return
	}

	section, ok := parent.(map[string]interface{})
	if !ok {
		return
	}

	if value, ok := section[path[dot+1:]].(string); ok && value != "" {
		section[path[dot+1:]] = redacted
	}
}
