package datasource

import (
	"fmt"
	"strings"

	"ktail/internal/config"
)

// Resource is one entry of a listing.
type Resource struct {
	Path string
	Name string
	Leaf bool
}

// Listing answers List. Resource is set when the prefix itself names a
// topic; Children holds whatever lies below it.
type Listing struct {
	Resource bool
	Children []Resource
}

func isRoot(path string) bool {
	return strings.Trim(path, "/") == ""
}

// resolve maps a path of the form /<topic> to the topic name.
func resolve(cfg config.Config, path string) (string, error) {
	if isRoot(path) || strings.HasSuffix(path, "/") {
		return "", fmt.Errorf("%w: %q", ErrNotAResource, path)
	}
	name := strings.TrimPrefix(path, "/")
	if strings.Contains(name, "/") || !cfg.HasTopic(name) {
		return "", fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}
	return name, nil
}

func list(cfg config.Config, prefix string) Listing {
	if isRoot(prefix) {
		children := make([]Resource, 0, len(cfg.Topics))
		for _, t := range cfg.Topics {
			children = append(children, Resource{Path: "/" + t, Name: t, Leaf: true})
		}
		return Listing{Children: children}
	}
	if _, err := resolve(cfg, prefix); err == nil {
		return Listing{Resource: true, Children: []Resource{}}
	}
	return Listing{Children: []Resource{}}
}
