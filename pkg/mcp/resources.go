package mcp

import (
	"fmt"
	"strings"
)

// Resource URIs have the form mcp://unity/scenes/{scene}/objects/{id}, with
// the scene root at mcp://unity/scenes/{scene}.
const uriPrefix = "mcp://unity/scenes/"

// SceneURI returns the resource URI of the scene root.
func SceneURI(sceneName string) string {
	return uriPrefix + sceneName
}

// ObjectURI returns the resource URI of one node.
func ObjectURI(sceneName, id string) string {
	return fmt.Sprintf("%s%s/objects/%s", uriPrefix, sceneName, id)
}

// ParseObjectURI extracts the node id from an object URI, validating the
// scheme and scene name.
func ParseObjectURI(uri, sceneName string) (string, error) {
	rest, ok := strings.CutPrefix(uri, uriPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: unrecognized resource uri %q", uri)
	}
	scenePart, id, ok := strings.Cut(rest, "/objects/")
	if !ok || id == "" {
		return "", fmt.Errorf("mcp: uri %q does not name an object", uri)
	}
	if scenePart != sceneName {
		return "", fmt.Errorf("mcp: uri %q references unknown scene %q", uri, scenePart)
	}
	return id, nil
}
