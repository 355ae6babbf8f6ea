package tth

import (
	"fmt"
	"net/url"
)

// MagnetLink renders a magnet URI for a hashed file.
func MagnetLink(root Value, size int64, name string) string {
	return fmt.Sprintf("magnet:?xt=urn:tree:tiger:%s&xl=%d&dn=%s",
		root.String(), size, url.QueryEscape(name))
}
