// Package objectkey derives names from hierarchical object keys of the form
//
//	patient/<tenantId>/source_data/<dataId>/<uploadDataName>/<filename>
//
// or, for directory keys, the same path with a trailing slash and no filename.
package objectkey

import (
	"strings"
)

// UploadDataName returns the segment between the last two slashes of the
// non-trailing-slash portion of the key: the directory immediately
// containing the uploaded file(s). Empty when the key has fewer than two
// slashes.
func UploadDataName(key string) string {
	last := strings.LastIndex(key, "/")
	if last < 0 {
		return ""
	}
	head := key[:last]
	second := strings.LastIndex(head, "/")
	if second < 0 {
		return ""
	}
	return head[second+1:]
}

// FileName returns the segment after the last slash. Directory keys
// (trailing slash) and keys without slashes yield "".
func FileName(key string) string {
	last := strings.LastIndex(key, "/")
	if last < 0 || last == len(key)-1 {
		return ""
	}
	return key[last+1:]
}

// DirectoryKey strips the last path segment, keeping the trailing slash:
// "a/b/c" becomes "a/b/". Keys without a slash are returned unchanged.
func DirectoryKey(key string) string {
	last := strings.LastIndex(key, "/")
	if last < 0 {
		return key
	}
	return key[:last+1]
}
