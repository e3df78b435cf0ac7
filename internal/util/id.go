package util

import "github.com/rs/xid"

// NewID returns a time-sortable id, optionally prefixed ("thr_c9...").
func NewID(prefix string) string {
	id := xid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
