package logging

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// TagStyle selects how request tags are generated.
type TagStyle string

const (
	TagNone TagStyle = "none"
	TagUint TagStyle = "uint"
	TagUUID TagStyle = "uuid"
)

// ParseTagStyle accepts none, uint and uuid.
func ParseTagStyle(s string) (TagStyle, error) {
	switch TagStyle(s) {
	case TagNone, TagUint, TagUUID:
		return TagStyle(s), nil
	case "":
		return TagNone, nil
	}
	return "", fmt.Errorf("unknown log tag style %q", s)
}

// TagFactory hands out request tags. Tags of the uint style are unique per
// factory; uuid tags are random.
type TagFactory struct {
	style TagStyle
	next  atomic.Uint64
}

// NewTagFactory creates a factory producing tags in style.
func NewTagFactory(style TagStyle) *TagFactory {
	return &TagFactory{style: style}
}

// Make returns a new tag, or "" for the none style.
func (f *TagFactory) Make() string {
	switch f.style {
	case TagUint:
		return strconv.FormatUint(f.next.Add(1), 10)
	case TagUUID:
		return uuid.NewString()
	default:
		return ""
	}
}
