package models

import (
	"fmt"
	"regexp"
	"strings"
)

var cidRegex = regexp.MustCompile(`^!?[\w-]+:!?[\w-]+$`)

// ValidCID reports whether cid has the composite "type:id" format.
func ValidCID(cid string) bool {
	return cidRegex.MatchString(cid)
}

// ParseCID splits a composite channel id into its channel type and id.
func ParseCID(cid string) (channelType, channelID string, err error) {
	if !ValidCID(cid) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCID, cid)
	}
	parts := strings.SplitN(cid, ":", 2)
	return parts[0], parts[1], nil
}

// JoinCID builds a composite channel id and validates the result.
func JoinCID(channelType, channelID string) (string, error) {
	cid := channelType + ":" + channelID
	if !ValidCID(cid) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCID, cid)
	}
	return cid, nil
}
