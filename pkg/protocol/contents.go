package protocol

import "strings"

// Content is the one-byte bit-flag tag that prefixes every protocol message.
type Content uint8

// Content tags.
const (
	ContentNone         Content = 0
	ContentSucceeded    Content = 1
	ContentUsername     Content = 1 << 1
	ContentPassword     Content = 1 << 2
	ContentDenied       Content = 1 << 3
	ContentError        Content = 1 << 4
	ContentExpired      Content = 1 << 5
	ContentUpgrade      Content = 1 << 6
	ContentVerification Content = 1 << 7

	// Upgrade sub-family, reserved.
	ContentUpgradeRequest      = ContentUpgrade | ContentUsername
	ContentUpgradeResponse     = ContentUpgrade | ContentPassword
	ContentUpgradeVerification = ContentUpgrade | ContentVerification
)

var contentNames = []struct {
	flag Content
	name string
}{
	{ContentSucceeded, "Succeeded"},
	{ContentUsername, "Username"},
	{ContentPassword, "Password"},
	{ContentDenied, "Denied"},
	{ContentError, "Error"},
	{ContentExpired, "Expired"},
	{ContentUpgrade, "Upgrade"},
	{ContentVerification, "Verification"},
}

// Has reports whether every bit of flag is set in c.
func (c Content) Has(flag Content) bool {
	return c&flag == flag
}

// IsUpgrade reports whether c belongs to the reserved upgrade family.
func (c Content) IsUpgrade() bool {
	return c&ContentUpgrade != 0
}

func (c Content) String() string {
	if c == ContentNone {
		return "None"
	}

	var parts []string
	for _, n := range contentNames {
		if c&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
