package validation

import (
	"net/mail"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

const (
	DefaultMaxMessageLength   = 4000
	DefaultMaxAttachmentBytes = 10 * 1000 * 1000
	MaxAttachmentURLLength    = 2048
	MaxFileNameLength         = 255
	MaxDisplayNameLength      = 120
)

// Limits bounds what a single message may carry. A message holds either text
// or exactly one attachment reference.
type Limits struct {
	MaxMessageLength   int
	MaxAttachmentBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageLength:   DefaultMaxMessageLength,
		MaxAttachmentBytes: DefaultMaxAttachmentBytes,
	}
}

// LimitsFromEnv reads MAX_MESSAGE_LENGTH and MAX_ATTACHMENT_SIZE (e.g. "10MB").
func LimitsFromEnv() Limits {
	return Limits{
		MaxMessageLength:   MaxMessageLength(),
		MaxAttachmentBytes: MaxAttachmentBytes(),
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// NormalizeConversationKey maps a customer identity onto the key its
// conversation is stored under.
func NormalizeConversationKey(key string) string {
	return NormalizeEmail(key)
}

func ValidateConversationKey(key string) bool {
	return key != "" && key == NormalizeConversationKey(key) && ValidateEmail(key)
}

func NormalizeDisplayName(name string) string {
	return TrimAndLimit(name, MaxDisplayNameLength)
}

func MaxMessageLength() int {
	maxStr := os.Getenv("MAX_MESSAGE_LENGTH")
	if maxStr == "" {
		return DefaultMaxMessageLength
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil || max < 1 {
		return DefaultMaxMessageLength
	}
	return max
}

func MaxAttachmentBytes() int64 {
	raw := os.Getenv("MAX_ATTACHMENT_SIZE")
	if raw == "" {
		return DefaultMaxAttachmentBytes
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil || n == 0 {
		return DefaultMaxAttachmentBytes
	}
	return int64(n)
}

// TrimAndLimit trims whitespace and cuts s to at most max bytes without
// splitting a UTF-8 sequence.
func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// SafeFileName strips path components and control characters from an
// uploaded file name.
func SafeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '|' {
			return -1
		}
		return r
	}, name)
	name = TrimAndLimit(name, MaxFileNameLength)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
