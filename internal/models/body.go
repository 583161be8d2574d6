package models

import "strings"

type BodyKind string

const (
	BodyText  BodyKind = "text"
	BodyImage BodyKind = "image"
	BodyFile  BodyKind = "file"
)

const (
	imagePrefix = "IMAGE:"
	filePrefix  = "FILE:"

	// Written by the previous web client; still accepted on read.
	legacyImagePrefix = "[IMAGE]:"
	legacyFilePrefix  = "[FILE]:"
)

// Body is the decoded form of a message body. Attachments are carried inline
// as tagged strings so that the store only ever persists text.
type Body struct {
	Kind BodyKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	Name string   `json:"name,omitempty"`
	URL  string   `json:"url,omitempty"`
}

func ImageBody(url string) string {
	return imagePrefix + url
}

func FileBody(name, url string) string {
	return filePrefix + name + "|" + url
}

// ParseBody decodes an attachment tag. Anything malformed is treated as text.
func ParseBody(raw string) Body {
	switch {
	case strings.HasPrefix(raw, legacyImagePrefix):
		return parseImage(strings.TrimPrefix(raw, legacyImagePrefix), raw)
	case strings.HasPrefix(raw, imagePrefix):
		return parseImage(strings.TrimPrefix(raw, imagePrefix), raw)
	case strings.HasPrefix(raw, legacyFilePrefix):
		return parseFile(strings.TrimPrefix(raw, legacyFilePrefix), raw)
	case strings.HasPrefix(raw, filePrefix):
		return parseFile(strings.TrimPrefix(raw, filePrefix), raw)
	}
	return Body{Kind: BodyText, Text: raw}
}

func parseImage(rest, raw string) Body {
	url := strings.TrimSpace(rest)
	if url == "" {
		return Body{Kind: BodyText, Text: raw}
	}
	return Body{Kind: BodyImage, URL: url}
}

func parseFile(rest, raw string) Body {
	name, url, ok := strings.Cut(rest, "|")
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if !ok || name == "" || url == "" {
		return Body{Kind: BodyText, Text: raw}
	}
	return Body{Kind: BodyFile, Name: name, URL: url}
}

// IsAttachment reports whether raw is a well formed attachment reference.
func IsAttachment(raw string) bool {
	return ParseBody(raw).Kind != BodyText
}
