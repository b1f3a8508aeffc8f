package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
)

// bodyStrategy decides which parts of a message body win
type bodyStrategy int

const (
	// htmlFirst returns the first text/html part
	htmlFirst bodyStrategy = iota
	// plainPreferred returns the first text/plain part, converting html
	// only when no plain text is found
	plainPreferred
	// concatenate returns the first html part or else every plain part joined
	concatenate
)

// bodyVisitor walks a MIME tree once for a single strategy
type bodyVisitor struct {
	strategy bodyStrategy
	html     string
	plain    []string
}

// extractBody decodes raw and returns the body text chosen by strategy
func extractBody(raw []byte, strategy bodyStrategy) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	if entity == nil {
		return "", errors.New("failed to parse message: empty entity")
	}

	v := &bodyVisitor{strategy: strategy}
	result, err := v.visit(entity)
	if err != nil {
		return "", err
	}
	if strategy == concatenate {
		if v.html != "" {
			return v.html, nil
		}
		return strings.Join(v.plain, "\n"), nil
	}
	return result, nil
}

// visit returns the result for a single entity. For concatenate the result
// is accumulated on the visitor instead.
func (v *bodyVisitor) visit(e *message.Entity) (string, error) {
	mediaType, _, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return v.leaf(e, mediaType)
	}

	mr := e.MultipartReader()
	if mr == nil {
		return "", nil
	}

	var result string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return result, fmt.Errorf("failed to read multipart: %w", err)
		}
		if part == nil {
			continue
		}

		partType, _, _ := part.Header.ContentType()
		switch {
		case strings.HasPrefix(partType, "multipart/"):
			nested, err := v.visit(part)
			if err != nil {
				return result, err
			}
			if v.strategy == concatenate {
				if v.html != "" {
					return "", nil
				}
				continue
			}
			if nested != "" {
				return nested, nil
			}

		case partType == "text/plain" || partType == "":
			text, err := readPart(part)
			if err != nil {
				return result, err
			}
			switch v.strategy {
			case plainPreferred:
				return text, nil
			case concatenate:
				v.plain = append(v.plain, text)
			}

		case partType == "text/html":
			html, err := readPart(part)
			if err != nil {
				return result, err
			}
			switch v.strategy {
			case htmlFirst:
				return html, nil
			case plainPreferred:
				if result == "" {
					result = htmlToText(html)
				}
			case concatenate:
				v.html = html
				return "", nil
			}
		}
	}
	return result, nil
}

func (v *bodyVisitor) leaf(e *message.Entity, mediaType string) (string, error) {
	switch mediaType {
	case "text/plain":
		text, err := readPart(e)
		if err != nil {
			return "", err
		}
		switch v.strategy {
		case htmlFirst:
			return "", nil
		case concatenate:
			v.plain = append(v.plain, text)
		}
		return text, nil

	case "text/html":
		html, err := readPart(e)
		if err != nil {
			return "", err
		}
		switch v.strategy {
		case plainPreferred:
			return htmlToText(html), nil
		case concatenate:
			v.html = html
		}
		return html, nil
	}
	return "", nil
}

func readPart(e *message.Entity) (string, error) {
	b, err := io.ReadAll(e.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body part: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
