package gmail

import (
	"encoding/base64"
	"strings"

	"maildossier/utils"

	gmailapi "google.golang.org/api/gmail/v1"
)

// Part is one node of a message's MIME tree. The concrete types are
// PlainTextPart, HTMLPart, ContainerPart and OtherPart; bodies are already decoded.
type Part interface {
	MimeType() string
	accept(v Visitor)
}

// PlainTextPart is a decoded text/plain leaf
type PlainTextPart struct {
	Mime string
	Text string
}

// HTMLPart is a decoded text/html leaf
type HTMLPart struct {
	Mime string
	HTML string
}

// ContainerPart is a multipart/* node
type ContainerPart struct {
	Mime  string
	Parts []Part
}

// OtherPart is an attachment or any leaf that carries no readable text
type OtherPart struct {
	Mime     string
	Filename string
	Size     int64
}

func (p *PlainTextPart) MimeType() string { return p.Mime }
func (p *HTMLPart) MimeType() string      { return p.Mime }
func (p *ContainerPart) MimeType() string { return p.Mime }
func (p *OtherPart) MimeType() string     { return p.Mime }

func (p *PlainTextPart) accept(v Visitor) { v.VisitPlainText(p) }
func (p *HTMLPart) accept(v Visitor)      { v.VisitHTML(p) }
func (p *OtherPart) accept(v Visitor)     { v.VisitOther(p) }

func (p *ContainerPart) accept(v Visitor) {
	if !v.VisitContainer(p) {
		return
	}
	for _, child := range p.Parts {
		child.accept(v)
	}
}

// Visitor receives every node of a part tree in document order.
// Returning false from VisitContainer skips that container's children.
type Visitor interface {
	VisitPlainText(*PlainTextPart)
	VisitHTML(*HTMLPart)
	VisitContainer(*ContainerPart) bool
	VisitOther(*OtherPart)
}

// Walk visits root and all of its descendants
func Walk(root Part, v Visitor) {
	if root == nil {
		return
	}
	root.accept(v)
}

// VisitorFuncs adapts optional callbacks to the Visitor interface
type VisitorFuncs struct {
	PlainText func(*PlainTextPart)
	HTML      func(*HTMLPart)
	Container func(*ContainerPart) bool
	Other     func(*OtherPart)
}

func (f VisitorFuncs) VisitPlainText(p *PlainTextPart) {
	if f.PlainText != nil {
		f.PlainText(p)
	}
}

func (f VisitorFuncs) VisitHTML(p *HTMLPart) {
	if f.HTML != nil {
		f.HTML(p)
	}
}

func (f VisitorFuncs) VisitContainer(p *ContainerPart) bool {
	if f.Container != nil {
		return f.Container(p)
	}
	return true
}

func (f VisitorFuncs) VisitOther(p *OtherPart) {
	if f.Other != nil {
		f.Other(p)
	}
}

// convertPart turns the API's loosely typed part into the Part sum type
func convertPart(p *gmailapi.MessagePart) Part {
	if p == nil {
		return nil
	}

	mime := strings.ToLower(p.MimeType)
	var data string
	var size int64
	attachment := p.Filename != ""
	if p.Body != nil {
		data = p.Body.Data
		size = p.Body.Size
		attachment = attachment || p.Body.AttachmentId != ""
	}

	switch {
	case strings.HasPrefix(mime, "multipart/") || len(p.Parts) > 0:
		c := &ContainerPart{Mime: mime}
		for _, child := range p.Parts {
			if cp := convertPart(child); cp != nil {
				c.Parts = append(c.Parts, cp)
			}
		}
		return c
	case attachment:
		return &OtherPart{Mime: mime, Filename: p.Filename, Size: size}
	case strings.HasPrefix(mime, "text/plain"):
		return &PlainTextPart{Mime: mime, Text: decodeBody(data)}
	case strings.HasPrefix(mime, "text/html"):
		return &HTMLPart{Mime: mime, HTML: decodeBody(data)}
	default:
		return &OtherPart{Mime: mime, Filename: p.Filename, Size: size}
	}
}

// decodeBody decodes base64url body data, tolerating missing padding.
// Undecodable data yields an empty string.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	raw := strings.TrimRight(data, "=")
	if b, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(b)
	}
	if b, err := base64.RawStdEncoding.DecodeString(raw); err == nil {
		return string(b)
	}
	utils.Log.Debug("Failed to decode message part body (%d bytes)", len(data))
	return ""
}

// PlainText returns the decoded text/plain parts of msg in document order
func PlainText(msg *Message) []string {
	var out []string
	Walk(msg.Payload, VisitorFuncs{
		PlainText: func(p *PlainTextPart) {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		},
	})
	return out
}

// Text returns every readable piece of msg: the snippet, plain parts and
// HTML parts reduced to text, joined by newlines
func Text(msg *Message) string {
	var collected []string
	if msg.Snippet != "" {
		collected = append(collected, msg.Snippet)
	}
	Walk(msg.Payload, VisitorFuncs{
		PlainText: func(p *PlainTextPart) {
			if p.Text != "" {
				collected = append(collected, p.Text)
			}
		},
		HTML: func(p *HTMLPart) {
			if text := utils.CollapseWhitespace(utils.HTMLToText(p.HTML)); text != "" {
				collected = append(collected, text)
			}
		},
	})
	return strings.TrimSpace(strings.Join(collected, "\n"))
}
