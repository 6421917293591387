package provider

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const base64LineLength = 76

// BuildRawMessage assembles a multipart/mixed MIME message by hand for the
// platform backend's raw-send path. Layout: a multipart/alternative inner
// part holding the text and HTML bodies, followed by one base64 part per
// attachment, wrapped at 76 characters per MIME convention.
func BuildRawMessage(from string, msg *Message) []byte {
	mixedBoundary := newBoundary("mixed")
	altBoundary := newBoundary("alt")

	var b strings.Builder

	writeHeader(&b, "From", from)
	writeHeader(&b, "To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		writeHeader(&b, "Cc", strings.Join(msg.Cc, ", "))
	}
	if msg.ReplyTo != "" {
		writeHeader(&b, "Reply-To", msg.ReplyTo)
	}
	writeHeader(&b, "Subject", msg.Subject)
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=\"%s\"", mixedBoundary))
	b.WriteString("\r\n")

	// Alternative part: text first, HTML last so capable clients prefer it.
	b.WriteString("--" + mixedBoundary + "\r\n")
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=\"%s\"", altBoundary))
	b.WriteString("\r\n")

	if msg.TextBody != "" {
		b.WriteString("--" + altBoundary + "\r\n")
		writeHeader(&b, "Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(msg.TextBody)
		b.WriteString("\r\n")
	}

	b.WriteString("--" + altBoundary + "\r\n")
	writeHeader(&b, "Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")
	b.WriteString("--" + altBoundary + "--\r\n")

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		b.WriteString("--" + mixedBoundary + "\r\n")
		writeHeader(&b, "Content-Type", fmt.Sprintf("%s; name=\"%s\"", contentType, att.Filename))
		writeHeader(&b, "Content-Transfer-Encoding", "base64")
		writeHeader(&b, "Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", att.Filename))
		b.WriteString("\r\n")
		b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(att.Content)))
		b.WriteString("\r\n")
	}

	b.WriteString("--" + mixedBoundary + "--\r\n")

	return []byte(b.String())
}

// newBoundary derives a boundary string from the current timestamp plus a
// random suffix so concurrent builds never collide.
func newBoundary(kind string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("=_%s_%d_%s", kind, time.Now().UnixNano(), suffix)
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// wrapBase64 folds an encoded payload at 76 characters with CRLF line
// endings.
func wrapBase64(encoded string) string {
	var b strings.Builder
	for len(encoded) > base64LineLength {
		b.WriteString(encoded[:base64LineLength])
		b.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	b.WriteString(encoded)
	return b.String()
}
