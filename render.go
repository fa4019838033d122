package contactor

import (
	"bytes"
	"html/template"
	"regexp"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	firstNamePattern  = regexp.MustCompile(`(?i)\[first_name\]`)
	senderNamePattern = regexp.MustCompile(`(?i)\[sender_name\]`)
)

type Placeholders struct {
	FirstName  string
	SenderName string
}

// Substitute replaces [first_name] and [sender_name] in any letter case.
// Other bracketed tokens are left as they are.
func Substitute(content string, values Placeholders) string {
	content = firstNamePattern.ReplaceAllLiteralString(content, values.FirstName)
	content = senderNamePattern.ReplaceAllLiteralString(content, values.SenderName)

	return content
}

// Renderer turns markdown content into the html and text parts of an email.
type Renderer interface {
	Render(markdown string) (htmlBody, textBody string, err error)
}

const defaultLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, Helvetica, sans-serif; line-height: 1.5; color: #222;">
{{ .Content }}
</body>
</html>
`

// MarkdownRenderer renders GitHub flavoured markdown into a minimal html layout.
// The text part is the markdown source itself.
type MarkdownRenderer struct {
	md     goldmark.Markdown
	layout *template.Template
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		layout: template.Must(template.New("layout").Parse(defaultLayout)),
	}
}

func (r *MarkdownRenderer) Render(markdown string) (string, string, error) {
	content := &bytes.Buffer{}
	if err := r.md.Convert([]byte(markdown), content); err != nil {
		return "", "", errors.Wrap(err, "failed to convert markdown")
	}

	out := &bytes.Buffer{}
	data := map[string]interface{}{
		"Content": template.HTML(content.String()),
	}

	if err := r.layout.Execute(out, data); err != nil {
		return "", "", errors.Wrap(err, "failed to execute layout")
	}

	return out.String(), markdown, nil
}

// compose builds the message for one address of one receiver.
func compose(renderer Renderer, tpl Template, profile Profile, config SMTPConfig, r Receiver, email string) (*Message, error) {
	values := Placeholders{
		FirstName:  r.GivenName(),
		SenderName: profile.FullName,
	}

	htmlBody, textBody, err := renderer.Render(Substitute(tpl.Content, values))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render template %s", tpl.Id)
	}

	return &Message{
		To:      email,
		Subject: Substitute(tpl.Subject, values),
		HTML:    htmlBody,
		Text:    textBody,
		Config:  config,
	}, nil
}
