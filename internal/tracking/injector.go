package tracking

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrMalformedTemplate is returned when the document has no body to append
// to or the tokenizer rejects it.
var ErrMalformedTemplate = errors.New("malformed html template")

// Issuer mints a token for a subject id. *token.Codec satisfies it.
type Issuer interface {
	Issue(subjectID string) (string, error)
}

// InjectOptions selects the artifacts to add. Empty ids are skipped.
type InjectOptions struct {
	UnsubscribeContactID string
	PixelMailID          string
}

// Injector adds the unsubscribe footer and the open pixel to rendered
// HTML. MessageBefore and LinkText set the footer copy.
type Injector struct {
	unsubscribeBase string
	unsubscribe     Issuer
	pixelBase       string
	pixel           Issuer

	MessageBefore string
	LinkText      string
}

// NewInjector creates an injector. Tokens from each issuer are appended as
// the last path segment of the matching base URL.
func NewInjector(unsubscribeBase string, unsubscribe Issuer, pixelBase string, pixel Issuer) *Injector {
	return &Injector{
		unsubscribeBase: strings.TrimRight(unsubscribeBase, "/"),
		unsubscribe:     unsubscribe,
		pixelBase:       strings.TrimRight(pixelBase, "/"),
		pixel:           pixel,
		MessageBefore:   "You don't want to hear from us? ",
		LinkText:        "Unsubscribe",
	}
}

// Inject appends the unsubscribe footer and then the open pixel at the end
// of the document body. The input bytes are kept verbatim; the new elements
// are spliced in front of the closing body tag.
func (in *Injector) Inject(doc string, opts InjectOptions) (string, error) {
	pos, err := bodyEnd(doc)
	if err != nil {
		return "", err
	}

	var frag bytes.Buffer
	if opts.UnsubscribeContactID != "" {
		tok, err := in.unsubscribe.Issue(opts.UnsubscribeContactID)
		if err != nil {
			return "", fmt.Errorf("issue unsubscribe token: %w", err)
		}
		if err := html.Render(&frag, in.footer(in.unsubscribeBase+"/"+tok)); err != nil {
			return "", fmt.Errorf("render footer: %w", err)
		}
	}
	if opts.PixelMailID != "" {
		tok, err := in.pixel.Issue(opts.PixelMailID)
		if err != nil {
			return "", fmt.Errorf("issue pixel token: %w", err)
		}
		if err := html.Render(&frag, pixelImg(in.pixelBase+"/"+tok)); err != nil {
			return "", fmt.Errorf("render pixel: %w", err)
		}
	}
	if frag.Len() == 0 {
		return doc, nil
	}
	return doc[:pos] + frag.String() + doc[pos:], nil
}

func (in *Injector) footer(href string) *html.Node {
	div := element(atom.Div, "class", "footer",
		"style", "clear: both; margin-top: 30px; width: 100%; font-size: 10px;")
	div.AppendChild(element(atom.Br))
	div.AppendChild(&html.Node{Type: html.TextNode, Data: in.MessageBefore})
	a := element(atom.A, "href", href,
		"style", "text-decoration: underline; color: #999999; text-align: center;")
	a.AppendChild(&html.Node{Type: html.TextNode, Data: in.LinkText})
	div.AppendChild(a)
	div.AppendChild(&html.Node{Type: html.TextNode, Data: "."})
	return div
}

func pixelImg(src string) *html.Node {
	return element(atom.Img, "src", src, "width", "1", "height", "1", "alt", "",
		"style", "height: 1px !important; max-height: 1px !important; max-width: 1px !important; width: 1px !important")
}

func element(a atom.Atom, kv ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return n
}

// bodyEnd returns the byte offset where appended body content belongs: the
// first </body>, else </html>, else the end of the input. A document with
// no content or a frameset has no body to append to.
func bodyEnd(doc string) (int, error) {
	if strings.TrimSpace(doc) == "" {
		return 0, fmt.Errorf("%w: empty document", ErrMalformedTemplate)
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	offset, bodyClose, htmlClose := 0, -1, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return 0, fmt.Errorf("%w: %v", ErrMalformedTemplate, z.Err())
		}
		n := len(z.Raw())
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Frameset {
				return 0, fmt.Errorf("%w: frameset documents have no body", ErrMalformedTemplate)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Body:
				if bodyClose < 0 {
					bodyClose = offset
				}
			case atom.Html:
				if htmlClose < 0 {
					htmlClose = offset
				}
			}
		}
		offset += n
	}

	switch {
	case bodyClose >= 0:
		return bodyClose, nil
	case htmlClose >= 0:
		return htmlClose, nil
	default:
		return len(doc), nil
	}
}
