package tracking

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/token"
)

const (
	unsubBase = "https://mail.example.com/api/webhooks/unsubscribe"
	pixelBase = "https://mail.example.com/api/webhooks/pixel"
)

func testCodecs(t *testing.T) (unsub, pixel *token.Codec) {
	t.Helper()
	var err error
	unsub, err = token.NewCodec(token.PurposeUnsubscribe, "secret", "unsubscribe", 0)
	require.NoError(t, err)
	pixel, err = token.NewCodec(token.PurposePixel, "secret", "pixel", 0)
	require.NoError(t, err)
	return unsub, pixel
}

func testInjector(t *testing.T) (*Injector, *token.Codec, *token.Codec) {
	unsub, pixel := testCodecs(t)
	return NewInjector(unsubBase+"/", unsub, pixelBase, pixel), unsub, pixel
}

func parse(t *testing.T, doc string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	return d
}

func TestInjectBoth(t *testing.T) {
	in, unsub, pixel := testInjector(t)
	doc := `<html><head><title>Hi</title></head><body><p>Hello {{ name }}</p></body></html>`

	out, err := in.Inject(doc, InjectOptions{UnsubscribeContactID: "contact-1", PixelMailID: "mail-1"})
	require.NoError(t, err)

	pos := strings.Index(doc, "</body>")
	assert.True(t, strings.HasPrefix(out, doc[:pos]))
	assert.True(t, strings.HasSuffix(out, doc[pos:]))
	assert.Greater(t, len(out), len(doc))

	d := parse(t, out)
	href, ok := d.Find("body div.footer a").Attr("href")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(href, unsubBase+"/"))
	contactID, err := unsub.Resolve(strings.TrimPrefix(href, unsubBase+"/"))
	require.NoError(t, err)
	assert.Equal(t, "contact-1", contactID)
	assert.Equal(t, "Unsubscribe", d.Find("body div.footer a").Text())

	src, ok := d.Find("body img").Attr("src")
	require.True(t, ok)
	mailID, err := pixel.Resolve(strings.TrimPrefix(src, pixelBase+"/"))
	require.NoError(t, err)
	assert.Equal(t, "mail-1", mailID)

	// unsubscribe footer comes first, pixel last
	assert.Less(t, strings.Index(out, `class="footer"`), strings.Index(out, "<img"))
	assert.Equal(t, "Hello {{ name }}", d.Find("body p").Text())
}

func TestInjectPixelOnly(t *testing.T) {
	in, _, _ := testInjector(t)
	out, err := in.Inject(`<html><body><p>x</p></body></html>`, InjectOptions{PixelMailID: "mail-1"})
	require.NoError(t, err)

	d := parse(t, out)
	assert.Equal(t, 0, d.Find("div.footer").Length())
	assert.Equal(t, 1, d.Find("body img").Length())
	w, _ := d.Find("body img").Attr("width")
	assert.Equal(t, "1", w)
}

func TestInjectNothingRequested(t *testing.T) {
	in, _, _ := testInjector(t)
	doc := `<html><body><p>x</p></body></html>`
	out, err := in.Inject(doc, InjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestInjectPreservesOriginalBytes(t *testing.T) {
	in, _, _ := testInjector(t)
	docs := []string{
		"<!DOCTYPE html>\r\n<html>\n<body class=\"x\">\n  <table><tr><td>&nbsp;cell</td></tr></table>\n</BODY>\n</html>\n",
		`<html><body><!-- </body> --><p>after comment</p></body></html>`,
		`<html><body><script>var s = "</body>";</script><p>x</p></body></html>`,
		`<html><body><p>no closing body</p></html>`,
		`<p>fragment only</p>`,
	}
	for _, doc := range docs {
		out, err := in.Inject(doc, InjectOptions{UnsubscribeContactID: "c", PixelMailID: "m"})
		require.NoError(t, err, doc)
		assert.GreaterOrEqual(t, len(out), len(doc))

		pos, err := bodyEnd(doc)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, doc[:pos]), doc)
		assert.True(t, strings.HasSuffix(out, doc[pos:]), doc)

		d := parse(t, out)
		assert.Equal(t, 1, d.Find("body div.footer").Length(), doc)
		assert.Equal(t, 1, d.Find("body img").Length(), doc)
	}
}

func TestBodyEndSkipsCommentsAndScripts(t *testing.T) {
	doc := `<html><body><!-- </body> --><script>"</body>"</script><p>x</p></body></html>`
	pos, err := bodyEnd(doc)
	require.NoError(t, err)
	assert.Equal(t, strings.LastIndex(doc, "</body>"), pos)
}

func TestInjectMalformed(t *testing.T) {
	in, _, _ := testInjector(t)
	for _, doc := range []string{"", "   \n\t", `<html><frameset><frame src="a"></frameset></html>`} {
		_, err := in.Inject(doc, InjectOptions{PixelMailID: "m"})
		assert.ErrorIs(t, err, ErrMalformedTemplate, "%q", doc)
	}
}
