package transport

import (
	"bufio"
	"context"
	"io"
	"mime/quotedprintable"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one connection and speaks just enough SMTP for
// net/smtp. rcptCode is the reply to RCPT TO.
func fakeSMTP(t *testing.T, rcptCode int) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb, _, _ := strings.Cut(strings.ToUpper(line), " ")
			switch verb {
			case "EHLO", "HELO":
				tp.PrintfLine("250 fake")
			case "MAIL":
				tp.PrintfLine("250 ok")
			case "RCPT":
				tp.PrintfLine("%d recipient reply", rcptCode)
			case "DATA":
				tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				got <- strings.Join(lines, "\n")
				tp.PrintfLine("250 queued")
			case "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				tp.PrintfLine("502 not implemented")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, got
}

func testMessage() *Message {
	return &Message{
		ID:        "mail-1",
		FromName:  "Tiny Mail",
		FromEmail: "news@example.com",
		To:        "ada@example.org",
		Subject:   "Héllo Ada",
		HTML:      "<html><body><p>Hi Ada</p></body></html>",
	}
}

func TestSMTPSenderDelivers(t *testing.T) {
	host, port, data := fakeSMTP(t, 250)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, Timeout: 5 * time.Second})

	id, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "mail-1@example.com", id)

	var raw string
	select {
	case raw = <-data:
	case <-time.After(5 * time.Second):
		t.Fatal("no DATA received")
	}
	assert.Contains(t, raw, `From: "Tiny Mail" <news@example.com>`)
	assert.Contains(t, raw, "To: <ada@example.org>")
	assert.Contains(t, raw, "Subject: =?utf-8?q?H=C3=A9llo_Ada?=")
	assert.Contains(t, raw, "Message-ID: <mail-1@example.com>")
	assert.Contains(t, raw, "Content-Transfer-Encoding: quoted-printable")

	_, body, ok := strings.Cut(raw, "\n\n")
	require.True(t, ok)
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "<p>Hi Ada</p>")
}

func TestSMTPSenderRejectedRecipientIsPermanent(t *testing.T) {
	host, port, _ := fakeSMTP(t, 550)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, Timeout: 5 * time.Second})

	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	var tpErr *textproto.Error
	require.ErrorAs(t, err, &tpErr)
	assert.Equal(t, 550, tpErr.Code)
	assert.False(t, IsTransient(err))
}

func TestSMTPSenderGreylistIsTransient(t *testing.T) {
	host, port, _ := fakeSMTP(t, 451)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, Timeout: 5 * time.Second})

	_, err := s.Send(context.Background(), testMessage())
	assert.True(t, IsTransient(err))
}

func TestSMTPSenderConnectionRefusedIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	_, err = s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestBuildMIMEHeaderOrder(t *testing.T) {
	msg := testMessage()
	msg.Headers = map[string]string{"x-campaign-id": "camp-1", "list-unsubscribe": "<https://x/u>"}
	raw, err := buildMIME(msg, "id@example.com", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	r := textproto.NewReader(bufio.NewReader(strings.NewReader(string(raw))))
	h, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "camp-1", h.Get("X-Campaign-Id"))
	assert.Equal(t, "<https://x/u>", h.Get("List-Unsubscribe"))
	assert.Equal(t, "Wed, 01 May 2024 00:00:00 +0000", h.Get("Date"))
	assert.Less(t, strings.Index(string(raw), "List-Unsubscribe"), strings.Index(string(raw), "X-Campaign-Id"))

	_, err = buildMIME(&Message{FromEmail: "a@b.co"}, "id", time.Now())
	assert.Error(t, err)
}
