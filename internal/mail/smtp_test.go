package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Help", ReplySubject("Help"))
	assert.Equal(t, "Re: Help", ReplySubject("Re: Help"))
	assert.Equal(t, "RE: Help", ReplySubject("RE: Help"))
	assert.Equal(t, "Re: ", ReplySubject(""))
}

func TestStripHTML(t *testing.T) {
	in := "<div><p>Hello &amp; welcome</p><br><ul><li>one</li></ul></div>"
	out := stripHTML(in)

	assert.Contains(t, out, "Hello & welcome")
	assert.Contains(t, out, "one")
	assert.NotContains(t, out, "<")
}

func TestStripHTMLEmpty(t *testing.T) {
	assert.Equal(t, "", stripHTML(""))
}

func TestStripHTMLCollapsesBlankLines(t *testing.T) {
	out := stripHTML("<p>a</p><p></p><p></p><p>b</p>")
	assert.NotContains(t, out, "\n\n\n")
}

func TestComposeMessage(t *testing.T) {
	msg := composeMessage(
		"bot@example.com", "alice@example.com",
		"Re: Help", "On it.", "abc@mail",
	)

	assert.Contains(t, msg, "From: bot@example.com\r\n")
	assert.Contains(t, msg, "To: alice@example.com\r\n")
	assert.Contains(t, msg, "Subject: Re: Help\r\n")
	assert.Contains(t, msg, "In-Reply-To: <abc@mail>\r\n")
	assert.Contains(t, msg, "References: <abc@mail>\r\n")
	assert.Contains(t, msg, "\r\n\r\nOn it.")
}

func TestComposeMessageBracketedID(t *testing.T) {
	// An already-bracketed Message-ID is not double wrapped.
	msg := composeMessage("a@b", "c@d", "s", "body", "<abc@mail>")
	assert.Contains(t, msg, "In-Reply-To: <abc@mail>\r\n")
	assert.NotContains(t, msg, "<<")
}

func TestComposeMessageWithoutReference(t *testing.T) {
	msg := composeMessage("a@b", "c@d", "s", "body", "")
	assert.NotContains(t, msg, "In-Reply-To")
	assert.NotContains(t, msg, "References")
}
