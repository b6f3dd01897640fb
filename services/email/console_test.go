package emailsvc

import (
	"bytes"
	"log"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iroils/evalapp/core"
	logsvc "github.com/iroils/evalapp/services/logger"
)

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(&bytes.Buffer{}, "", 0), conf)
	core.ParseEmailTemplates(conf, logger)
	ResetSentMessages()

	svc := NewConsoleServiceMock(conf, logger)
	svc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: "Jane Doe", Address: "jane@example.com"}},
			Subject:      "Entries assigned for evaluation",
			TemplateName: "entries_assigned",
			TemplateData: map[string]interface{}{"Name": "Jane Doe", "Institution": "mgh", "Count": 12},
		},
		&core.EmailMessage{
			To:      []mail.Address{{Address: "john@example.com"}},
			Subject: "Plain",
			BodyStr: "hello",
		},
		// no recipient: not sent
		&core.EmailMessage{Subject: "Nobody", BodyStr: "hello"},
	)

	sent := SentMessages()
	if len(sent) != 2 {
		t.Fatalf("len(SentMessages()) = %d; want 2", len(sent))
	}
	assert.Contains(t, sent[0].TextContent, "Jane Doe")
	assert.Contains(t, sent[0].TextContent, "12")
	assert.Contains(t, sent[0].HTMLContent, "mgh")
	assert.Equal(t, "hello", sent[1].TextContent)
	assert.Empty(t, sent[1].HTMLContent)
}

func TestConsoleService_SendWithAttachment(t *testing.T) {
	conf := core.NewTestConfig()
	svc := &consoleService{defaultFromEmail: conf.DefaultFromEmail, subjPrefix: "[test] ", disableOutput: true}

	msg := core.EmailMessage{To: []mail.Address{{Address: "john@example.com"}}, BodyStr: "see attached"}
	if err := msg.Attach(bytes.NewBufferString("a,b\n1,2\n"), "scores.csv", "text/csv"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := msg.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if err := svc.send(msg); err != nil {
		t.Errorf("send() error = %v", err)
	}
}
