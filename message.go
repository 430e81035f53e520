package sealmail

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Address is a display name plus mailbox address.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String formats the address as an RFC 5322 mailbox.
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// ParseAddressList parses a comma separated RFC 5322 address list.
func ParseAddressList(s string) ([]Address, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, &ValidationError{Field: "address", Errors: []string{err.Error()}, Err: err}
	}
	out := make([]Address, len(list))
	for i, a := range list {
		out[i] = Address{Name: a.Name, Address: a.Address}
	}
	return out, nil
}

// Attachment is inline message content.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content,omitempty"`
}

// Message is an outgoing mail. Its serialized form is what gets stored
// encrypted; Bcc is always removed before that.
type Message struct {
	ID          string       `json:"id,omitempty"`
	From        []Address    `json:"from"`
	To          []Address    `json:"to"`
	Cc          []Address    `json:"cc,omitempty"`
	Bcc         []Address    `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Date        time.Time    `json:"date"`
}

// Validate checks that the message has a sender and at least one recipient.
func (m *Message) Validate() error {
	if m == nil {
		return &ValidationError{Field: "message", Errors: []string{"nil message"}}
	}
	var errs []string
	if len(m.From) == 0 {
		errs = append(errs, "from is required")
	}
	if len(m.To)+len(m.Cc)+len(m.Bcc) == 0 {
		errs = append(errs, "at least one recipient is required")
	}
	for i, a := range m.From {
		if _, err := mail.ParseAddress(a.Address); err != nil {
			errs = append(errs, fmt.Sprintf("from[%d]: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Field: "message", Errors: errs}
	}
	return nil
}

// WithoutBcc returns a shallow copy with Bcc removed.
func (m *Message) WithoutBcc() *Message {
	out := *m
	out.Bcc = nil
	return &out
}

func (m *Message) external(recipients []string) *ExternalMail {
	return &ExternalMail{
		Recipients:  recipients,
		From:        m.From,
		To:          m.To,
		Cc:          m.Cc,
		Subject:     m.Subject,
		TextBody:    m.TextBody,
		HTMLBody:    m.HTMLBody,
		Attachments: m.Attachments,
	}
}

func (m *Message) withID(id string) *Message {
	out := *m
	out.ID = id
	return &out
}
