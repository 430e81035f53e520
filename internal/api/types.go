package api

// AddressKey maps a mailbox address to its account box key (hex).
type AddressKey struct {
	Address    string `json:"address"`
	AccountKey string `json:"account_key"`
}

// EncryptedMessage is one sealed envelope addressed to an account key.
type EncryptedMessage struct {
	AccountKey string `json:"account_key"`
	Msg        string `json:"msg"`
}

// InboundMessage is a sealed envelope waiting in the mailbox.
type InboundMessage struct {
	ID  string `json:"_id"`
	Msg string `json:"msg"`
}

// MailAddress is a display name plus address.
type MailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// ExternalAttachment carries inline base64 content.
type ExternalAttachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// ExternalEmail is a cleartext message relayed to non-capable recipients.
// Recipients are the delivery targets; To and Cc are display headers.
type ExternalEmail struct {
	Recipients  []string             `json:"recipients"`
	To          []MailAddress        `json:"to"`
	Cc          []MailAddress        `json:"cc,omitempty"`
	Bcc         []MailAddress        `json:"bcc,omitempty"`
	From        []MailAddress        `json:"from"`
	Subject     string               `json:"subject"`
	TextBody    string               `json:"text_body"`
	HTMLBody    string               `json:"html_body"`
	Attachments []ExternalAttachment `json:"attachments"`
}

type markSyncedRequest struct {
	MsgIDs []string `json:"msg_ids"`
}
