package types

import "time"

// EmailHeader is the lightweight projection of a message used by list views
type EmailHeader struct {
	MessageID      string    `json:"message_id"`
	UID            uint32    `json:"uid"`
	SeqNum         uint32    `json:"seq_num"`
	Folder         string    `json:"folder"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Date           time.Time `json:"date"`
	Unread         bool      `json:"unread"`
	HasAttachments bool      `json:"has_attachments"`
	Preview        string    `json:"preview"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	References     string    `json:"references,omitempty"`

	// HeaderMessageID is the Message-ID header as sent, empty when absent.
	HeaderMessageID string `json:"-"`
}

// EmailDetail is an EmailHeader with recipients and decoded bodies
type EmailDetail struct {
	EmailHeader
	To          []string         `json:"to"`
	Cc          []string         `json:"cc"`
	Bcc         []string         `json:"bcc"`
	TextContent string           `json:"text_content"`
	HTMLContent string           `json:"html_content"`
	Attachments []AttachmentInfo `json:"attachments,omitempty"`
}

// AttachmentInfo describes an attachment without its content
type AttachmentInfo struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Conversation groups messages sharing a thread id
type Conversation struct {
	ThreadID        string         `json:"thread_id"`
	Subject         string         `json:"subject"`
	Participants    []string       `json:"participants"`
	Unread          bool           `json:"unread"`
	HasAttachments  bool           `json:"has_attachments"`
	Preview         string         `json:"preview"`
	LastMessageDate time.Time      `json:"last_message_date"`
	MessageCount    int            `json:"message_count"`
	Messages        []*EmailHeader `json:"messages,omitempty"`
	Details         []*EmailDetail `json:"details,omitempty"`
}

// PageResult is one page of a folder listing
type PageResult struct {
	Emails     []*EmailHeader `json:"emails"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
	HasMore    bool           `json:"has_more"`
}

// ConversationPage is one page of a conversation listing
type ConversationPage struct {
	Conversations []*Conversation `json:"conversations"`
	TotalCount    int             `json:"total_count"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	HasMore       bool            `json:"has_more"`
}

// SearchResult is one page of search matches
type SearchResult struct {
	Emails     []*EmailHeader `json:"emails"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
}

// Folder represents a server mailbox
type Folder struct {
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
}
