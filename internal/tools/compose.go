package tools

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/brandon/mail-engine/internal/email"
)

func messageProps() map[string]interface{} {
	return map[string]interface{}{
		"to":          stringArrayProp("Recipient addresses (array or comma-separated string)"),
		"cc":          stringArrayProp("Optional: CC recipients"),
		"bcc":         stringArrayProp("Optional: BCC recipients"),
		"subject":     prop("string", "Email subject"),
		"body_text":   prop("string", "Optional: plain text body"),
		"body_html":   prop("string", "Optional: HTML body"),
		"in_reply_to": prop("string", "Optional: Message-ID being replied to"),
		"references":  prop("string", "Optional: References of the message being replied to"),
		"attachments": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"filename":  prop("string", "File name"),
					"content":   prop("string", "Base64 encoded content"),
					"mime_type": prop("string", "Optional: content type"),
				},
				"required": []string{"filename", "content"},
			},
			"description": "Optional: files to attach",
		},
	}
}

// messageParam builds an outgoing message from tool parameters
func messageParam(params map[string]interface{}) (*email.EmailMessage, error) {
	msg := &email.EmailMessage{
		To:         stringListParam(params, "to"),
		Cc:         stringListParam(params, "cc"),
		Bcc:        stringListParam(params, "bcc"),
		Subject:    stringParam(params, "subject"),
		InReplyTo:  stringParam(params, "in_reply_to"),
		References: stringParam(params, "references"),
	}
	// bodies keep their whitespace
	msg.BodyText, _ = params["body_text"].(string)
	msg.BodyHTML, _ = params["body_html"].(string)

	items, _ := params["attachments"].([]interface{})
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("attachment %d: expected an object", i)
		}
		name := stringParam(m, "filename")
		if name == "" {
			return nil, fmt.Errorf("attachment %d: filename is required", i)
		}
		content, err := base64.StdEncoding.DecodeString(stringParam(m, "content"))
		if err != nil {
			return nil, fmt.Errorf("attachment %s: invalid base64 content: %w", name, err)
		}
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename: name,
			Content:  content,
			MimeType: stringParam(m, "mime_type"),
		})
	}
	return msg, nil
}

func composeTools(r *Registry) []Tool {
	c := r.deps.Composer

	updateProps := messageProps()
	updateProps["message_id"] = prop("string", "Message-ID of the draft to replace")

	return []Tool{
		r.newTool("send_email", "Send an email and file a copy in SENT", messageProps(), []string{"to"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				msg, err := messageParam(params)
				if err != nil {
					return nil, err
				}
				id, err := c.Send(ctx, user, msg)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"status": "sent", "message_id": id}, nil
			}),

		r.newTool("save_draft", "Save a new draft in DRAFTS", messageProps(), nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				msg, err := messageParam(params)
				if err != nil {
					return nil, err
				}
				id, err := c.SaveDraft(ctx, user, msg)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"status": "saved", "message_id": id}, nil
			}),

		r.newTool("update_draft", "Replace a draft. The draft gets a new Message-ID.", updateProps, []string{"message_id"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				msg, err := messageParam(params)
				if err != nil {
					return nil, err
				}
				id, err := c.UpdateDraft(ctx, user, stringParam(params, "message_id"), msg)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"status": "saved", "message_id": id}, nil
			}),

		r.newTool("delete_drafts", "Delete drafts by Message-ID",
			map[string]interface{}{
				"message_ids": stringArrayProp("Draft Message-IDs, with or without angle brackets"),
			}, []string{"message_ids"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				n, err := c.BulkDeleteDrafts(ctx, user, stringListParam(params, "message_ids"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": n}, nil
			}),
	}
}
