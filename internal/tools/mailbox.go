package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/brandon/mail-engine/pkg/types"
)

func pagingProps(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"page": prop("integer", "Optional: zero-based page number, newest first (default: 0)"),
		"size": prop("integer", "Optional: page size (default and maximum come from configuration)"),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func paging(params map[string]interface{}) (int, int, error) {
	page, err := intParam(params, "page", 0)
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(params, "size", 0)
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func mailboxTools(r *Registry) []Tool {
	svc := r.deps.Service
	folderProp := prop("string", "Optional: folder name such as INBOX, SENT, DRAFTS, TRASH, STARRED, IMPORTANT, SPAM or a server folder (default: INBOX)")

	return []Tool{
		r.newTool("list_folders", "List the account's folders with message counts", nil, nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				return svc.ListFolders(ctx, user)
			}),

		r.newTool("list_emails", "List one page of email headers in a folder, newest first",
			pagingProps(map[string]interface{}{"folder": folderProp}), nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				page, size, err := paging(params)
				if err != nil {
					return nil, err
				}
				return svc.ListPage(ctx, user, stringParam(params, "folder"), page, size)
			}),

		r.newTool("list_conversations", "List one page of conversations in a folder, most recent activity first",
			pagingProps(map[string]interface{}{"folder": folderProp}), nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				page, size, err := paging(params)
				if err != nil {
					return nil, err
				}
				return svc.ListConversations(ctx, user, stringParam(params, "folder"), page, size)
			}),

		r.newTool("get_conversation", "Get every message of a conversation across standard folders, oldest first",
			map[string]interface{}{
				"thread_id": prop("string", "Conversation id from list_conversations"),
			}, []string{"thread_id"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				return svc.GetConversation(ctx, user, stringParam(params, "thread_id"))
			}),

		r.newTool("search_emails",
			"Search a folder. Query terms are field:value pairs (from, to, subject, body) or free text matching subject or body; quote values with spaces",
			pagingProps(map[string]interface{}{
				"query":  prop("string", "Search query, e.g. from:alice subject:\"weekly report\" budget"),
				"folder": folderProp,
			}), nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				page, size, err := paging(params)
				if err != nil {
					return nil, err
				}
				return svc.Search(ctx, user, stringParam(params, "query"), stringParam(params, "folder"), page, size)
			}),

		r.newTool("get_email", "Get a single email with its decoded body by Message-ID",
			map[string]interface{}{
				"message_id": prop("string", "Message-ID, with or without angle brackets"),
				"folder":     prop("string", "Optional: folder to look in (default: DRAFTS, then every standard folder)"),
			}, []string{"message_id"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				return svc.GetDetail(ctx, user, stringParam(params, "message_id"), stringParam(params, "folder"))
			}),

		r.newTool("perform_actions",
			"Apply an action to conversations: MARK_AS_READ, MARK_AS_UNREAD, DELETE, ARCHIVE, STAR, UNSTAR, MARK_IMPORTANT, UNMARK_IMPORTANT, MOVE_TO_SPAM, MOVE_TO_INBOX, MOVE_TO_TRASH, APPLY_LABEL or REMOVE_LABEL. Label actions take message uids instead of thread ids.",
			map[string]interface{}{
				"action":     prop("string", "Action name"),
				"thread_ids": stringArrayProp("Conversation ids, or message uids for label actions"),
				"label_id":   prop("integer", "Label id, required for label actions"),
				"folder":     prop("string", "Optional: limit to one folder; required for label actions"),
			}, []string{"action", "thread_ids"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				action, err := types.ParseAction(stringParam(params, "action"))
				if err != nil {
					return nil, err
				}
				labelID, err := intParam(params, "label_id", 0)
				if err != nil {
					return nil, err
				}
				return svc.PerformActions(ctx, user, types.ActionRequest{
					Action:    action,
					ThreadIDs: stringListParam(params, "thread_ids"),
					LabelID:   int64(labelID),
					Folder:    stringParam(params, "folder"),
				})
			}),

		r.newTool("export_conversation", "Export a conversation as an mbox document",
			map[string]interface{}{
				"thread_id": prop("string", "Conversation id from list_conversations"),
			}, []string{"thread_id"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				var buf bytes.Buffer
				n, err := svc.ExportConversation(ctx, user, stringParam(params, "thread_id"), &buf)
				if err != nil {
					return nil, fmt.Errorf("failed to export conversation: %w", err)
				}
				return map[string]interface{}{
					"message_count": n,
					"mbox":          buf.String(),
				}, nil
			}),
	}
}
