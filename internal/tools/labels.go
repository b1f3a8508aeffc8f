package tools

import (
	"context"
	"fmt"
)

func labelTools(r *Registry) []Tool {
	st := r.deps.Store

	return []Tool{
		r.newTool("list_labels", "List the account's labels", nil, nil,
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				return st.ListLabels(ctx, user)
			}),

		r.newTool("create_label", "Create a label",
			map[string]interface{}{
				"name":  prop("string", "Label name, unique per account"),
				"color": prop("string", "Optional: display color such as #4285f4"),
			}, []string{"name"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				return st.CreateLabel(ctx, user, stringParam(params, "name"), stringParam(params, "color"))
			}),

		r.newTool("delete_label", "Delete a label and detach it from every message",
			map[string]interface{}{
				"label_id": prop("integer", "Label id"),
			}, []string{"label_id"},
			func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
				id, err := intParam(params, "label_id", 0)
				if err != nil {
					return nil, err
				}
				if id <= 0 {
					return nil, fmt.Errorf("invalid label_id: %d", id)
				}
				if err := st.DeleteLabel(ctx, user, int64(id)); err != nil {
					return nil, err
				}
				return map[string]interface{}{"status": "deleted", "label_id": id}, nil
			}),
	}
}

func (r *Registry) suggestContactsTool() Tool {
	st := r.deps.Store
	return r.newTool("suggest_contacts", "Suggest recipient addresses matching a typed prefix, most frequent first",
		map[string]interface{}{
			"query": prop("string", "Optional: prefix of a name or address; blank lists top contacts"),
		}, nil,
		func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
			return st.Suggestions(ctx, user, stringParam(params, "query"))
		})
}

func (r *Registry) notificationsTool() Tool {
	hub := r.deps.Hub
	return r.newTool("get_notifications", "Return and clear the account's pending mailbox notifications", nil, nil,
		func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error) {
			return hub.Drain(user), nil
		})
}
