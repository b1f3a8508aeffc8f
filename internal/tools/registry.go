package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/internal/config"
	"github.com/brandon/mail-engine/internal/email"
	"github.com/brandon/mail-engine/internal/notify"
	"github.com/brandon/mail-engine/internal/store"
)

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// Deps are the engine components the tools call into. Any of them may be
// nil, in which case the tools that need it are not registered.
type Deps struct {
	Config   *config.Config
	Service  *email.Service
	Composer *email.Composer
	Store    *store.Store
	Hub      *notify.Hub
}

// Registry manages MCP tools
type Registry struct {
	deps   Deps
	logger *logrus.Logger
	tools  map[string]Tool
}

// NewRegistry creates a new tool registry
func NewRegistry(deps Deps, logger *logrus.Logger) *Registry {
	reg := &Registry{
		deps:   deps,
		logger: logger,
		tools:  make(map[string]Tool),
	}
	reg.registerTools()
	return reg
}

func (r *Registry) registerTools() {
	var toolList []Tool
	if r.deps.Service != nil {
		toolList = append(toolList, mailboxTools(r)...)
	}
	if r.deps.Composer != nil {
		toolList = append(toolList, composeTools(r)...)
	}
	if r.deps.Store != nil {
		toolList = append(toolList, labelTools(r)...)
		toolList = append(toolList, r.suggestContactsTool())
	}
	if r.deps.Hub != nil {
		toolList = append(toolList, r.notificationsTool())
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}
	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name() < tools[j].Name()
	})
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

// funcTool adapts a function into a Tool
type funcTool struct {
	name        string
	description string
	properties  map[string]interface{}
	required    []string
	run         func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error)
	registry    *Registry
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }

// InputSchema returns the JSON schema for tool inputs. Every tool accepts
// an optional account.
func (t *funcTool) InputSchema() map[string]interface{} {
	properties := map[string]interface{}{
		"account": prop("string", "Optional: account name or email address (default: the default account)"),
	}
	for k, v := range t.properties {
		properties[k] = v
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(t.required) > 0 {
		schema["required"] = t.required
	}
	return schema
}

// Execute resolves the account and runs the tool
func (t *funcTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	for _, name := range t.required {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	user, err := t.registry.resolveUser(stringParam(params, "account"))
	if err != nil {
		return nil, err
	}

	log := t.registry.logger.WithField("tool", t.name)
	result, err := t.run(ctx, user, params)
	if err != nil {
		log.WithError(err).Debug("Tool failed")
		return nil, userError(err)
	}
	return result, nil
}

func (r *Registry) newTool(name, description string, properties map[string]interface{}, required []string,
	run func(ctx context.Context, user string, params map[string]interface{}) (interface{}, error)) Tool {
	return &funcTool{
		name:        name,
		description: description,
		properties:  properties,
		required:    required,
		run:         run,
		registry:    r,
	}
}

// resolveUser maps the account parameter to the mailbox user
func (r *Registry) resolveUser(account string) (string, error) {
	cfg := r.deps.Config
	if account == "" {
		if cfg == nil || cfg.GetDefaultAccount() == nil {
			return "", fmt.Errorf("account is required")
		}
		return cfg.GetDefaultAccount().IMAPUsername, nil
	}
	if cfg != nil {
		if acc, err := cfg.GetAccountByName(account); err == nil {
			return acc.IMAPUsername, nil
		}
	}
	if strings.Contains(account, "@") {
		return account, nil
	}
	return "", fmt.Errorf("account not found: %s", account)
}
