package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jmerrifield20/expose/pkg/cite"
)

// Exposer is the slice of *expose.Service the tools call.
type Exposer interface {
	List(ctx context.Context) ([]string, error)
	IsExposed(ctx context.Context, addr string) (bool, error)
	Expose(ctx context.Context, addr string) error
	Hide(ctx context.Context, addr string) error
	SetEagerMode(ctx context.Context, enabled bool) error
	PublicURL(addr string) (string, error)
}

const addressHelp = "Post address: kind/~host/channel/post-id (kind is chat, diary or heap) " +
	"or a full cite path /1/chan/<kind>/~host/channel/<msg|note|curio>/post-id"

func ok(text string) *mcp.CallToolResult { return mcp.NewToolResultText(text) }
func fail(text string) *mcp.CallToolResult {
	return mcp.NewToolResultError(text)
}
func failf(format string, a ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, a...))
}

// ToolRegistry holds the expose service and the definitions/handlers for all tools.
type ToolRegistry struct {
	svc      Exposer
	readOnly bool
}

// NewToolRegistry creates a ToolRegistry backed by svc. A read-only registry
// leaves out the tools that change what is exposed.
func NewToolRegistry(svc Exposer, readOnly bool) *ToolRegistry {
	return &ToolRegistry{svc: svc, readOnly: readOnly}
}

// Names lists the registered tool names.
func (r *ToolRegistry) Names() []string {
	var names []string
	for _, t := range r.tools() {
		names = append(names, t.Tool.Name)
	}
	return names
}

// Register adds every tool to s.
func (r *ToolRegistry) Register(s *server.MCPServer) {
	s.AddTools(r.tools()...)
}

func (r *ToolRegistry) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_exposed",
				mcp.WithDescription("List every post this ship currently publishes on the clearweb, "+
					"as cite paths with their public URLs."),
			),
			Handler: r.listExposed,
		},
		{
			Tool: mcp.NewTool("check_exposed",
				mcp.WithDescription("Check whether a single post is currently exposed on the clearweb."),
				mcp.WithString("address", mcp.Required(), mcp.Description(addressHelp)),
			),
			Handler: r.checkExposed,
		},
		{
			Tool: mcp.NewTool("exposed_url",
				mcp.WithDescription("Compute the public URL a post is (or would be) served at. "+
					"Does not contact the ship and does not expose anything."),
				mcp.WithString("address", mcp.Required(), mcp.Description(addressHelp)),
			),
			Handler: r.exposedURL,
		},
	}
	if r.readOnly {
		return tools
	}
	return append(tools,
		server.ServerTool{
			Tool: mcp.NewTool("expose_post",
				mcp.WithDescription("Publish a post on the clearweb. Anyone with the returned URL can read it."),
				mcp.WithString("address", mcp.Required(), mcp.Description(addressHelp)),
			),
			Handler: r.exposePost,
		},
		server.ServerTool{
			Tool: mcp.NewTool("hide_post",
				mcp.WithDescription("Withdraw a previously exposed post from the clearweb."),
				mcp.WithString("address", mcp.Required(), mcp.Description(addressHelp)),
			),
			Handler: r.hidePost,
		},
		server.ServerTool{
			Tool: mcp.NewTool("set_eager_mode",
				mcp.WithDescription("Toggle whether the expose agent pre-fetches pinned posts from "+
					"other ships to prime its cache."),
				mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("true to enable, false to disable")),
			),
			Handler: r.setEagerMode,
		},
	)
}

// ── tool handlers ────────────────────────────────────────────────────────────

func (r *ToolRegistry) listExposed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := r.svc.List(ctx)
	if err != nil {
		return failf("list exposed failed: %v", err), nil
	}
	if len(paths) == 0 {
		return ok("Nothing is exposed."), nil
	}

	type row struct {
		Cite string `json:"cite"`
		URL  string `json:"url,omitempty"`
	}
	rows := make([]row, len(paths))
	for i, p := range paths {
		rows[i] = row{Cite: p}
		if cite.IsCanonical(p) {
			rows[i].URL, _ = r.svc.PublicURL(p)
		}
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	return ok(string(out)), nil
}

func (r *ToolRegistry) checkExposed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := req.RequireString("address")
	if err != nil {
		return fail(err.Error()), nil
	}
	exposed, err := r.svc.IsExposed(ctx, addr)
	if err != nil {
		return failf("check failed: %v", err), nil
	}
	canonical, _ := cite.ToCanonical(addr)
	if exposed {
		u, _ := r.svc.PublicURL(addr)
		return ok(strings.TrimSpace(fmt.Sprintf("%s is exposed %s", canonical, u))), nil
	}
	return ok(fmt.Sprintf("%s is not exposed", canonical)), nil
}

func (r *ToolRegistry) exposedURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := req.RequireString("address")
	if err != nil {
		return fail(err.Error()), nil
	}
	u, err := r.svc.PublicURL(addr)
	if err != nil {
		return failf("%v", err), nil
	}
	return ok(u), nil
}

func (r *ToolRegistry) exposePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := req.RequireString("address")
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := r.svc.Expose(ctx, addr); err != nil {
		return failf("expose failed: %v", err), nil
	}
	u, _ := r.svc.PublicURL(addr)
	return ok(strings.TrimSpace("Exposed " + u)), nil
}

func (r *ToolRegistry) hidePost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := req.RequireString("address")
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := r.svc.Hide(ctx, addr); err != nil {
		return failf("hide failed: %v", err), nil
	}
	canonical, _ := cite.ToCanonical(addr)
	return ok("Hidden " + canonical), nil
}

func (r *ToolRegistry) setEagerMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := r.svc.SetEagerMode(ctx, enabled); err != nil {
		return failf("set eager mode failed: %v", err), nil
	}
	if enabled {
		return ok("Eager mode on"), nil
	}
	return ok("Eager mode off"), nil
}
