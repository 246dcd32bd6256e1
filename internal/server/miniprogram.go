// Copyright 2025 Joseph Cumines
//
// Mini-program level tools: navigation, wx APIs, evaluation, audits

package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"github.com/joeycumines/miniprogram-mcp/internal/server/tools"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// auditPollInterval is how often getAuditOperation checks a waited-on audit.
const auditPollInterval = 200 * time.Millisecond

type miniProgramTools struct {
	sessions SessionAccessor
	ops      *OperationStore
}

func (p *miniProgramTools) Tools() []Tool {
	navigate := func(name, title, description, example string, fn func(automator.Session, context.Context, string) (automator.Page, error), verb string) Tool {
		return Tool{
			Name:        name,
			Title:       title,
			Description: description,
			InputSchema: objectSchema(map[string]any{
				"url": stringProp("Target page path, e.g. " + example),
			}, "url"),
			Handler: func(call *ToolCall) (*ToolResult, error) {
				var params struct {
					URL string `json:"url"`
				}
				if res := decodeArgs(call, &params); res != nil {
					return res, nil
				}
				return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
					page, err := fn(sess, ctx, params.URL)
					if err != nil {
						return nil, err
					}
					return textResultf("%s, current page %s", verb, pageSummary(page)), nil
				})
			},
		}
	}

	return []Tool{
		{
			Name:        "pageStack",
			Title:       "Get page stack",
			Description: "List the pages currently on the mini-program page stack with their paths and query parameters, oldest first.",
			InputSchema: objectSchema(nil),
			Handler:     p.handlePageStack,
		},
		navigate("navigateTo", "Navigate to page",
			"Keep the current page and open a non-tabBar page. The user can go back to the current page. Same as wx.navigateTo.",
			"/pages/index/index", automator.Session.NavigateTo, "Navigated"),
		navigate("redirectTo", "Redirect to page",
			"Close the current page and open a non-tabBar page. Unlike navigateTo the current page cannot be returned to. Same as wx.redirectTo.",
			"/pages/detail/detail", automator.Session.RedirectTo, "Redirected"),
		{
			Name:        "navigateBack",
			Title:       "Navigate back",
			Description: "Close the current page and return to a previous page. Same as wx.navigateBack.",
			InputSchema: objectSchema(map[string]any{
				"delta": integerProp("Number of pages to go back, defaults to 1. A delta beyond the stack depth returns to the first page"),
			}),
			Handler: p.handleNavigateBack,
		},
		navigate("reLaunch", "Relaunch to page",
			"Close all pages and open the given page. Useful for clearing the page stack, e.g. returning home after login. Same as wx.reLaunch.",
			"/pages/index/index", automator.Session.ReLaunch, "Relaunched"),
		navigate("switchTab", "Switch tab",
			"Open a tabBar page and close all non-tabBar pages. Only works for pages configured in the tabBar. Same as wx.switchTab.",
			"/pages/index/index", automator.Session.SwitchTab, "Switched tab"),
		{
			Name:        "currentPage",
			Title:       "Get current page",
			Description: "Get the path and query parameters of the page currently shown.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleCurrentPage,
		},
		{
			Name:        "systemInfo",
			Title:       "Get system info",
			Description: "Get information about the system the mini-program runs on: device brand and model, screen size, OS and WeChat versions.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleSystemInfo,
		},
		{
			Name:        "callWxMethod",
			Title:       "Call wx API",
			Description: "Call a method on the global wx object, e.g. login, getUserInfo or request, and return its result.",
			InputSchema: objectSchema(map[string]any{
				"method": stringProp("wx method name, e.g. login"),
				"args":   argsProp("Method arguments, in order"),
			}, "method"),
			Handler: p.handleCallWxMethod,
		},
		{
			Name:        "mockWxMethod",
			Title:       "Mock wx API",
			Description: "Replace the result of a method on the global wx object. Useful for faking API responses or login state in tests.",
			InputSchema: objectSchema(map[string]any{
				"method": stringProp("wx method name to mock, e.g. login"),
				"result": anyProp("Value returned to callers of the mocked method"),
			}, "method", "result"),
			Handler: p.handleMockWxMethod,
		},
		{
			Name:        "restoreWxMethod",
			Title:       "Restore wx API",
			Description: "Remove a mock installed by mockWxMethod and restore the original wx method.",
			InputSchema: objectSchema(map[string]any{
				"method": stringProp("wx method name to restore, e.g. login"),
			}, "method"),
			Handler: p.handleRestoreWxMethod,
		},
		{
			Name:        "evaluate",
			Title:       "Evaluate code",
			Description: "Run a JavaScript function in the AppService (logic layer) and return its result. Useful for reading globalData or driving complex business logic.",
			InputSchema: objectSchema(map[string]any{
				"appFunction": stringProp("JavaScript function source, e.g. () => getApp().globalData"),
				"args":        argsProp("Arguments passed to the function"),
			}, "appFunction"),
			Handler: p.handleEvaluate,
		},
		{
			Name:        "pageScrollTo",
			Title:       "Scroll page",
			Description: "Scroll the page to a vertical position. Same as wx.pageScrollTo. Useful for long pages and lazy loading.",
			InputSchema: objectSchema(map[string]any{
				"scrollTop": numberProp("Target scroll position in px"),
			}, "scrollTop"),
			Handler: p.handlePageScrollTo,
		},
		{
			Name:        "screenshot",
			Title:       "Take screenshot",
			Description: "Capture the current page as a PNG image. Only supported in the developer tool simulator.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleScreenshot,
		},
		{
			Name:        "exposeFunction",
			Title:       "Expose function",
			Description: "Expose a global function in the AppService. Calls made by the mini-program are recorded in the server log.",
			InputSchema: objectSchema(map[string]any{
				"name": stringProp("Global function name"),
			}, "name"),
			Handler: p.handleExposeFunction,
		},
		{
			Name:        "testAccounts",
			Title:       "List test accounts",
			Description: "List the users added for multi-account debugging in the developer tool.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleTestAccounts,
		},
		{
			Name:        "startAudits",
			Title:       "Start audits",
			Description: "Start an experience audit run. Returns an operation name; stopAudits completes it with the report.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleStartAudits,
		},
		{
			Name:        "stopAudits",
			Title:       "Stop audits",
			Description: "Stop the running experience audit and return its report covering performance, best practices and accessibility.",
			InputSchema: objectSchema(map[string]any{
				"path": stringProp("File the developer tool also writes the report to, e.g. ./audits.json"),
			}),
			Handler: p.handleStopAudits,
		},
		{
			Name:        "getAuditOperation",
			Title:       "Get audit operation",
			Description: "Get the state of an audit operation created by startAudits. With wait set, block until it is done or the timeout elapses.",
			InputSchema: objectSchema(map[string]any{
				"name":    stringProp("Operation name, e.g. operations/audits-<id>"),
				"wait":    map[string]any{"type": "boolean", "description": "Wait for the operation to finish"},
				"timeout": numberProp("Maximum seconds to wait, defaults to 60"),
			}, "name"),
			Handler: p.handleGetAuditOperation,
		},
		{
			Name:        "getTicket",
			Title:       "Get login ticket",
			Description: "Get the developer tool's current login ticket.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleGetTicket,
		},
	}
}

func (p *miniProgramTools) handlePageStack(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		pages, err := sess.PageStack(ctx)
		if err != nil {
			return nil, err
		}
		lines := make([]string, 0, len(pages))
		for _, page := range pages {
			lines = append(lines, pageSummary(page))
		}
		return linesResult(lines, "The page stack is empty."), nil
	})
}

func (p *miniProgramTools) handleNavigateBack(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Delta int `json:"delta"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if params.Delta < 0 {
		return errorResultf("Invalid parameters: delta must not be negative, got %d", params.Delta), nil
	}
	if params.Delta == 0 {
		params.Delta = 1
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		page, err := sess.NavigateBack(ctx, params.Delta)
		if err != nil {
			return nil, err
		}
		return textResultf("Navigated back, current page %s", pageSummary(page)), nil
	})
}

func (p *miniProgramTools) handleCurrentPage(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		page, err := sess.CurrentPage(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return textResult("No page is open."), nil
		}
		return textResultf("Current page %s", pageSummary(page)), nil
	})
}

func (p *miniProgramTools) handleSystemInfo(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		info, err := sess.SystemInfo(ctx)
		if err != nil {
			return nil, err
		}
		return textResult(formatValue(info)), nil
	})
}

func (p *miniProgramTools) handleCallWxMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Method string            `json:"method"`
		Args   []*structpb.Value `json:"args"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		result, err := sess.CallWxMethod(ctx, params.Method, params.Args)
		if err != nil {
			return nil, err
		}
		return textResult(formatValue(result)), nil
	})
}

func (p *miniProgramTools) handleMockWxMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Result *structpb.Value `json:"result"`
		Method string          `json:"method"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if err := sess.MockWxMethod(ctx, params.Method, params.Result); err != nil {
			return nil, err
		}
		return textResultf("wx.%s now returns the mocked result.", params.Method), nil
	})
}

func (p *miniProgramTools) handleRestoreWxMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Method string `json:"method"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if err := sess.RestoreWxMethod(ctx, params.Method); err != nil {
			return nil, err
		}
		return textResultf("wx.%s restored.", params.Method), nil
	})
}

func (p *miniProgramTools) handleEvaluate(call *ToolCall) (*ToolResult, error) {
	var params struct {
		AppFunction string            `json:"appFunction"`
		Args        []*structpb.Value `json:"args"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if strings.TrimSpace(params.AppFunction) == "" {
		return errorResult("Invalid parameters: appFunction is empty"), nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		result, err := sess.Evaluate(ctx, params.AppFunction, params.Args)
		if err != nil {
			return nil, err
		}
		return textResult(formatValue(result)), nil
	})
}

func (p *miniProgramTools) handlePageScrollTo(call *ToolCall) (*ToolResult, error) {
	var params struct {
		ScrollTop float64 `json:"scrollTop"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if err := sess.PageScrollTo(ctx, params.ScrollTop); err != nil {
			return nil, err
		}
		return textResultf("Page scrolled to %gpx.", params.ScrollTop), nil
	})
}

func (p *miniProgramTools) handleScreenshot(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		body, err := sess.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return imageResult(body), nil
	})
}

func (p *miniProgramTools) handleExposeFunction(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Name string `json:"name"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if params.Name == "" {
		return errorResult("Invalid parameters: name is empty"), nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if err := sess.ExposeFunction(ctx, params.Name); err != nil {
			return nil, err
		}
		return textResultf("Global function %s exposed.", params.Name), nil
	})
}

func (p *miniProgramTools) handleTestAccounts(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		accounts, err := sess.TestAccounts(ctx)
		if err != nil {
			return nil, err
		}
		lines := make([]string, 0, len(accounts))
		for _, a := range accounts {
			lines = append(lines, fmt.Sprintf("Nickname: %s, OpenID: %s", a.NickName, a.OpenID))
		}
		return linesResult(lines, "No test accounts configured."), nil
	})
}

func (p *miniProgramTools) handleStartAudits(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if err := sess.StartAudits(ctx); err != nil {
			return nil, err
		}
		op, err := p.ops.StartAudit()
		if err != nil {
			return nil, err
		}
		return textResultf("Audit started: %s\nCall stopAudits to finish it.", op.GetName()), nil
	})
}

func (p *miniProgramTools) handleStopAudits(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		report, stopErr := sess.StopAudits(ctx, params.Path)
		if len(p.ops.Pending()) > 0 {
			if _, err := p.ops.FinishAudit(report, stopErr); err != nil {
				return nil, err
			}
		}
		if stopErr != nil {
			return nil, stopErr
		}
		return textResult(formatValue(report)), nil
	})
}

func (p *miniProgramTools) handleGetAuditOperation(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Name    string  `json:"name"`
		Timeout float64 `json:"timeout"`
		Wait    bool    `json:"wait"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if !strings.HasPrefix(params.Name, auditOperationPrefix) {
		return errorResultf("Invalid parameters: name must start with %s", auditOperationPrefix), nil
	}

	ctx := call.Context()
	op, err := p.ops.GetOperation(ctx, params.Name)
	if err == nil && params.Wait && !op.GetDone() {
		timeout := 60 * time.Second
		if params.Timeout > 0 {
			timeout = time.Duration(params.Timeout * float64(time.Second))
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		// A failed or timed out poll still reports the last known state.
		if polled, _ := tools.PollUntilComplete(waitCtx, p.ops, params.Name, auditPollInterval); polled != nil {
			op = polled
		}
	}
	if op == nil {
		return toolErrorResult(err, call.Name), nil
	}

	if !op.GetDone() {
		return textResultf("Operation %s is running.", op.GetName()), nil
	}
	if opErr := op.GetError(); opErr != nil {
		return errorResultf("Operation %s failed: %s - %s", op.GetName(), codes.Code(opErr.GetCode()), opErr.GetMessage()), nil
	}
	report, err := auditReport(op)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Operation %s is done.\n%s", op.GetName(), formatValue(report)), nil
}

func (p *miniProgramTools) handleGetTicket(call *ToolCall) (*ToolResult, error) {
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		ticket, err := sess.GetTicket(ctx)
		if err != nil {
			return nil, err
		}
		if ticket == "" {
			return nil, status.Error(codes.NotFound, "the developer tool has no login ticket")
		}
		return textResultf("Login ticket: %s", ticket), nil
	})
}
