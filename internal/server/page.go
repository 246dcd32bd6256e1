// Copyright 2025 Joseph Cumines
//
// Page level tools

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"github.com/joeycumines/miniprogram-mcp/internal/server/tools"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// defaultWaitTimeout bounds waitFor when it polls for a selector.
const defaultWaitTimeout = 5 * time.Second

// maxWaitMillis is the largest millisecond count a time.Duration can hold.
const maxWaitMillis = float64(math.MaxInt64 / int64(time.Millisecond))

type pageTools struct {
	sessions SessionAccessor
}

func (p *pageTools) Tools() []Tool {
	return []Tool{
		{
			Name:        "getElement",
			Title:       "Get element",
			Description: "Get the first element on the current page matching a selector and report its tag name.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector, e.g. .classname, #id or view"),
			}, "selector"),
			Handler: p.handleGetElement,
		},
		{
			Name:        "getElements",
			Title:       "Get elements",
			Description: "Get every element on the current page matching a selector. Useful for list items or counting elements of one kind.",
			InputSchema: objectSchema(map[string]any{
				"selector": stringProp("CSS selector, e.g. .list-item or view"),
			}, "selector"),
			Handler: p.handleGetElements,
		},
		{
			Name:        "waitFor",
			Title:       "Wait for condition",
			Description: "Wait until a selector matches on the current page, or for a number of milliseconds. Useful for asynchronous rendering, animations or data loading.",
			InputSchema: objectSchema(map[string]any{
				"condition": anyProp("A selector string to wait for, or a number of milliseconds to sleep"),
				"timeout":   numberProp("Milliseconds to wait for a selector before failing, defaults to 5000"),
			}, "condition"),
			Handler: p.handleWaitFor,
		},
		{
			Name:        "getPageData",
			Title:       "Get page data",
			Description: "Get the data of the current page instance, as used by the view layer. Useful for verifying page state or data binding.",
			InputSchema: objectSchema(map[string]any{
				"path": stringProp("Data path to read, e.g. list[0].name. Reads all data when empty"),
			}),
			Handler: p.handleGetPageData,
		},
		{
			Name:        "setPageData",
			Title:       "Set page data",
			Description: "Set data on the current page instance, triggering a re-render. Useful for data driven tests or faking user input.",
			InputSchema: objectSchema(map[string]any{
				"data": dataProp("Data to merge into the page, same as this.setData"),
			}, "data"),
			Handler: p.handleSetPageData,
		},
		{
			Name:        "getPageSize",
			Title:       "Get page size",
			Description: "Get the width and height of the current page in px.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleGetPageSize,
		},
		{
			Name:        "getScrollTop",
			Title:       "Get scroll position",
			Description: "Get the vertical scroll position of the current page in px.",
			InputSchema: objectSchema(nil),
			Handler:     p.handleGetScrollTop,
		},
		{
			Name:        "callPageMethod",
			Title:       "Call page method",
			Description: "Call a method defined on the current page instance, such as a lifecycle hook or a custom handler.",
			InputSchema: objectSchema(map[string]any{
				"method": stringProp("Page method name"),
				"args":   argsProp("Method arguments, in order"),
			}, "method"),
			Handler: p.handleCallPageMethod,
		},
	}
}

func (p *pageTools) handleGetElement(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Selector string `json:"selector"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		el, err := page.Element(ctx, params.Selector)
		if err != nil {
			return nil, err
		}
		if el == nil {
			return nil, errElementNotFound(params.Selector)
		}
		return textResultf("Element tag: %s", el.TagName()), nil
	})
}

func (p *pageTools) handleGetElements(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Selector string `json:"selector"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		els, err := page.Elements(ctx, params.Selector)
		if err != nil {
			return nil, err
		}
		lines := make([]string, 0, len(els))
		for _, el := range els {
			lines = append(lines, "Element tag: "+el.TagName())
		}
		return linesResult(lines, fmt.Sprintf("No elements match %s.", params.Selector)), nil
	})
}

func (p *pageTools) handleWaitFor(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Condition json.RawMessage `json:"condition"`
		Timeout   float64         `json:"timeout"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}

	var (
		selector string
		millis   float64
	)
	switch {
	case json.Unmarshal(params.Condition, &selector) == nil && selector != "":
	case json.Unmarshal(params.Condition, &millis) == nil && millis >= 0 && millis <= maxWaitMillis:
	default:
		return errorResult("Invalid parameters: condition must be a non-empty selector or a non-negative number of milliseconds"), nil
	}
	if params.Timeout < 0 || params.Timeout > maxWaitMillis {
		return errorResult("Invalid parameters: timeout must be a non-negative number of milliseconds"), nil
	}

	if selector == "" {
		return withPage(call, p.sessions, func(ctx context.Context, _ automator.Page) (*ToolResult, error) {
			timer := time.NewTimer(time.Duration(millis * float64(time.Millisecond)))
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, status.FromContextError(ctx.Err()).Err()
			case <-timer.C:
			}
			return textResultf("Waited %gms.", millis), nil
		})
	}

	timeout := defaultWaitTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout * float64(time.Millisecond))
	}
	return withSession(call, p.sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		if _, err := currentPage(ctx, sess); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// page-level failures end the wait with their own reason
		var pageErr error
		err := tools.WaitForElement(ctx, func(ctx context.Context) (bool, error) {
			page, err := currentPage(ctx, sess)
			if err != nil {
				if errorReason(err) != "" {
					pageErr = err
					cancel()
				}
				return false, err
			}
			el, err := page.Element(ctx, selector)
			return el != nil, err
		}, timeout)
		if pageErr != nil {
			return nil, pageErr
		}
		if err != nil {
			return nil, status.Errorf(codes.DeadlineExceeded, "%s did not appear within %s: %v", selector, timeout, err)
		}
		return textResultf("Condition met: %s is present.", selector), nil
	})
}

func (p *pageTools) handleGetPageData(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		data, err := page.Data(ctx, params.Path)
		if err != nil {
			return nil, err
		}
		return textResult(formatValue(data)), nil
	})
}

func (p *pageTools) handleSetPageData(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Data *structpb.Struct `json:"data"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if params.Data == nil {
		return errorResult("Invalid parameters: data must be an object"), nil
	}
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		if err := page.SetData(ctx, params.Data); err != nil {
			return nil, err
		}
		return textResult("Page data set."), nil
	})
}

func (p *pageTools) handleGetPageSize(call *ToolCall) (*ToolResult, error) {
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		size, err := page.Size(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Page width: %gpx, page height: %gpx", size.Width, size.Height), nil
	})
}

func (p *pageTools) handleGetScrollTop(call *ToolCall) (*ToolResult, error) {
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		top, err := page.ScrollTop(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Scroll top: %gpx", top), nil
	})
}

func (p *pageTools) handleCallPageMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Method string            `json:"method"`
		Args   []*structpb.Value `json:"args"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	return withPage(call, p.sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		result, err := page.CallMethod(ctx, params.Method, params.Args)
		if err != nil {
			return nil, err
		}
		return textResultf("Result: %s", compactValue(result)), nil
	})
}
