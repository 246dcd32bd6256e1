// Copyright 2025 Joseph Cumines
//
// Element tool handlers

package server

import (
	"context"
	"fmt"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"google.golang.org/protobuf/types/known/structpb"
)

type elementTools struct {
	sessions SessionAccessor
}

// selectorArgs is embedded by every element tool's parameters.
type selectorArgs struct {
	Selector string `json:"selector"`
}

func (a *selectorArgs) target() string { return a.Selector }

type elementArgs interface {
	target() string
}

// touchArgs accepts changeTouches as an alias of changedTouches.
type touchArgs struct {
	selectorArgs
	Touches        []automator.Touch `json:"touches"`
	ChangedTouches []automator.Touch `json:"changedTouches"`
	ChangeTouches  []automator.Touch `json:"changeTouches"`
}

func (a *touchArgs) event() automator.TouchEvent {
	changed := a.ChangedTouches
	if changed == nil {
		changed = a.ChangeTouches
	}
	if changed == nil {
		changed = []automator.Touch{}
	}
	touches := a.Touches
	if touches == nil {
		touches = []automator.Touch{}
	}
	return automator.TouchEvent{Touches: touches, ChangedTouches: changed}
}

// run decodes params and resolves its selector on the current page before calling fn.
func (p *elementTools) run(call *ToolCall, params elementArgs, fn func(ctx context.Context, el automator.Element) (*ToolResult, error)) (*ToolResult, error) {
	if res := decodeArgs(call, params); res != nil {
		return res, nil
	}
	return withElement(call, p.sessions, params.target(), fn)
}

// capable narrows el to the component interface T.
func capable[T automator.Element](el automator.Element, kind, action string) (T, error) {
	c, ok := el.(T)
	if !ok {
		var zero T
		return zero, errNotCapable(el.TagName(), kind, action)
	}
	return c, nil
}

func (p *elementTools) Tools() []Tool {
	selectorOnly := objectSchema(map[string]any{"selector": selectorProp()}, "selector")
	withSelector := func(props map[string]any, required ...string) map[string]any {
		props["selector"] = selectorProp()
		return objectSchema(props, append([]string{"selector"}, required...)...)
	}
	touchSchema := func() map[string]any {
		return withSelector(map[string]any{
			"touches":        touchesProp("Touch points currently on the screen"),
			"changedTouches": touchesProp("Touch points that changed in this event, changeTouches is accepted too"),
		}, "touches")
	}

	return []Tool{
		{
			Name:        "getElementChild",
			Title:       "Get child element",
			Description: "Get the first element matching a child selector inside the given element.",
			InputSchema: withSelector(map[string]any{
				"childSelector": stringProp("Selector resolved inside the element"),
			}, "childSelector"),
			Handler: p.handleGetElementChild,
		},
		{
			Name:        "getElementSize",
			Title:       "Get element size",
			Description: "Get the width and height of an element in px.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementSize,
		},
		{
			Name:        "getElementOffset",
			Title:       "Get element offset",
			Description: "Get the position of an element relative to the top left of the page in px.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementOffset,
		},
		{
			Name:        "getElementText",
			Title:       "Get element text",
			Description: "Get the text content of an element.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementText,
		},
		{
			Name:        "getElementAttribute",
			Title:       "Get element attribute",
			Description: "Get an attribute of an element, such as id, class, src or disabled.",
			InputSchema: withSelector(map[string]any{"name": stringProp("Attribute name")}, "name"),
			Handler:     p.handleGetElementAttribute,
		},
		{
			Name:        "getElementProperty",
			Title:       "Get element property",
			Description: "Get a property of an element, such as the value of an input or the checked state of a checkbox.",
			InputSchema: withSelector(map[string]any{"name": stringProp("Property name")}, "name"),
			Handler:     p.handleGetElementProperty,
		},
		{
			Name:        "getElementWxml",
			Title:       "Get element WXML",
			Description: "Get the WXML of an element's children, excluding the element itself.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementWxml,
		},
		{
			Name:        "getElementOuterWxml",
			Title:       "Get element outer WXML",
			Description: "Get the WXML of an element including the element itself.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementOuterWxml,
		},
		{
			Name:        "getElementValue",
			Title:       "Get element value",
			Description: "Get the value of a form element, such as the text of an input or the state of a switch.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetElementValue,
		},
		{
			Name:        "getElementStyle",
			Title:       "Get element style",
			Description: "Get a computed style value of an element, such as color, font-size or display.",
			InputSchema: withSelector(map[string]any{"name": stringProp("Style property name")}, "name"),
			Handler:     p.handleGetElementStyle,
		},
		{
			Name:        "tapElement",
			Title:       "Tap element",
			Description: "Tap an element, as a user would tap a button or link.",
			InputSchema: selectorOnly,
			Handler:     p.handleTapElement,
		},
		{
			Name:        "longpressElement",
			Title:       "Long press element",
			Description: "Long press an element. Useful for context menus and long press feedback.",
			InputSchema: selectorOnly,
			Handler:     p.handleLongpressElement,
		},
		{
			Name:        "touchstartElement",
			Title:       "Touch start",
			Description: "Start a touch on an element. Use with touchmoveElement and touchendElement for gestures and dragging.",
			InputSchema: touchSchema(),
			Handler:     p.touchHandler("touchstart", automator.Element.Touchstart),
		},
		{
			Name:        "touchmoveElement",
			Title:       "Touch move",
			Description: "Move a touch on an element. Use between touchstartElement and touchendElement.",
			InputSchema: touchSchema(),
			Handler:     p.touchHandler("touchmove", automator.Element.Touchmove),
		},
		{
			Name:        "touchendElement",
			Title:       "Touch end",
			Description: "End a touch on an element, completing a touch sequence.",
			InputSchema: touchSchema(),
			Handler:     p.touchHandler("touchend", automator.Element.Touchend),
		},
		{
			Name:        "triggerElement",
			Title:       "Trigger event",
			Description: "Trigger an event such as input, change, focus or blur on an element. User gestures need tapElement or longpressElement instead.",
			InputSchema: withSelector(map[string]any{
				"type":   stringProp("Event type"),
				"detail": dataProp("Event detail"),
			}, "type"),
			Handler: p.handleTriggerElement,
		},
		{
			Name:        "inputElement",
			Title:       "Input text",
			Description: "Enter text into an input or textarea element.",
			InputSchema: withSelector(map[string]any{"value": stringProp("Text to enter")}, "value"),
			Handler:     p.handleInputElement,
		},
		{
			Name:        "callElementMethod",
			Title:       "Call component method",
			Description: "Call a method on a custom component instance. Built-in components such as view or text are not supported.",
			InputSchema: withSelector(map[string]any{
				"method": stringProp("Component method name"),
				"args":   argsProp("Method arguments, in order"),
			}, "method"),
			Handler: p.handleCallElementMethod,
		},
		{
			Name:        "getElementData",
			Title:       "Get component data",
			Description: "Get the data of a custom component instance.",
			InputSchema: withSelector(map[string]any{
				"path": stringProp("Data path to read. Reads all data when empty"),
			}),
			Handler: p.handleGetElementData,
		},
		{
			Name:        "setElementData",
			Title:       "Set component data",
			Description: "Set data on a custom component instance, triggering a re-render.",
			InputSchema: withSelector(map[string]any{"data": dataProp("Data to merge into the component")}, "data"),
			Handler:     p.handleSetElementData,
		},
		{
			Name:        "callContextMethod",
			Title:       "Call video context method",
			Description: "Call a method of a video component's context, such as play, pause or seek.",
			InputSchema: withSelector(map[string]any{
				"method": stringProp("Context method name"),
				"args":   argsProp("Method arguments, in order"),
			}, "method"),
			Handler: p.handleCallContextMethod,
		},
		{
			Name:        "getScrollWidth",
			Title:       "Get scroll width",
			Description: "Get the scrollable content width of a scroll-view in px.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetScrollWidth,
		},
		{
			Name:        "getScrollHeight",
			Title:       "Get scroll height",
			Description: "Get the scrollable content height of a scroll-view in px.",
			InputSchema: selectorOnly,
			Handler:     p.handleGetScrollHeight,
		},
		{
			Name:        "scrollTo",
			Title:       "Scroll scroll-view",
			Description: "Scroll a scroll-view to the given position.",
			InputSchema: withSelector(map[string]any{
				"x": numberProp("Horizontal position in px"),
				"y": numberProp("Vertical position in px"),
			}, "x", "y"),
			Handler: p.handleScrollTo,
		},
		{
			Name:        "swipeTo",
			Title:       "Swipe swiper",
			Description: "Switch a swiper to the slide at the given index.",
			InputSchema: withSelector(map[string]any{"index": integerProp("Slide index, starting at 0")}, "index"),
			Handler:     p.handleSwipeTo,
		},
		{
			Name:        "moveTo",
			Title:       "Move movable-view",
			Description: "Move a movable-view to the given position.",
			InputSchema: withSelector(map[string]any{
				"x": numberProp("Horizontal position in px"),
				"y": numberProp("Vertical position in px"),
			}, "x", "y"),
			Handler: p.handleMoveTo,
		},
	}
}

func (p *elementTools) handleGetElementChild(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		ChildSelector string `json:"childSelector"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		child, err := resolveElement(ctx, el, params.ChildSelector)
		if err != nil {
			return nil, err
		}
		return textResultf("Child element tag: %s", child.TagName()), nil
	})
}

func (p *elementTools) handleGetElementSize(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		size, err := el.Size(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element width: %gpx, element height: %gpx", size.Width, size.Height), nil
	})
}

func (p *elementTools) handleGetElementOffset(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		offset, err := el.Offset(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element offset: left %gpx, top %gpx", offset.Left, offset.Top), nil
	})
}

func (p *elementTools) handleGetElementText(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element text: %s", text), nil
	})
}

func (p *elementTools) handleGetElementAttribute(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Name string `json:"name"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		value, err := el.Attribute(ctx, params.Name)
		if err != nil {
			return nil, err
		}
		return textResultf("Attribute %s: %s", params.Name, value), nil
	})
}

func (p *elementTools) handleGetElementProperty(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Name string `json:"name"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		value, err := el.Property(ctx, params.Name)
		if err != nil {
			return nil, err
		}
		return textResultf("Property %s: %s", params.Name, compactValue(value)), nil
	})
}

func (p *elementTools) handleGetElementWxml(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		wxml, err := el.Wxml(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element WXML:\n%s", wxml), nil
	})
}

func (p *elementTools) handleGetElementOuterWxml(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		wxml, err := el.OuterWxml(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element outer WXML:\n%s", wxml), nil
	})
}

func (p *elementTools) handleGetElementValue(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		value, err := el.Value(ctx)
		if err != nil {
			return nil, err
		}
		return textResultf("Element value: %s", compactValue(value)), nil
	})
}

func (p *elementTools) handleGetElementStyle(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Name string `json:"name"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		value, err := el.Style(ctx, params.Name)
		if err != nil {
			return nil, err
		}
		return textResultf("Style %s: %s", params.Name, value), nil
	})
}

func (p *elementTools) handleTapElement(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		if err := el.Tap(ctx); err != nil {
			return nil, err
		}
		return textResultf("Tapped %s.", params.Selector), nil
	})
}

func (p *elementTools) handleLongpressElement(call *ToolCall) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		if err := el.Longpress(ctx); err != nil {
			return nil, err
		}
		return textResultf("Long pressed %s.", params.Selector), nil
	})
}

func (p *elementTools) touchHandler(event string, fn func(automator.Element, context.Context, automator.TouchEvent) error) func(*ToolCall) (*ToolResult, error) {
	return func(call *ToolCall) (*ToolResult, error) {
		var params touchArgs
		return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
			if err := fn(el, ctx, params.event()); err != nil {
				return nil, err
			}
			return textResultf("%s triggered.", event), nil
		})
	}
}

func (p *elementTools) handleTriggerElement(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Detail *structpb.Struct `json:"detail"`
		Type   string           `json:"type"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		if err := el.Trigger(ctx, params.Type, params.Detail); err != nil {
			return nil, err
		}
		return textResultf("Event %s triggered.", params.Type), nil
	})
}

func (p *elementTools) handleInputElement(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Value string `json:"value"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		input, err := capable[automator.InputElement](el, "an input element (input, textarea)", "enter text")
		if err != nil {
			return nil, err
		}
		if err := input.Input(ctx, params.Value); err != nil {
			return nil, err
		}
		return textResultf("Entered: %s", params.Value), nil
	})
}

func (p *elementTools) handleCallElementMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Method string            `json:"method"`
		Args   []*structpb.Value `json:"args"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		custom, err := capable[automator.CustomElement](el, "a custom component", "call methods")
		if err != nil {
			return nil, err
		}
		result, err := custom.CallMethod(ctx, params.Method, params.Args)
		if err != nil {
			return nil, err
		}
		return textResultf("Method %s returned: %s", params.Method, compactValue(result)), nil
	})
}

func (p *elementTools) handleGetElementData(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Path string `json:"path"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		custom, err := capable[automator.CustomElement](el, "a custom component", "read data")
		if err != nil {
			return nil, err
		}
		data, err := custom.Data(ctx, params.Path)
		if err != nil {
			return nil, err
		}
		return textResultf("Component data: %s", formatValue(data)), nil
	})
}

func (p *elementTools) handleSetElementData(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Data *structpb.Struct `json:"data"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		custom, err := capable[automator.CustomElement](el, "a custom component", "set data")
		if err != nil {
			return nil, err
		}
		if params.Data == nil {
			params.Data = &structpb.Struct{}
		}
		if err := custom.SetData(ctx, params.Data); err != nil {
			return nil, err
		}
		return textResult("Component data set."), nil
	})
}

func (p *elementTools) handleCallContextMethod(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Method string            `json:"method"`
		Args   []*structpb.Value `json:"args"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		video, err := capable[automator.ContextElement](el, "a video component", "call context methods")
		if err != nil {
			return nil, err
		}
		result, err := video.CallContextMethod(ctx, params.Method, params.Args)
		if err != nil {
			return nil, err
		}
		return textResultf("Context method %s returned: %s", params.Method, compactValue(result)), nil
	})
}

func (p *elementTools) scrollViewMetric(call *ToolCall, label, action string, fn func(automator.ScrollViewElement, context.Context) (float64, error)) (*ToolResult, error) {
	var params selectorArgs
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		sv, err := capable[automator.ScrollViewElement](el, "a scroll-view component", action)
		if err != nil {
			return nil, err
		}
		v, err := fn(sv, ctx)
		if err != nil {
			return nil, err
		}
		return textResult(fmt.Sprintf("%s: %gpx", label, v)), nil
	})
}

func (p *elementTools) handleGetScrollWidth(call *ToolCall) (*ToolResult, error) {
	return p.scrollViewMetric(call, "Scroll width", "read scroll width", automator.ScrollViewElement.ScrollWidth)
}

func (p *elementTools) handleGetScrollHeight(call *ToolCall) (*ToolResult, error) {
	return p.scrollViewMetric(call, "Scroll height", "read scroll height", automator.ScrollViewElement.ScrollHeight)
}

func (p *elementTools) handleScrollTo(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		sv, err := capable[automator.ScrollViewElement](el, "a scroll-view component", "scroll")
		if err != nil {
			return nil, err
		}
		if err := sv.ScrollTo(ctx, params.X, params.Y); err != nil {
			return nil, err
		}
		return textResultf("Scrolled to (%g, %g).", params.X, params.Y), nil
	})
}

func (p *elementTools) handleSwipeTo(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		Index int `json:"index"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		swiper, err := capable[automator.SwiperElement](el, "a swiper component", "swipe")
		if err != nil {
			return nil, err
		}
		if err := swiper.SwipeTo(ctx, params.Index); err != nil {
			return nil, err
		}
		return textResultf("Swiped to slide %d.", params.Index), nil
	})
}

func (p *elementTools) handleMoveTo(call *ToolCall) (*ToolResult, error) {
	var params struct {
		selectorArgs
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	return p.run(call, &params, func(ctx context.Context, el automator.Element) (*ToolResult, error) {
		mv, err := capable[automator.MovableViewElement](el, "a movable-view component", "move")
		if err != nil {
			return nil, err
		}
		if err := mv.MoveTo(ctx, params.X, params.Y); err != nil {
			return nil, err
		}
		return textResultf("Moved to (%g, %g).", params.X, params.Y), nil
	})
}
