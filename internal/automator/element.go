// Copyright 2025 Joseph Cumines
//
// Element operations

package automator

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// builtinTags are the mini-program base components. Any other tag is a custom component.
var builtinTags = map[string]bool{
	"ad": true, "audio": true, "block": true, "button": true, "camera": true,
	"canvas": true, "checkbox": true, "checkbox-group": true, "cover-image": true,
	"cover-view": true, "editor": true, "form": true, "functional-page-navigator": true,
	"icon": true, "image": true, "input": true, "keyboard-accessory": true, "label": true,
	"live-player": true, "live-pusher": true, "map": true, "match-media": true,
	"movable-area": true, "movable-view": true, "navigation-bar": true, "navigator": true,
	"official-account": true, "open-data": true, "page": true, "page-container": true,
	"page-meta": true, "picker": true, "picker-view": true, "picker-view-column": true,
	"progress": true, "radio": true, "radio-group": true, "rich-text": true,
	"root-portal": true, "scroll-view": true, "share-element": true, "slider": true,
	"swiper": true, "swiper-item": true, "switch": true, "text": true, "textarea": true,
	"video": true, "view": true, "voip-room": true, "web-view": true,
}

// IsCustomComponent reports whether tagName names a custom component.
func IsCustomComponent(tagName string) bool {
	return tagName != "" && !builtinTags[tagName]
}

type element struct {
	page    *page
	id      string
	tagName string
}

func newElement(p *page, info elementInfo) Element {
	base := &element{page: p, id: info.ElementID, tagName: info.TagName}
	switch {
	case info.TagName == "input" || info.TagName == "textarea":
		return &inputElement{base}
	case info.TagName == "video":
		return &videoElement{base}
	case info.TagName == "scroll-view":
		return &scrollViewElement{base}
	case info.TagName == "swiper":
		return &swiperElement{base}
	case info.TagName == "movable-view":
		return &movableViewElement{base}
	case IsCustomComponent(info.TagName):
		return &customElement{base}
	default:
		return base
	}
}

func (e *element) TagName() string { return e.tagName }

func (e *element) call(ctx context.Context, method string, extra map[string]any, out any) error {
	params := map[string]any{"pageId": e.page.id, "elementId": e.id}
	for k, v := range extra {
		params[k] = v
	}
	return e.page.client.call(ctx, method, params, out)
}

// callFunction invokes a component scoped function such as "scroll-view.scrollTo".
func (e *element) callFunction(ctx context.Context, name string, args []any, out any) error {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := e.call(ctx, "Element.callFunction", map[string]any{"functionName": name, "args": args}, &resp); err != nil {
		return err
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", name, err)
		}
	}
	return nil
}

func (e *element) Element(ctx context.Context, selector string) (Element, error) {
	var info elementInfo
	if err := e.call(ctx, "Element.getElement", map[string]any{"selector": selector}, &info); err != nil {
		return nil, err
	}
	if info.ElementID == "" {
		return nil, nil
	}
	return newElement(e.page, info), nil
}

func (e *element) domProperties(ctx context.Context, names ...string) ([]*structpb.Value, error) {
	var resp struct {
		Properties []*structpb.Value `json:"properties"`
	}
	if err := e.call(ctx, "Element.getDOMProperties", map[string]any{"names": names}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Properties) != len(names) {
		return nil, fmt.Errorf("expected %d DOM properties, got %d", len(names), len(resp.Properties))
	}
	return resp.Properties, nil
}

func (e *element) Size(ctx context.Context) (Size, error) {
	props, err := e.domProperties(ctx, "offsetWidth", "offsetHeight")
	if err != nil {
		return Size{}, err
	}
	return Size{Width: props[0].GetNumberValue(), Height: props[1].GetNumberValue()}, nil
}

func (e *element) Offset(ctx context.Context) (Offset, error) {
	var off Offset
	if err := e.call(ctx, "Element.getOffset", nil, &off); err != nil {
		return Offset{}, err
	}
	return off, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	props, err := e.domProperties(ctx, "innerText")
	if err != nil {
		return "", err
	}
	return props[0].GetStringValue(), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var resp struct {
		Attributes []string `json:"attributes"`
	}
	if err := e.call(ctx, "Element.getAttributes", map[string]any{"names": []string{name}}, &resp); err != nil {
		return "", err
	}
	if len(resp.Attributes) == 0 {
		return "", nil
	}
	return resp.Attributes[0], nil
}

func (e *element) Property(ctx context.Context, name string) (*structpb.Value, error) {
	var resp struct {
		Properties []*structpb.Value `json:"properties"`
	}
	if err := e.call(ctx, "Element.getProperties", map[string]any{"names": []string{name}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Properties) == 0 {
		return structpb.NewNullValue(), nil
	}
	return resp.Properties[0], nil
}

func (e *element) wxml(ctx context.Context, kind string) (string, error) {
	var resp struct {
		WXML string `json:"wxml"`
	}
	if err := e.call(ctx, "Element.getWXML", map[string]any{"type": kind}, &resp); err != nil {
		return "", err
	}
	return resp.WXML, nil
}

func (e *element) Wxml(ctx context.Context) (string, error) { return e.wxml(ctx, "inner") }

func (e *element) OuterWxml(ctx context.Context) (string, error) { return e.wxml(ctx, "outer") }

func (e *element) Value(ctx context.Context) (*structpb.Value, error) {
	return e.Property(ctx, "value")
}

func (e *element) Style(ctx context.Context, name string) (string, error) {
	var resp struct {
		Styles []string `json:"styles"`
	}
	if err := e.call(ctx, "Element.getStyles", map[string]any{"names": []string{name}}, &resp); err != nil {
		return "", err
	}
	if len(resp.Styles) == 0 {
		return "", nil
	}
	return resp.Styles[0], nil
}

func (e *element) Tap(ctx context.Context) error {
	return e.call(ctx, "Element.tap", nil, nil)
}

func (e *element) Longpress(ctx context.Context) error {
	return e.call(ctx, "Element.longpress", nil, nil)
}

func (e *element) touch(ctx context.Context, method string, ev TouchEvent) error {
	touches, changed := ev.Touches, ev.ChangedTouches
	if touches == nil {
		touches = []Touch{}
	}
	if changed == nil {
		changed = []Touch{}
	}
	return e.call(ctx, method, map[string]any{"touches": touches, "changedTouches": changed}, nil)
}

func (e *element) Touchstart(ctx context.Context, ev TouchEvent) error {
	return e.touch(ctx, "Element.touchstart", ev)
}

func (e *element) Touchmove(ctx context.Context, ev TouchEvent) error {
	return e.touch(ctx, "Element.touchmove", ev)
}

func (e *element) Touchend(ctx context.Context, ev TouchEvent) error {
	return e.touch(ctx, "Element.touchend", ev)
}

func (e *element) Trigger(ctx context.Context, eventType string, detail *structpb.Struct) error {
	extra := map[string]any{"type": eventType}
	if detail != nil {
		extra["detail"] = detail
	}
	return e.call(ctx, "Element.triggerEvent", extra, nil)
}

type inputElement struct{ *element }

func (e *inputElement) Input(ctx context.Context, value string) error {
	return e.callFunction(ctx, e.tagName+".input", []any{value}, nil)
}

type customElement struct{ *element }

func (e *customElement) CallMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	var resp struct {
		Result *structpb.Value `json:"result"`
	}
	if err := e.call(ctx, "Element.callMethod", map[string]any{"method": method, "args": valuesToAny(args)}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (e *customElement) Data(ctx context.Context, path string) (*structpb.Value, error) {
	extra := map[string]any{}
	if path != "" {
		extra["path"] = path
	}
	var resp struct {
		Data *structpb.Value `json:"data"`
	}
	if err := e.call(ctx, "Element.getData", extra, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (e *customElement) SetData(ctx context.Context, data *structpb.Struct) error {
	return e.call(ctx, "Element.setData", map[string]any{"data": data}, nil)
}

type videoElement struct{ *element }

func (e *videoElement) CallContextMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	var resp struct {
		Result *structpb.Value `json:"result"`
	}
	if err := e.call(ctx, "Element.callContextMethod", map[string]any{"method": method, "args": valuesToAny(args)}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type scrollViewElement struct{ *element }

func (e *scrollViewElement) ScrollWidth(ctx context.Context) (float64, error) {
	var w float64
	err := e.callFunction(ctx, "scroll-view.scrollWidth", []any{}, &w)
	return w, err
}

func (e *scrollViewElement) ScrollHeight(ctx context.Context) (float64, error) {
	var h float64
	err := e.callFunction(ctx, "scroll-view.scrollHeight", []any{}, &h)
	return h, err
}

func (e *scrollViewElement) ScrollTo(ctx context.Context, x, y float64) error {
	return e.callFunction(ctx, "scroll-view.scrollTo", []any{x, y}, nil)
}

type swiperElement struct{ *element }

func (e *swiperElement) SwipeTo(ctx context.Context, index int) error {
	return e.callFunction(ctx, "swiper.swipeTo", []any{index}, nil)
}

type movableViewElement struct{ *element }

func (e *movableViewElement) MoveTo(ctx context.Context, x, y float64) error {
	return e.callFunction(ctx, "movable-view.moveTo", []any{x, y}, nil)
}

var (
	_ InputElement       = (*inputElement)(nil)
	_ CustomElement      = (*customElement)(nil)
	_ ContextElement     = (*videoElement)(nil)
	_ ScrollViewElement  = (*scrollViewElement)(nil)
	_ SwiperElement      = (*swiperElement)(nil)
	_ MovableViewElement = (*movableViewElement)(nil)
)
