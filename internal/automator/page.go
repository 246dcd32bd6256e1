// Copyright 2025 Joseph Cumines
//
// Page operations

package automator

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

type page struct {
	client *Client
	query  *structpb.Struct
	path   string
	id     int64
}

type elementInfo struct {
	ElementID string `json:"elementId"`
	TagName   string `json:"tagName"`
}

func (p *page) Path() string { return p.path }

func (p *page) Query() *structpb.Struct { return p.query }

func (p *page) params(extra map[string]any) map[string]any {
	params := map[string]any{"pageId": p.id}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func (p *page) Element(ctx context.Context, selector string) (Element, error) {
	var info elementInfo
	if err := p.client.call(ctx, "Page.getElement", p.params(map[string]any{"selector": selector}), &info); err != nil {
		return nil, err
	}
	if info.ElementID == "" {
		return nil, nil
	}
	return newElement(p, info), nil
}

func (p *page) Elements(ctx context.Context, selector string) ([]Element, error) {
	var resp struct {
		Elements []elementInfo `json:"elements"`
	}
	if err := p.client.call(ctx, "Page.getElements", p.params(map[string]any{"selector": selector}), &resp); err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(resp.Elements))
	for _, info := range resp.Elements {
		elements = append(elements, newElement(p, info))
	}
	return elements, nil
}

func (p *page) Data(ctx context.Context, path string) (*structpb.Value, error) {
	extra := map[string]any{}
	if path != "" {
		extra["path"] = path
	}
	var resp struct {
		Data *structpb.Value `json:"data"`
	}
	if err := p.client.call(ctx, "Page.getData", p.params(extra), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (p *page) SetData(ctx context.Context, data *structpb.Struct) error {
	return p.client.call(ctx, "Page.setData", p.params(map[string]any{"data": data}), nil)
}

func (p *page) windowProperties(ctx context.Context, names ...string) ([]float64, error) {
	var resp struct {
		Properties []float64 `json:"properties"`
	}
	if err := p.client.call(ctx, "Page.getWindowProperties", p.params(map[string]any{"names": names}), &resp); err != nil {
		return nil, err
	}
	if len(resp.Properties) != len(names) {
		return nil, fmt.Errorf("expected %d window properties, got %d", len(names), len(resp.Properties))
	}
	return resp.Properties, nil
}

func (p *page) Size(ctx context.Context) (Size, error) {
	props, err := p.windowProperties(ctx, "document.documentElement.scrollWidth", "document.documentElement.scrollHeight")
	if err != nil {
		return Size{}, err
	}
	return Size{Width: props[0], Height: props[1]}, nil
}

func (p *page) ScrollTop(ctx context.Context) (float64, error) {
	props, err := p.windowProperties(ctx, "document.documentElement.scrollTop")
	if err != nil {
		return 0, err
	}
	return props[0], nil
}

func (p *page) CallMethod(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	var resp struct {
		Result *structpb.Value `json:"result"`
	}
	if err := p.client.call(ctx, "Page.callMethod", p.params(map[string]any{"method": method, "args": valuesToAny(args)}), &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}
