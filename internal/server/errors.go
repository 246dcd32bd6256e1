// Copyright 2025 Joseph Cumines
//
// Error values shared by tool handlers

package server

import (
	"context"
	"strings"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain is the ErrorInfo domain attached to errors raised by this server.
const errorDomain = "miniprogram-mcp"

// ErrorInfo reasons.
const (
	ReasonSessionUnavailable = "SESSION_UNAVAILABLE"
	ReasonNoOpenPage         = "NO_OPEN_PAGE"
	ReasonElementNotFound    = "ELEMENT_NOT_FOUND"
	ReasonCapabilityMismatch = "CAPABILITY_MISMATCH"
)

func reasonError(code codes.Code, reason, msg string, metadata map[string]string) error {
	st := status.New(code, msg)
	if detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   errorDomain,
		Metadata: metadata,
	}); err == nil {
		st = detailed
	}
	return st.Err()
}

// errorReason returns the ErrorInfo reason carried by err, if any.
func errorReason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	return ""
}

func errLaunchFirst(cause error) error {
	msg := "launch first: no automation session is connected, use the launch tool before other tools"
	if cause != nil {
		msg += " (" + status.Convert(cause).Message() + ")"
	}
	return reasonError(codes.FailedPrecondition, ReasonSessionUnavailable, msg, nil)
}

func errNoOpenPage() error {
	return reasonError(codes.FailedPrecondition, ReasonNoOpenPage, "no open page", nil)
}

func errElementNotFound(segment string) error {
	return reasonError(codes.NotFound, ReasonElementNotFound, "element not found: "+segment,
		map[string]string{"selector": segment})
}

// errNotCapable reports an operation attempted on the wrong kind of component.
func errNotCapable(tag, kind, action string) error {
	return reasonError(codes.Unimplemented, ReasonCapabilityMismatch,
		tag+" is not "+kind+", cannot "+action,
		map[string]string{"tagName": tag})
}

// currentPage returns the open page or errNoOpenPage.
func currentPage(ctx context.Context, sess automator.Session) (automator.Page, error) {
	page, err := sess.CurrentPage(ctx)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errNoOpenPage()
	}
	return page, nil
}

// elementFinder is satisfied by both pages and elements.
type elementFinder interface {
	Element(ctx context.Context, selector string) (automator.Element, error)
}

// resolveElement splits selector on whitespace and resolves each segment against
// the previous match, starting from root. The first segment that matches nothing
// is named in the returned error.
func resolveElement(ctx context.Context, root elementFinder, selector string) (automator.Element, error) {
	segments := strings.Fields(selector)
	if len(segments) == 0 {
		return nil, status.Error(codes.InvalidArgument, "selector is required")
	}
	var (
		cur elementFinder = root
		el  automator.Element
	)
	for _, seg := range segments {
		next, err := cur.Element(ctx, seg)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, errElementNotFound(seg)
		}
		el, cur = next, next
	}
	return el, nil
}
