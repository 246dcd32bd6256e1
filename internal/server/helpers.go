// Copyright 2025 Joseph Cumines
//
// Helper functions for tool handlers

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"github.com/joeycumines/miniprogram-mcp/internal/transport"
	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// errorResult creates a ToolResult with IsError=true and the given message.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// errorResultf creates a ToolResult with IsError=true and a formatted message.
func errorResultf(format string, args ...any) *ToolResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// textResult creates a ToolResult with a single text content.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// textResultf creates a ToolResult with a formatted text content.
func textResultf(format string, args ...any) *ToolResult {
	return textResult(fmt.Sprintf(format, args...))
}

// linesResult returns one text content item per line, or fallback when there are none.
func linesResult(lines []string, fallback string) *ToolResult {
	if len(lines) == 0 {
		return textResult(fallback)
	}
	content := make([]Content, 0, len(lines))
	for _, line := range lines {
		content = append(content, Content{Type: "text", Text: line})
	}
	return &ToolResult{Content: content}
}

// imageResult wraps an image body as base64 image content.
func imageResult(body *httpbody.HttpBody) *ToolResult {
	mimeType := body.GetContentType()
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &ToolResult{
		Content: []Content{{
			Type:     "image",
			Data:     base64.StdEncoding.EncodeToString(body.GetData()),
			MimeType: mimeType,
		}},
	}
}

// formatValue renders an opaque value as indented JSON. A nil value renders as null.
func formatValue(v *structpb.Value) string {
	if v == nil {
		return "null"
	}
	data, err := json.MarshalIndent(v.AsInterface(), "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v.AsInterface())
	}
	return string(data)
}

// compactValue renders an opaque value as single-line JSON.
func compactValue(v *structpb.Value) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return fmt.Sprintf("%v", v.AsInterface())
	}
	return string(data)
}

// pageSummary renders a page as "path, query".
func pageSummary(page automator.Page) string {
	if page == nil {
		return "(none)"
	}
	query := "{}"
	if q := page.Query(); q != nil && len(q.GetFields()) > 0 {
		query = compactValue(structpb.NewStructValue(q))
	}
	return fmt.Sprintf("path %s, query %s", page.Path(), query)
}

// decodeArgs unmarshals call arguments into params. A non-nil result is the
// error to return to the caller.
func decodeArgs(call *ToolCall, params any) *ToolResult {
	if len(call.Arguments) == 0 || string(call.Arguments) == "null" {
		return nil
	}
	if err := json.Unmarshal(call.Arguments, params); err != nil {
		return errorResultf("Invalid parameters: %v", err)
	}
	return nil
}

// withSession acquires a session for the duration of fn. Errors from acquiring
// or from fn are reported in-band.
func withSession(call *ToolCall, sessions SessionAccessor, fn func(ctx context.Context, sess automator.Session) (*ToolResult, error)) (*ToolResult, error) {
	ctx := call.Context()
	sess, release, err := sessions.Acquire(ctx)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	defer release()

	result, err := fn(ctx, sess)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return result, nil
}

// withPage is withSession narrowed to the current page.
func withPage(call *ToolCall, sessions SessionAccessor, fn func(ctx context.Context, page automator.Page) (*ToolResult, error)) (*ToolResult, error) {
	return withSession(call, sessions, func(ctx context.Context, sess automator.Session) (*ToolResult, error) {
		page, err := currentPage(ctx, sess)
		if err != nil {
			return nil, err
		}
		return fn(ctx, page)
	})
}

// withElement is withPage narrowed to the element selector resolves to.
func withElement(call *ToolCall, sessions SessionAccessor, selector string, fn func(ctx context.Context, el automator.Element) (*ToolResult, error)) (*ToolResult, error) {
	return withPage(call, sessions, func(ctx context.Context, page automator.Page) (*ToolResult, error) {
		el, err := resolveElement(ctx, page, selector)
		if err != nil {
			return nil, err
		}
		return fn(ctx, el)
	})
}

// formatToolError formats an error with its status code and an actionable
// suggestion for MCP tool responses.
func formatToolError(err error, toolName string) string {
	if err == nil {
		return ""
	}

	st, ok := grpcstatus.FromError(err)
	if !ok {
		return fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	}

	code := st.Code()
	suggestion := ""

	switch errorReason(err) {
	case ReasonSessionUnavailable:
		suggestion = "Call the launch tool (or connect, if the developer tool is already running) and retry"
	case ReasonNoOpenPage:
		suggestion = "Open a page first, e.g. with navigateTo or reLaunch"
	case ReasonElementNotFound:
		suggestion = "Check the selector against the page structure, e.g. with getElements or getElementWxml"
	case ReasonCapabilityMismatch:
		suggestion = "Select an element of the component type this tool supports"
	default:
		switch code {
		case codes.NotFound:
			suggestion = "Verify the page path, method or selector exists"
		case codes.InvalidArgument:
			suggestion = "Check the request parameters for invalid or missing values"
		case codes.Unavailable:
			suggestion = "The developer tool may have exited. Check that it is running with automation enabled"
		case codes.DeadlineExceeded:
			suggestion = "Operation timed out. Try increasing the timeout or check the developer tool is responsive"
		case codes.FailedPrecondition:
			suggestion = "The operation failed due to a precondition not being met. Check the mini-program is in the expected state"
		case codes.Unknown:
			suggestion = "The mini-program reported an error. Check getexceptions and getlogs for details"
		case codes.Unimplemented:
			suggestion = "This operation is not supported here"
		}
	}

	result := fmt.Sprintf("Error in %s: %s - %s", toolName, code.String(), st.Message())
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}

// toolErrorResult creates an error ToolResult from err.
func toolErrorResult(err error, toolName string) *ToolResult {
	return errorResult(formatToolError(err, toolName))
}

// validateToolInput validates JSON arguments against a tool's InputSchema.
// It checks:
//   - All required fields are present
//   - Field types match the schema (string, number, boolean, integer, array, object)
//   - Enum values are in the allowed set (if enum is specified)
//
// Returns a JSON-RPC error response with ErrCodeInvalidParams (-32602) if validation fails,
// nil if validation passes.
//
// Note: Extra properties not defined in the schema are allowed per JSON-RPC conventions.
func validateToolInput(tool *Tool, args map[string]any) *transport.Message {
	schema := tool.InputSchema
	if schema == nil {
		// No schema defined - nothing to validate
		return nil
	}

	// Get required fields from schema
	requiredFields := getRequiredFields(schema)

	// Check all required fields are present
	for _, field := range requiredFields {
		if _, exists := args[field]; !exists {
			return invalidParamsError(fmt.Sprintf("missing required field: %s", field))
		}
	}

	// Get properties from schema for type/enum validation
	properties := getSchemaProperties(schema)
	if properties == nil {
		// No properties defined - skip type validation
		return nil
	}

	// Validate each provided argument against its schema
	for fieldName, value := range args {
		propSchema, exists := properties[fieldName]
		if !exists {
			// Extra property not in schema - allowed per JSON-RPC conventions
			continue
		}

		if err := validateFieldValue(fieldName, value, propSchema); err != nil {
			return invalidParamsError(err.Error())
		}
	}

	return nil
}

// invalidParamsError creates a JSON-RPC error response with ErrCodeInvalidParams.
func invalidParamsError(message string) *transport.Message {
	return &transport.Message{
		JSONRPC: "2.0",
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: message,
		},
	}
}

// getRequiredFields extracts the "required" array from a JSON schema.
func getRequiredFields(schema map[string]any) []string {
	required, ok := schema["required"]
	if !ok {
		return nil
	}

	requiredArr, ok := required.([]string)
	if ok {
		return requiredArr
	}

	// Handle case where required is []interface{} (from JSON unmarshaling)
	requiredIface, ok := required.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(requiredIface))
	for _, v := range requiredIface {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// getSchemaProperties extracts the "properties" map from a JSON schema.
func getSchemaProperties(schema map[string]any) map[string]map[string]any {
	props, ok := schema["properties"]
	if !ok {
		return nil
	}

	propsMap, ok := props.(map[string]any)
	if !ok {
		return nil
	}

	result := make(map[string]map[string]any, len(propsMap))
	for k, v := range propsMap {
		if propSchema, ok := v.(map[string]any); ok {
			result[k] = propSchema
		}
	}
	return result
}

// validateFieldValue validates a single field value against its property schema.
// Returns an error if validation fails.
func validateFieldValue(fieldName string, value any, propSchema map[string]any) error {
	// Skip validation for nil/null values (unless required, which is checked above)
	if value == nil {
		return nil
	}

	// Get expected type from schema
	schemaType, hasType := propSchema["type"].(string)
	if !hasType {
		// No type specified - skip type validation
		return validateEnumValue(fieldName, value, propSchema)
	}

	// Validate type
	if err := validateType(fieldName, value, schemaType); err != nil {
		return err
	}

	// Validate enum if present
	return validateEnumValue(fieldName, value, propSchema)
}

// validateType validates that a value matches the expected JSON Schema type.
// JSON Schema types: string, number, integer, boolean, array, object
func validateType(fieldName string, value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T", fieldName, value)
		}
	case "number":
		// JSON numbers can be float64 or json.Number; integers are also valid numbers
		if !isNumber(value) {
			return fmt.Errorf("field %q must be a number, got %T", fieldName, value)
		}
	case "integer":
		// Integers must be whole numbers
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %T", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T", fieldName, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array, got %T", fieldName, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object, got %T", fieldName, value)
		}
	default:
		// Unknown type - skip validation
	}
	return nil
}

// isNumber returns true if the value is a valid JSON number (float64 or integer).
func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// isInteger returns true if the value is an integer (whole number).
// JSON unmarshaling to interface{} produces float64 for all numbers,
// so we need to check if the float64 is a whole number.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		// Check if the float64 is a whole number
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	default:
		return false
	}
}

// validateEnumValue validates that a value is in the allowed enum set.
// Returns nil if no enum is defined or if value is in the allowed set.
func validateEnumValue(fieldName string, value any, propSchema map[string]any) error {
	enumValues, ok := propSchema["enum"]
	if !ok {
		return nil
	}

	// Handle enum as []string (defined in registerTools)
	if enumStrings, ok := enumValues.([]string); ok {
		valueStr, ok := value.(string)
		if !ok {
			// Enum is defined but value is not a string - type mismatch
			return fmt.Errorf("field %q must be a string for enum validation, got %T", fieldName, value)
		}
		if slices.Contains(enumStrings, valueStr) {
			return nil
		}
		return fmt.Errorf("field %q must be one of [%s], got %q", fieldName, strings.Join(enumStrings, ", "), valueStr)
	}

	// Handle enum as []interface{} (from JSON unmarshaling)
	if enumIface, ok := enumValues.([]any); ok {
		for _, allowed := range enumIface {
			if value == allowed {
				return nil
			}
			// Also compare as strings for flexibility
			if valueStr, ok := value.(string); ok {
				if allowedStr, ok := allowed.(string); ok && valueStr == allowedStr {
					return nil
				}
			}
		}
		// Build error message with allowed values
		allowedStrs := make([]string, 0, len(enumIface))
		for _, v := range enumIface {
			allowedStrs = append(allowedStrs, fmt.Sprintf("%v", v))
		}
		return fmt.Errorf("field %q must be one of [%s], got %v", fieldName, strings.Join(allowedStrs, ", "), value)
	}

	return nil
}
