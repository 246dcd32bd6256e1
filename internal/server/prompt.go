// Copyright 2025 Joseph Cumines
//
// MCP prompts

package server

import (
	"encoding/json"
	"fmt"

	"github.com/joeycumines/miniprogram-mcp/internal/transport"
)

// Prompt is a static MCP prompt with a single user message.
type Prompt struct {
	Name        string
	Title       string
	Description string
	Text        string
}

func (s *MCPServer) listPrompts() map[string]any {
	prompts := make([]map[string]any, 0, len(s.prompts))
	for _, p := range s.prompts {
		prompts = append(prompts, map[string]any{
			"name":        p.Name,
			"title":       p.Title,
			"description": p.Description,
		})
	}
	return map[string]any{"prompts": prompts}
}

func (s *MCPServer) getPrompt(raw json.RawMessage) (any, *transport.ErrorObj) {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: fmt.Sprintf("Invalid parameters: %v", err),
		}
	}
	for _, p := range s.prompts {
		if p.Name != params.Name {
			continue
		}
		return map[string]any{
			"description": p.Description,
			"messages": []map[string]any{{
				"role":    "user",
				"content": Content{Type: "text", Text: p.Text},
			}},
		}, nil
	}
	return nil, &transport.ErrorObj{
		Code:    transport.ErrCodeInvalidParams,
		Message: fmt.Sprintf("Prompt not found: %s", params.Name),
	}
}

func guidePrompt() Prompt {
	return Prompt{
		Name:        "guide",
		Title:       "Mini-program automation guide",
		Description: "How to use the mini-program automation tools: capabilities, tool dependency order and typical workflows",
		Text:        guideText,
	}
}

const guideText = "## Mini-program automation MCP guide\n\n" +
	"These tools drive a WeChat mini-program through the developer tool's automation port.\n\n" +
	"### 1. Capabilities\n\n" +
	"1. **Launch and control** - start the developer tool and connect to the automation instance\n" +
	"2. **Navigation** - open pages, switch tabs, go back\n" +
	"3. **Elements** - query elements, tap them, trigger events, enter text\n" +
	"4. **Page data** - read and write page data, call page methods\n" +
	"5. **wx APIs** - call native APIs such as wx.login or wx.request\n" +
	"6. **Mocking** - replace the result of a wx API for test scenarios\n" +
	"7. **Custom code** - inject and run JavaScript in the app service\n" +
	"8. **Logs and exceptions** - read recent console output and uncaught exceptions\n" +
	"9. **Screenshots** - capture the current page\n" +
	"10. **Test accounts** - list the users configured for multi-account debugging\n\n" +
	"### 2. Tool dependencies\n\n" +
	"**Launch first.** Every tool except `launch` and `connect` needs a connected session.\n\n" +
	"- Start: `launch` (or `connect` when the developer tool is already running with automation enabled)\n" +
	"- Navigation: `navigateTo`, `redirectTo`, `reLaunch`, `switchTab`, `navigateBack`\n" +
	"- Pages: `currentPage`, `pageStack`, `getPageData`, `setPageData`, `callPageMethod`\n" +
	"- Elements: `getElement`, `tapElement`, `inputElement`, `longpressElement`\n" +
	"- wx APIs: `callWxMethod`, `mockWxMethod`, `restoreWxMethod`\n" +
	"- Code: `evaluate`, `exposeFunction`\n" +
	"- Logs: `getlogs`, `getexceptions`, `clearlogs`\n" +
	"- Other: `screenshot`, `pageScrollTo`, `testAccounts`, `getTicket`, `startAudits`, `stopAudits`\n\n" +
	"### 3. Workflows\n\n" +
	"#### Full test\n" +
	"1. `launch`\n2. `navigateTo` the page under test\n3. `getElement` the target\n" +
	"4. `tapElement`\n5. `getPageData` to verify the result\n6. `getlogs` to review output\n\n" +
	"#### Data driven\n" +
	"1. `launch`\n2. `navigateTo` the target page\n3. `setPageData` with test data\n" +
	"4. `getElement` to verify rendering\n5. `screenshot` to keep the result\n\n" +
	"#### Mocked API\n" +
	"1. `launch`\n2. `mockWxMethod` to fake a login or request\n3. `navigateTo` the page that calls it\n" +
	"4. `callWxMethod` to call the API\n5. `getlogs` to review the calls\n\n" +
	"### 4. Notes\n\n" +
	"1. Enable CLI/HTTP calls in the developer tool's security settings before launching.\n" +
	"2. System components such as authorization dialogs cannot be automated.\n" +
	"3. Element tools take CSS selectors such as `.class`, `#id` or `view`. Space separated segments are resolved one inside the other.\n" +
	"4. Component specific tools (`inputElement`, `callElementMethod`, `callContextMethod`, `scrollTo`, `swipeTo`, `moveTo`) only work on matching components.\n"
