package genai

import (
	"fmt"
	"strings"

	"github.com/c360studio/retouch/model"
)

// Prompt templates for the enhancement and validation operations. The
// generation prompt is the enhanced instruction itself and needs no
// template.

const enhanceTemplate = `You are a prompt engineer for an AI image-editing model.

Rewrite the edit request below as a prompt for the "%s" model.
%s
Requirements:
- Keep the user's intent exactly; add no new edits.
- State explicitly what must remain unchanged.
- Return ONLY the rewritten prompt text, nothing else.

Edit request:
%s`

const validateTemplate = `You are a strict quality grader for AI image edits.

The first image is the edited candidate. The second image is the original.

Edit request:
%s

Grade how well the candidate fulfills the request while preserving
everything the request did not ask to change. Score 0-10, where 8 or
higher means the edit is acceptable to ship.

Respond with ONLY a JSON object:
{"score": <0-10>, "passed": <true|false>, "issues": ["..."], "reasoning": "...", "status": "PASS"|"FAIL"}`

// enhancePrompt builds the enhancement prompt for one model profile,
// injecting the profile's prompt context when it has one.
func enhancePrompt(instruction string, profile model.Profile) string {
	context := ""
	if strings.TrimSpace(profile.PromptContext) != "" {
		context = "Model guidance: " + strings.TrimSpace(profile.PromptContext) + "\n"
	}
	return fmt.Sprintf(enhanceTemplate, profile.Name, context, instruction)
}

// validatePrompt builds the grading prompt for one candidate.
func validatePrompt(instruction string) string {
	return fmt.Sprintf(validateTemplate, instruction)
}
