// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jinterlante1206/reviewd/services/review/blueprint"
	"github.com/jinterlante1206/reviewd/services/review/review"
	"github.com/jinterlante1206/reviewd/services/review/scan"
)

func readInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", review.NewError(review.KindConfigError, "read instructions file: "+err.Error(), map[string]string{"path": path})
	}
	return string(data), nil
}

// buildPlanPrompt asks the model for a plan envelope (not a patch): an
// overview, an optional suggested verification command, and an optional
// per-path classification, grounded on the repo manifest and blueprint
// digest so the plan reflects what is actually on disk.
func buildPlanPrompt(instructions string, manifest *scan.Manifest, blueprintSummary string) string {
	var sb strings.Builder
	sb.WriteString("Review the following repository and produce a plan.\n\n")
	sb.WriteString("## Instructions\n\n")
	sb.WriteString(instructions)
	sb.WriteString("\n\n## Repository manifest\n\n")
	sb.WriteString(manifest.Text(300))
	sb.WriteString("\n## Canonical documents\n\n")
	sb.WriteString(blueprintSummary)
	sb.WriteString("\n\nReply with a single JSON object matching " +
		`{"overview": string, "suggested_run_command": string, "classification": object, "estimated_iterations": number}` +
		". Do not call submit_patch for this turn.")
	return sb.String()
}

// buildIterationPrompt opens the patch-acceptance cycle for one iteration
// round, restricting which paths the model may touch to those the scanner
// cleared for this round (code/doc for rounds 1-2, plus deferred for 3).
func buildIterationPrompt(iteration int, eligible []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Begin iteration %d. Submit one file change at a time via submit_patch. ", iteration)
	sb.WriteString("Set status=completed on your final patch for this iteration, or status=in_progress ")
	sb.WriteString("if you have more changes queued.\n\nEligible files for this iteration:\n")
	for _, p := range eligible {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildBlueprintPrompt asks the model to write one missing canonical
// document via submit_patch, grounded on orchestrator.py's
// _generate_blueprints request text but narrowed to the ordinary
// one-file-per-reply patch protocol instead of a dedicated batch tool call.
func buildBlueprintPrompt(instructions string, doc review.BlueprintFile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The canonical document %q (%s) is missing. Write it now via submit_patch as ", doc.Path, blueprint.Label(doc.Kind))
	sb.WriteString("a single create operation targeting exactly that path. It must be self-contained ")
	sb.WriteString("and tailored to this repository, informed by the following project instructions:\n\n")
	sb.WriteString(instructions)
	sb.WriteString("\n\nSet status=completed; this document is the only file expected in this turn.")
	return sb.String()
}

// buildErrorFixPrompt feeds the tailed verification-command output back to
// the model and asks it to submit a fix.
func buildErrorFixPrompt(result review.CommandResult) string {
	var sb strings.Builder
	sb.WriteString("The verification command failed")
	if result.TimedOut {
		sb.WriteString(" (timed out)")
	}
	fmt.Fprintf(&sb, " with exit code %d after %s. Tail of combined output:\n\n```\n", result.ExitCode, result.Duration.Round(time.Millisecond))
	sb.WriteString(result.Tail)
	sb.WriteString("\n```\n\nSubmit a fix via submit_patch.")
	return sb.String()
}

// buildFinalizePrompt asks the model to synthesize the authoritative
// REVIEW_INSTRUCTIONS.md content, grounded on
// build_final_instructions_prompt's section list. The reply becomes both
// the state store's plan overview and the body committed to
// REVIEW_INSTRUCTIONS.md in the repository.
func buildFinalizePrompt(plan review.IterationPlan) string {
	var sb strings.Builder
	sb.WriteString("The review iterations are complete. Write the content of a single Markdown file, ")
	sb.WriteString("REVIEW_INSTRUCTIONS.md, that explains:\n")
	sb.WriteString("- What this software does, in your own words, based on the code\n")
	sb.WriteString("- How to run it (commands)\n")
	sb.WriteString("- What success looks like (observable outputs)\n")
	sb.WriteString("- Supported tech stack(s) and versions\n")
	sb.WriteString("- Known constraints and non-goals\n")
	sb.WriteString("- A checklist for future review runs\n\n")
	if plan.SuggestedRunCommand != "" {
		sb.WriteString("The suggested verification command for this repository is: ")
		sb.WriteString(plan.SuggestedRunCommand)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Reply with the Markdown document's full body as plain text, not JSON, and not wrapped in a code fence.")
	return sb.String()
}

// extractJSONObject tolerates prose or code-fence wrapping around the JSON
// object a plan-text reply is expected to contain, mirroring the same
// tolerance the browser transport applies to patch replies.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
