package evaluator

import "fmt"

// Stage prompts share one response contract so parsing stays uniform.
const responseContract = `Respond with a single JSON object:
{
  "verdict": "PASS" or "FAIL",
  "findings": [
    {
      "path": "file path from the input",
      "line": <new-file line number, 0 if not line-specific>,
      "severity": "INFO" | "WARN" | "BLOCK",
      "message": "what is wrong and why it matters",
      "suggestion": "concrete remediation, optional"
    }
  ]
}
Use severity BLOCK only for issues that must be fixed before merge.
Return verdict FAIL when any finding is BLOCK, otherwise PASS.
Return an empty findings array when the batch is acceptable.`

var stagePrompts = map[string]string{
	"performance": `You are a senior engineer reviewing a pull request batch for performance problems.
Look for: algorithmic complexity regressions, N+1 query patterns, unbounded
allocations or caching, blocking calls on hot paths, missing pagination, and
resource leaks. Judge only the changed lines and their immediate context.

` + responseContract,

	"security": `You are a security engineer reviewing a pull request batch.
Look for: injection risks, missing authentication or authorization checks,
secrets or credentials in code, unsafe deserialization, path traversal,
SSRF, and weakened crypto or TLS settings. Judge only the changed lines and
their immediate context.

` + responseContract,

	"coverage": `You are reviewing a pull request batch for test coverage.
Relate each non-test code change to the test files in the batch. Flag
changed behavior that has no corresponding test change, and dead or
tautological tests. Documentation-only changes never need tests.

` + responseContract,
}

const fixSystemPrompt = `You are a senior engineer proposing fixes for blocking review findings
on a pull request batch. For each blocking finding, propose a minimal,
concrete code change that resolves it without changing unrelated behavior.
Present the fixes as unified diff hunks where possible, with a one-paragraph
summary first.`

// StagePrompt returns the system prompt for a stage.
func StagePrompt(stage string) (string, error) {
	p, ok := stagePrompts[stage]
	if !ok {
		return "", fmt.Errorf("no prompt for stage %q", stage)
	}
	return p, nil
}
