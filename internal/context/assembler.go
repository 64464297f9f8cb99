// Package context assembles the prompt handed to an agent each
// iteration: a stable, cacheable prefix plus a bounded window of recent
// output, error, and success rollups (spec §4.7).
package context

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dynamicContextCap = 5
	errorHistoryCap   = 5
	successPatternCap = 3

	dynamicContextWindow = 3
	errorHistoryWindow   = 2

	summaryHeadTailLen = 200
	largeOutputCutoff  = 500
)

// Assembler builds the prompt for each iteration and folds agent output
// back into its rollups between iterations.
type Assembler struct {
	promptFile     string
	promptText     string
	maxContextSize int
	cacheDir       string

	mu             sync.Mutex
	stablePrefix   string
	dynamicContext []string
	errorHistory   []string
	successPatterns []string
}

// New constructs an Assembler and extracts the stable prefix from the
// initial prompt. cacheDir is created if it doesn't exist.
func New(promptFile, promptText string, maxContextSize int, cacheDir string) *Assembler {
	if maxContextSize <= 0 {
		maxContextSize = 8000
	}
	_ = os.MkdirAll(cacheDir, 0o755)

	a := &Assembler{
		promptFile:     promptFile,
		promptText:     promptText,
		maxContextSize: maxContextSize,
		cacheDir:       cacheDir,
	}
	a.stablePrefix = extractStablePrefix(a.loadBaseContent())
	return a
}

// loadBaseContent returns prompt_text if set, else the prompt file's
// content, or "" if neither is available or readable.
func (a *Assembler) loadBaseContent() string {
	if a.promptText != "" {
		return a.promptText
	}
	data, err := os.ReadFile(a.promptFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// extractStablePrefix returns the contiguous leading run of lines that
// are Markdown headings or blank, stopping at the first line that is
// neither once the run has started.
func extractStablePrefix(content string) string {
	lines := strings.Split(content, "\n")
	var stable []string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#"):
			stable = append(stable, line)
		case len(stable) > 0 && strings.TrimSpace(line) == "":
			stable = append(stable, line)
		case len(stable) > 0:
			return strings.Join(stable, "\n")
		}
	}
	return strings.Join(stable, "\n")
}

// GetPrompt returns the assembled prompt for this iteration.
func (a *Assembler) GetPrompt() string {
	base := a.loadBaseContent()
	if base == "" {
		return ""
	}

	if len(base) > a.maxContextSize {
		return a.optimizePrompt(base)
	}

	a.mu.Lock()
	dynamic := append([]string(nil), a.dynamicContext...)
	errs := append([]string(nil), a.errorHistory...)
	a.mu.Unlock()

	if len(dynamic) > 0 {
		addition := "\n\n## Previous Context\n" + strings.Join(lastN(dynamic, dynamicContextWindow), "\n")
		if len(base)+len(addition) < a.maxContextSize {
			base += addition
		}
	}

	if len(errs) > 0 {
		addition := "\n\n## Recent Errors to Avoid\n" + strings.Join(lastN(errs, errorHistoryWindow), "\n")
		if len(base)+len(addition) < a.maxContextSize {
			base += addition
		}
	}

	return base
}

// optimizePrompt handles a base prompt larger than maxContextSize: cache
// the stable prefix once and reference it by hash, or fall back to
// summarizing the whole thing if there is no stable prefix.
func (a *Assembler) optimizePrompt(content string) string {
	a.mu.Lock()
	prefix := a.stablePrefix
	a.mu.Unlock()

	if prefix == "" {
		return a.summarizeContent(content)
	}

	hash := sha256.Sum256([]byte(prefix))
	prefixHash := hex.EncodeToString(hash[:])[:8]
	cacheFile := filepath.Join(a.cacheDir, fmt.Sprintf("prefix_%s.txt", prefixHash))

	if _, err := os.Stat(cacheFile); os.IsNotExist(err) {
		_ = os.WriteFile(cacheFile, []byte(prefix), 0o644)
	}

	dynamicPart := content
	if len(prefix) <= len(content) {
		dynamicPart = content[len(prefix):]
	}

	if len(dynamicPart) > a.maxContextSize-100 {
		dynamicPart = a.summarizeContent(dynamicPart)
	}

	return fmt.Sprintf("<!-- Using cached prefix %s -->\n%s", prefixHash, dynamicPart)
}

// summarizeContent keeps only the lines that carry signal (headings,
// IMPORTANT/ERROR markers, unchecked task items) and truncates with an
// ellipsis if the result is still over the limit.
func (a *Assembler) summarizeContent(content string) string {
	lines := strings.Split(content, "\n")
	var important []string
	for _, line := range lines {
		if strings.HasPrefix(line, "#") ||
			strings.Contains(line, "IMPORTANT") ||
			strings.Contains(line, "ERROR") ||
			strings.HasPrefix(line, "- [ ]") {
			important = append(important, line)
		}
	}

	summary := strings.Join(important, "\n")
	if len(summary) > a.maxContextSize {
		cut := a.maxContextSize - 100
		if cut < 0 {
			cut = 0
		}
		summary = summary[:cut] + "..."
	}
	return summary
}

// UpdateContext folds one iteration's agent output into the rollups:
// error lines into the error history, success/complete lines into the
// success patterns, and a (possibly summarized) copy into the dynamic
// context window.
func (a *Assembler) UpdateContext(output string) {
	lower := strings.ToLower(output)
	lines := strings.Split(output, "\n")

	a.mu.Lock()
	defer a.mu.Unlock()

	if strings.Contains(lower, "error") {
		var errLines []string
		for _, line := range lines {
			if strings.Contains(strings.ToLower(line), "error") {
				errLines = append(errLines, line)
				if len(errLines) == 2 {
					break
				}
			}
		}
		a.errorHistory = append(a.errorHistory, errLines...)
		a.errorHistory = lastN(a.errorHistory, errorHistoryCap)
	}

	if strings.Contains(lower, "success") || strings.Contains(lower, "complete") {
		for _, line := range lines {
			ll := strings.ToLower(line)
			if strings.Contains(ll, "success") || strings.Contains(ll, "complete") || strings.Contains(ll, "done") {
				a.successPatterns = append(a.successPatterns, line)
				break
			}
		}
		a.successPatterns = lastN(a.successPatterns, successPatternCap)
	}

	if len(output) > largeOutputCutoff {
		a.dynamicContext = append(a.dynamicContext, output[:summaryHeadTailLen]+"..."+output[len(output)-summaryHeadTailLen:])
	} else {
		a.dynamicContext = append(a.dynamicContext, output)
	}
	a.dynamicContext = lastN(a.dynamicContext, dynamicContextCap)
}

// AddErrorFeedback appends a synthetic error entry, e.g. from an
// exceptional driver error rather than agent output.
func (a *Assembler) AddErrorFeedback(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorHistory = append(a.errorHistory, "Error: "+msg)
	a.errorHistory = lastN(a.errorHistory, errorHistoryCap)
}

// Reset clears the dynamic rollups; the stable prefix survives.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dynamicContext = nil
	a.errorHistory = nil
	a.successPatterns = nil
}

// Stats is a snapshot of the assembler's internal bookkeeping, used for
// the status report surface.
type Stats struct {
	StablePrefixSize   int
	DynamicContextItems int
	ErrorHistoryItems  int
	SuccessPatterns    int
}

// Stats returns the current rollup sizes.
func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		StablePrefixSize:    len(a.stablePrefix),
		DynamicContextItems: len(a.dynamicContext),
		ErrorHistoryItems:   len(a.errorHistory),
		SuccessPatterns:     len(a.successPatterns),
	}
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
