package verifiers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// customDefinition is one *.verifier.json file in the verifiers directory.
// command is the executable path, relative to the directory.
type customDefinition struct {
	Name     string `json:"name"`
	ToolName string `json:"tool_name"`
	Order    string `json:"order,omitempty"`
	Role     Role   `json:"role,omitempty"`
	Command  string `json:"command"`
}

// verifierRequest is what a custom verifier executable reads from stdin.
type verifierRequest struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result string          `json:"result"`
}

// verifierResponse is what it writes to stdout.
type verifierResponse struct {
	Outcome models.Outcome `json:"outcome"`
	Message string         `json:"message,omitempty"`
}

// runVerifierProcess runs one executable with the call payload on stdin and
// parses its stdout response. ctx cancellation kills the process.
func runVerifierProcess(ctx context.Context, exePath string, payload []byte) (models.Outcome, string, error) {
	cmd := exec.CommandContext(ctx, exePath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("run %s: %w", filepath.Base(exePath), err)
	}
	var resp verifierResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", "", fmt.Errorf("decode %s output: %w", filepath.Base(exePath), err)
	}
	return resp.Outcome, resp.Message, nil
}

// CustomVerifier executes a user-authored check. Sandboxed verifiers go
// through the worker pool; in-process ones run the subprocess on the caller
// goroutine (development mode). A verifier whose executable path escapes the
// verifiers directory is registered as a stub that always warns.
type CustomVerifier struct {
	name    string
	order   string
	role    Role
	exePath string
	stubMsg string
	pool    *WorkerPool // nil means in-process
}

func (v *CustomVerifier) Name() string  { return v.name }
func (v *CustomVerifier) Order() string { return v.order }

func (v *CustomVerifier) Verify(ctx context.Context, tool string, args json.RawMessage, result string) Verdict {
	if v.stubMsg != "" {
		return Verdict{Outcome: models.OutcomeWarn, Verifier: v.name, Message: v.stubMsg}
	}
	payload, err := json.Marshal(verifierRequest{Tool: tool, Args: args, Result: result})
	if err != nil {
		return Verdict{Outcome: models.OutcomeWarn, Verifier: v.name, Message: err.Error()}
	}

	if v.pool != nil {
		outcome, message := v.pool.Execute(ctx, v.role, v.exePath, payload)
		return Verdict{Outcome: outcome, Verifier: v.name, Message: message}
	}

	runCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	outcome, message, err := runVerifierProcess(runCtx, v.exePath, payload)
	if err != nil {
		return Verdict{Outcome: roleOutcome(v.role), Verifier: v.name, Message: err.Error()}
	}
	return Verdict{Outcome: outcome, Verifier: v.name, Message: message}
}

var _ Verifier = (*CustomVerifier)(nil)

// LoadCustomDir reads every *.verifier.json under dir and builds the custom
// binding set. Definitions that fail to parse are skipped with a log line;
// escaping command paths become warn stubs.
func LoadCustomDir(dir string, pool *WorkerPool, logger *slog.Logger) (map[string][]Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("verifiers: resolve dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}

	matches, err := filepath.Glob(filepath.Join(absDir, "*.verifier.json"))
	if err != nil {
		return nil, fmt.Errorf("verifiers: scan dir: %w", err)
	}

	bindings := make(map[string][]Verifier)
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable verifier definition", "path", path, "error", err)
			continue
		}
		var def customDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			logger.Warn("skipping malformed verifier definition", "path", path, "error", err)
			continue
		}
		if def.Name == "" || def.Command == "" {
			logger.Warn("skipping incomplete verifier definition", "path", path)
			continue
		}
		if def.ToolName == "" {
			def.ToolName = WildcardTool
		}
		if def.Role == "" {
			def.Role = RoleAny
		}
		v := buildCustom(absDir, def, pool, logger)
		bindings[def.ToolName] = append(bindings[def.ToolName], v)
	}
	return bindings, nil
}

func buildCustom(absDir string, def customDefinition, pool *WorkerPool, logger *slog.Logger) *CustomVerifier {
	v := &CustomVerifier{name: def.Name, order: def.Order, role: def.Role, pool: pool}

	exePath := filepath.Clean(filepath.Join(absDir, def.Command))
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	if !strings.HasPrefix(exePath, absDir+string(filepath.Separator)) {
		logger.Warn("verifier command escapes verifiers directory, registering stub",
			"verifier", def.Name, "command", def.Command)
		v.stubMsg = fmt.Sprintf("verifier %q disabled: command path escapes verifiers directory", def.Name)
		return v
	}
	v.exePath = exePath
	return v
}
