package verifiers

import (
	"log/slog"

	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// BuildFromConfig registers the declarative schema and pattern verifiers
// from configuration onto the runner. Definitions that fail to build are
// logged and skipped.
func BuildFromConfig(runner *Runner, defs []config.VerifierDefinition, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, def := range defs {
		toolName := def.ToolName
		if toolName == "" {
			toolName = WildcardTool
		}
		switch def.Type {
		case "schema":
			props := make(map[string]string, len(def.Properties))
			for field, spec := range def.Properties {
				props[field] = spec.Type
			}
			v, err := NewSchemaVerifier(def.Name, def.Order, def.Required, props)
			if err != nil {
				logger.Warn("skipping schema verifier", "name", def.Name, "error", err)
				continue
			}
			runner.Register(toolName, v)
		case "pattern":
			v := NewPatternVerifier(def.Name, def.Order, def.Match, def.Reject, models.Outcome(def.Outcome))
			runner.Register(toolName, v)
		default:
			logger.Warn("skipping verifier with unknown type", "name", def.Name, "type", def.Type)
		}
	}
}
