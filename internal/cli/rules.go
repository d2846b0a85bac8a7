package cli

import (
	"fmt"
	"log/slog"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/skyvault-io/skyvault/internal/policy"
)

// loadRuleDocument reads the rule file (spec.md §6.3) at path and
// validates it into a RuleDocument. viper already reads the teacher's
// own clouds.yaml-style config files, so the same dependency (not a
// dedicated YAML library) decodes the rule file here too.
func loadRuleDocument(path string) (*policy.RuleDocument, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading rule file %q: %w", path, err)
	}

	var rules []policy.Rule
	if err := v.UnmarshalKey("rules", &rules, func(dc *mapstructure.DecoderConfig) { dc.TagName = "json" }); err != nil {
		return nil, fmt.Errorf("decoding rule file %q: %w", path, err)
	}
	if raw, ok := v.Get("rules").([]any); ok {
		for i, entry := range raw {
			m, _ := entry.(map[string]any)
			match, _ := m["match"].(map[string]any)
			if i < len(rules) {
				policy.WarnUnknownMatchKeys(slog.Default(), rules[i].Name, match)
			}
		}
	}

	doc, err := policy.LoadRuleDocument(rules)
	if err != nil {
		return nil, fmt.Errorf("validating rule file %q: %w", path, err)
	}
	return doc, nil
}
