package builder

import "strings"

// filterOtelEnv drops the OpenTelemetry variables so compiler wrappers do not export spans.
func filterOtelEnv(env []string) []string {
	var filtered []string
	for _, e := range env {
		if strings.HasPrefix(e, "OTEL_") || strings.HasPrefix(e, "OTLP_") {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// withEnv appends extra variables, overriding earlier entries with the same name.
func withEnv(env []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return env
	}
	out := make([]string, 0, len(env)+len(extra))
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if _, ok := extra[name]; ok {
			continue
		}
		out = append(out, e)
	}
	for name, value := range extra {
		out = append(out, name+"="+value)
	}
	return out
}
